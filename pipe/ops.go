// File: pipe/ops.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipe

import (
	"sync"

	"github.com/momentics/hioload-np/internal/overlap"
)

// opKind tags which of the three slots an operation record is.
type opKind uint8

const (
	opConnect opKind = iota
	opRead
	opWrite
)

// operation is one completion-request slot. Every inner owns exactly three,
// one per kind, and hands the kernel the address of the embedded ov. The
// owning pipe is recovered from a completion notification by matching that
// address against the three slots and following the explicit back-pointer;
// no address arithmetic is involved.
type operation struct {
	// ov stays the first field so a slot and its OVERLAPPED share an
	// address, mirroring the layout the kernel hands back.
	ov   overlap.Overlapped
	kind opKind
	pipe *inner
	id   uint64 // in-flight table key, 0 while settled
}

// opTable is the process-wide in-flight operation table. A submission that
// may complete asynchronously is tracked here until its terminal outcome is
// observed. Tracking serves two purposes: it holds the reference that keeps
// the engine core alive on behalf of the kernel, and it keeps the operation
// (and through it the I/O buffer) reachable while the kernel may still
// write to it.
type opTable struct {
	mu   sync.Mutex
	next uint64
	ops  map[uint64]*operation
}

var inflight = opTable{ops: make(map[uint64]*operation)}

// track inserts op under a fresh identifier and retains its pipe. It must
// run before the submission is handed to the kernel: the completion may be
// dispatched before the submitting call even returns, and settle has to
// find the entry whenever that happens.
func (t *opTable) track(op *operation) {
	t.mu.Lock()
	t.next++
	op.id = t.next
	t.ops[op.id] = op
	t.mu.Unlock()
	op.pipe.refs.Add(1)
}

// settle removes op from the table. Exactly one caller observes true per
// track, no matter how completion and cancellation race; that caller must
// release the reference track retained.
func (t *opTable) settle(op *operation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op.id == 0 {
		return false
	}
	if _, ok := t.ops[op.id]; !ok {
		return false
	}
	delete(t.ops, op.id)
	op.id = 0
	return true
}

// untrack reverses a track whose submission never reached the kernel, so
// no completion will ever settle it.
func (t *opTable) untrack(op *operation) {
	if t.settle(op) {
		op.pipe.release()
	}
}

// size reports the number of in-flight operations.
func (t *opTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// InflightOperations reports how many submissions, across all pipes in the
// process, still await their terminal outcome. Diagnostics only.
func InflightOperations() int { return inflight.size() }
