// File: pipe/inner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipe

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-np/api"
	"github.com/momentics/hioload-np/core/state"
	"github.com/momentics/hioload-np/internal/overlap"
	"github.com/momentics/hioload-np/pool"
)

// connState is the connect half of the state machine, guarded by the same
// mutex as the direction states.
type connState uint8

const (
	connIdle connState = iota
	connActive
	connConnected
)

// ioState is everything the engine mutates under the main lock.
type ioState struct {
	reg        Registry
	token      api.Token
	registered bool

	read    state.State
	write   state.State
	conn    connState
	connErr error
}

// checkSelector rejects cross-selector moves. The first selector a pipe is
// attached to owns it for the lifetime of the handle.
func (io *ioState) checkSelector(r Registry) error {
	if io.reg != nil && r != nil && io.reg.ID() != r.ID() {
		return api.ErrWrongSelector
	}
	return nil
}

// inner is the engine core: the OS handle, the three completion slots and
// the locked I/O state. It is shared between the facade, the in-flight
// operation table and the selector, and lives until the last reference
// (caller-held or in-flight) is released.
type inner struct {
	connect operation
	read    operation
	write   operation

	handle overlap.Handle
	path   string
	sys    Substrate
	pool   *pool.Pool

	// refs counts the facade's reference plus one per tracked in-flight
	// operation. The holder that drops it to zero closes the handle.
	refs atomic.Int32

	mu sync.Mutex
	io ioState
}

func newInner(h overlap.Handle, path string, sys Substrate, p *pool.Pool) *inner {
	i := &inner{handle: h, path: path, sys: sys, pool: p}
	i.connect.kind, i.connect.pipe = opConnect, i
	i.read.kind, i.read.pipe = opRead, i
	i.write.kind, i.write.pipe = opWrite, i
	i.refs.Store(1)
	return i
}

// operationFor matches a kernel-reported completion slot address against
// the three slots this core owns.
func (i *inner) operationFor(ov *overlap.Overlapped) *operation {
	switch ov {
	case &i.connect.ov:
		return &i.connect
	case &i.read.ov:
		return &i.read
	case &i.write.ov:
		return &i.write
	}
	return nil
}

// release drops one reference. The last reference tears the core down:
// by then every in-flight operation has settled, so closing the handle is
// safe even when a write was still pending at Close time.
func (i *inner) release() {
	if i.refs.Add(-1) != 0 {
		return
	}
	if err := i.sys.CloseHandle(i.handle); err != nil {
		log.Printf("hioload-np: closing pipe %q: %v", i.path, err)
	}
}

// scheduleRead submits the next overlapped read when the read direction is
// idle. It reports whether a read is now active (pending, buffered or
// failed); false means no client has connected yet and the caller should
// wait for a connect completion instead.
//
// Caller holds i.mu.
func (i *inner) scheduleRead(events *[]api.Event) bool {
	if i.io.read.Kind != state.KindIdle {
		return true
	}
	buf := i.pool.Get()
	inflight.track(&i.read)
	_, _, err := i.sys.Read(i.handle, buf[:cap(buf)], &i.read.ov)
	switch {
	case err == nil:
		// Even a synchronously satisfied read reports its byte count
		// through the completion port, so the state is pending either way.
		i.io.read = state.Pending(buf, 0)
		return true
	case overlap.IsPipeListening(err):
		inflight.untrack(&i.read)
		i.pool.Put(buf)
		return false
	default:
		inflight.untrack(&i.read)
		i.pool.Put(buf)
		i.io.read = state.Failed(err)
		i.notifyReadable(events)
		return true
	}
}

// resubmitWrite pushes the unwritten tail of the current write buffer back
// to the kernel after a short completion.
//
// Caller holds i.mu; i.io.write is state.Pending with the tail cursor.
func (i *inner) resubmitWrite(events *[]api.Event) {
	st := i.io.write
	inflight.track(&i.write)
	_, pending, err := i.sys.Write(i.handle, st.Buf[st.Pos:], &i.write.ov)
	if err != nil {
		inflight.untrack(&i.write)
		i.io.write = state.Failed(err)
		i.notifyWritable(events)
		return
	}
	if !pending {
		i.io.write = state.Ready(st.Buf, st.Pos)
	}
}

// postRegister runs whenever the pipe becomes registered or a connect
// completes: it arms the read direction and, if a read went active and no
// write is outstanding, predicts writability instead of waiting for a
// first kernel event.
//
// Caller holds i.mu.
func (i *inner) postRegister(events *[]api.Event) {
	if i.scheduleRead(events) && i.io.write.Kind == state.KindIdle {
		i.notifyWritable(events)
	}
}

func (i *inner) notifyReadable(events *[]api.Event) {
	i.notify(api.Event{Token: i.io.token, Readable: true}, events)
}

func (i *inner) notifyWritable(events *[]api.Event) {
	i.notify(api.Event{Token: i.io.token, Writable: true}, events)
}

// notify raises a readiness event for the registered token, either into
// the selector's output list (inside a Poll) or through Wake.
func (i *inner) notify(ev api.Event, events *[]api.Event) {
	if !i.io.registered {
		return
	}
	if events != nil {
		*events = append(*events, ev)
		return
	}
	if i.io.reg != nil {
		i.io.reg.Wake(ev)
	}
}

// applyEffects performs the side effects a pure transition asked for.
//
// Caller holds i.mu.
func (i *inner) applyEffects(eff state.Effects, events *[]api.Event) {
	if eff.PutBuffer != nil {
		i.pool.Put(eff.PutBuffer)
	}
	if eff.ScheduleRead {
		i.scheduleRead(events)
	}
	if eff.NotifyReadable {
		i.notifyReadable(events)
	}
	if eff.NotifyWritable {
		i.notifyWritable(events)
	}
}

// connectDone handles a connect completion. On failure the error is parked
// for TakeError and the pipe is flagged writable so the caller wakes up
// and inspects it.
func (i *inner) connectDone(opErr error, events *[]api.Event) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if opErr != nil {
		i.io.conn = connIdle
		i.io.connErr = opErr
		i.notifyWritable(events)
		return
	}
	i.io.conn = connConnected
	i.postRegister(events)
}

// readDone handles a read completion carrying n bytes or an error.
func (i *inner) readDone(n int, opErr error, events *[]api.Event) {
	i.mu.Lock()
	defer i.mu.Unlock()
	st, eff := state.ReadDone(i.io.read, n, opErr)
	i.io.read = st
	i.applyEffects(eff, events)
}

// writeDone handles a write completion, resubmitting the tail when the
// kernel accepted fewer bytes than submitted.
func (i *inner) writeDone(n int, opErr error, events *[]api.Event) {
	i.mu.Lock()
	defer i.mu.Unlock()
	st, eff := state.WriteDone(i.io.write, n, opErr)
	i.io.write = st
	if eff.ResubmitWrite {
		i.resubmitWrite(events)
		return
	}
	i.applyEffects(eff, events)
}
