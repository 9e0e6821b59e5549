// File: pipe/pipe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipe

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/momentics/hioload-np/api"
	"github.com/momentics/hioload-np/core/state"
	"github.com/momentics/hioload-np/internal/overlap"
	"github.com/momentics/hioload-np/pool"
)

// config carries construction tunables.
type config struct {
	poolCapacity int
	bufferSize   int
}

// Option tunes a NamedPipe at construction time.
type Option func(*config)

// WithPoolCapacity bounds the buffer pool to n recycled buffers.
func WithPoolCapacity(n int) Option {
	return func(c *config) { c.poolCapacity = n }
}

// WithBufferSize sets the per-operation buffer size in bytes.
func WithBufferSize(n int) Option {
	return func(c *config) { c.bufferSize = n }
}

// NamedPipe is the server end of a non-blocking named pipe. All methods
// are safe for concurrent use; none of them blocks. I/O calls return
// api.ErrWouldBlock until the pipe is registered with a selector, and
// again whenever the underlying direction has an operation outstanding.
type NamedPipe struct {
	inner  *inner
	closed atomic.Bool
}

// New creates the first server instance of the named pipe at path, for
// example `\\.\pipe\hioload`. The pipe is not yet registered with a
// selector and not yet connected to a client.
func New(path string, opts ...Option) (*NamedPipe, error) {
	cfg := config{poolCapacity: 8, bufferSize: pool.DefaultBufferSize}
	for _, o := range opts {
		o(&cfg)
	}
	h, err := overlap.CreatePipe(path, cfg.bufferSize, cfg.bufferSize)
	if err != nil {
		return nil, &api.Error{Code: api.ErrCodeTransport, Op: "create named pipe", Path: path, Err: err}
	}
	return NewFromHandle(h, path, osSubstrate{}, opts...), nil
}

// NewFromHandle wraps an existing overlapped pipe handle. The substrate
// argument is the seam the fake package plugs into for tests; production
// callers pass the OS substrate via New.
func NewFromHandle(h overlap.Handle, path string, sys Substrate, opts ...Option) *NamedPipe {
	cfg := config{poolCapacity: 8, bufferSize: pool.DefaultBufferSize}
	for _, o := range opts {
		o(&cfg)
	}
	return &NamedPipe{
		inner: newInner(h, path, sys, pool.New(cfg.poolCapacity, cfg.bufferSize)),
	}
}

// Connect attempts to accept a client connection, asynchronously.
//
// A nil return means a client is connected right now. api.ErrWouldBlock
// means either that a connect was already in progress or that one has just
// been submitted; in both cases the caller waits for a writable event and
// then calls TakeError to learn whether the connect succeeded. Any other
// error is a synchronous failure and leaves the pipe ready for another
// Connect.
func (p *NamedPipe) Connect() error {
	if p.closed.Load() {
		return api.ErrClosed
	}
	i := p.inner
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.io.conn == connActive {
		return api.ErrWouldBlock
	}
	inflight.track(&i.connect)
	done, err := i.sys.Connect(i.handle, &i.connect.ov)
	if err != nil {
		inflight.untrack(&i.connect)
		return err
	}
	if done {
		// Already connected, no completion will be queued.
		inflight.untrack(&i.connect)
		i.io.conn = connConnected
		i.postRegister(nil)
		return nil
	}
	i.io.conn = connActive
	return api.ErrWouldBlock
}

// TakeError takes and clears the deferred connect error. Callers invoke it
// after the writable event that follows a Connect: nil means a client is
// connected, anything else is why it is not.
func (p *NamedPipe) TakeError() error {
	i := p.inner
	i.mu.Lock()
	defer i.mu.Unlock()
	err := i.io.connErr
	i.io.connErr = nil
	return err
}

// Disconnect drops the connected client, if any. Afterwards Connect may be
// called again to accept a new one.
func (p *NamedPipe) Disconnect() error {
	if p.closed.Load() {
		return api.ErrClosed
	}
	i := p.inner
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.sys.Disconnect(i.handle); err != nil {
		return err
	}
	i.io.conn = connIdle
	return nil
}

// Read copies buffered pipe data into b. It never blocks: when no data has
// arrived yet it returns api.ErrWouldBlock, and when the remote end closed
// the pipe it returns 0, nil exactly once as a clean end-of-stream.
func (p *NamedPipe) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, api.ErrClosed
	}
	i := p.inner
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.io.registered {
		return 0, api.ErrWouldBlock
	}
	st, n, eff, err := state.ConsumeRead(i.io.read, b, overlap.IsBrokenPipe)
	i.io.read = st
	i.applyEffects(eff, nil)
	return n, err
}

// Write copies b into a pooled buffer and submits it to the kernel. Only
// one write may be in flight across all holders of the pipe; a second
// Write before the first completion is drained returns api.ErrWouldBlock.
//
// When the submission is accepted but deferred, the full length of b is
// reported as written; the completion handler reconciles short kernel
// counts internally by resubmitting the remaining tail.
func (p *NamedPipe) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, api.ErrClosed
	}
	i := p.inner
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.io.registered {
		return 0, api.ErrWouldBlock
	}
	st, err := state.BeginWrite(i.io.write)
	i.io.write = st
	if err != nil {
		return 0, err
	}
	buf := i.pool.Get()
	buf = append(buf, b...)
	inflight.track(&i.write)
	n, pending, err := i.sys.Write(i.handle, buf, &i.write.ov)
	if err != nil {
		inflight.untrack(&i.write)
		i.pool.Put(buf)
		return 0, err
	}
	if pending {
		i.io.write = state.Pending(buf, 0)
		return len(b), nil
	}
	i.io.write = state.Ready(buf, 0)
	return n, nil
}

// Flush is a no-op: every accepted write has already been handed to the
// kernel.
func (p *NamedPipe) Flush() error { return nil }

// Register attaches the pipe to a selector under tok and arms the initial
// read. Registering an already registered pipe fails; moving a pipe to a
// different selector instance fails always.
func (p *NamedPipe) Register(r Registry, tok api.Token) error {
	if p.closed.Load() {
		return api.ErrClosed
	}
	i := p.inner
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.io.checkSelector(r); err != nil {
		return err
	}
	if i.io.registered {
		return api.ErrAlreadyRegistered
	}
	if i.io.reg == nil {
		if err := r.Attach(p); err != nil {
			return err
		}
		i.io.reg = r
	}
	i.io.token = tok
	i.io.registered = true
	i.postRegister(nil)
	return nil
}

// Reregister replaces the delivery token of an attached pipe and re-arms
// the initial readiness sequence.
func (p *NamedPipe) Reregister(r Registry, tok api.Token) error {
	if p.closed.Load() {
		return api.ErrClosed
	}
	i := p.inner
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.io.checkSelector(r); err != nil {
		return err
	}
	if i.io.reg == nil {
		return api.ErrNotRegistered
	}
	i.io.token = tok
	i.io.registered = true
	i.postRegister(nil)
	return nil
}

// Deregister clears the delivery token. The pipe stays attached to its
// selector (completion-port associations are permanent) but all I/O calls
// return api.ErrWouldBlock until it is reregistered.
func (p *NamedPipe) Deregister(r Registry) error {
	if p.closed.Load() {
		return api.ErrClosed
	}
	i := p.inner
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.io.checkSelector(r); err != nil {
		return err
	}
	if !i.io.registered {
		return api.ErrNotRegistered
	}
	i.io.registered = false
	i.io.token = 0
	return nil
}

// Close releases the caller's reference to the pipe. An in-flight connect
// and an in-flight read are cancelled best-effort and their outcomes
// reported; an in-flight write is deliberately left to finish so accepted
// bytes are not dropped. The OS handle closes once the last in-flight
// operation has settled. Later I/O and registration calls fail with
// api.ErrClosed.
func (p *NamedPipe) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return api.ErrClosed
	}
	i := p.inner
	var errs []error
	i.mu.Lock()
	if i.io.conn == connActive {
		if err := i.sys.Cancel(i.handle, &i.connect.ov); err != nil {
			errs = append(errs, fmt.Errorf("cancel connect: %w", err))
		}
	}
	if i.io.read.Kind == state.KindPending {
		if err := i.sys.Cancel(i.handle, &i.read.ov); err != nil {
			errs = append(errs, fmt.Errorf("cancel read: %w", err))
		}
	}
	i.mu.Unlock()
	i.release()
	return errors.Join(errs...)
}

// Complete dispatches a completion notification to the slot it belongs
// to. Called by the selector with the slot address the kernel reported;
// the operation record's kind tag and back-pointer identify the handler.
func (p *NamedPipe) Complete(ov *overlap.Overlapped, qty uint32, opErr error, events *[]api.Event) {
	i := p.inner
	op := i.operationFor(ov)
	if op == nil {
		log.Printf("hioload-np: completion for unknown slot on %q", i.path)
		return
	}
	// Settle before dispatching: the handler may resubmit the same slot
	// (short-write tails), which starts a fresh track/settle cycle. The
	// entry is always present because submitters track before handing the
	// slot to the kernel.
	settled := inflight.settle(op)
	switch op.kind {
	case opConnect:
		i.connectDone(opErr, events)
	case opRead:
		i.readDone(int(qty), opErr, events)
	case opWrite:
		i.writeDone(int(qty), opErr, events)
	}
	if settled {
		i.release()
	}
}

// SysHandle returns the OS handle for completion-port association.
func (p *NamedPipe) SysHandle() overlap.Handle { return p.inner.handle }

// RawHandle exposes the OS handle for diagnostics and interop. Performing
// I/O on it directly bypasses the engine's state machine and is not
// supported.
func (p *NamedPipe) RawHandle() uintptr { return uintptr(p.inner.handle) }

// String implements fmt.Stringer.
func (p *NamedPipe) String() string {
	return fmt.Sprintf("NamedPipe(%s)", p.inner.path)
}
