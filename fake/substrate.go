// File: fake/substrate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory pipe.Substrate. Submissions are recorded instead of handed to
// a kernel; tests decide when and how each one completes via the Finish
// helpers, which dispatch through the bound source exactly like a selector
// draining the port would.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-np/api"
	"github.com/momentics/hioload-np/internal/overlap"
	"github.com/momentics/hioload-np/pipe"
)

// Outcome scripts the synchronous result of one submission. The zero value
// plus Pending=true is the default for every queue: accepted, completion
// deferred.
type Outcome struct {
	N       int
	Pending bool
	Err     error
}

type pendingOp struct {
	ov  *overlap.Overlapped
	buf []byte
}

// Substrate implements pipe.Substrate entirely in memory.
type Substrate struct {
	mu  sync.Mutex
	src pipe.CompletionSource

	connectQ []Outcome
	readQ    []Outcome
	writeQ   []Outcome

	pendingConn  *overlap.Overlapped
	pendingRead  *pendingOp
	pendingWrite *pendingOp

	connects    int
	cancelled   []string
	disconnects int
	closed      bool
	lastWrite   []byte
}

// NewSubstrate returns a substrate whose submissions all default to
// "accepted, completion pending".
func NewSubstrate() *Substrate { return &Substrate{} }

// Bind wires the substrate to the source whose Complete method the Finish
// helpers should invoke. Call it right after constructing the pipe.
func (s *Substrate) Bind(src pipe.CompletionSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = src
}

// QueueConnect scripts the next Connect submission result.
func (s *Substrate) QueueConnect(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectQ = append(s.connectQ, o)
}

// QueueRead scripts the next Read submission result.
func (s *Substrate) QueueRead(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readQ = append(s.readQ, o)
}

// QueueWrite scripts the next Write submission result.
func (s *Substrate) QueueWrite(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeQ = append(s.writeQ, o)
}

func pop(q *[]Outcome) Outcome {
	if len(*q) == 0 {
		return Outcome{Pending: true}
	}
	o := (*q)[0]
	*q = (*q)[1:]
	return o
}

// Connect implements pipe.Substrate.
func (s *Substrate) Connect(h overlap.Handle, ov *overlap.Overlapped) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	o := pop(&s.connectQ)
	if o.Err != nil {
		return false, o.Err
	}
	if !o.Pending {
		return true, nil
	}
	s.pendingConn = ov
	return false, nil
}

// Read implements pipe.Substrate.
func (s *Substrate) Read(h overlap.Handle, buf []byte, ov *overlap.Overlapped) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := pop(&s.readQ)
	if o.Err != nil {
		return 0, false, o.Err
	}
	s.pendingRead = &pendingOp{ov: ov, buf: buf}
	return o.N, o.Pending, nil
}

// Write implements pipe.Substrate.
func (s *Substrate) Write(h overlap.Handle, buf []byte, ov *overlap.Overlapped) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := pop(&s.writeQ)
	if o.Err != nil {
		return 0, false, o.Err
	}
	s.pendingWrite = &pendingOp{ov: ov, buf: buf}
	s.lastWrite = append([]byte(nil), buf...)
	return o.N, o.Pending, nil
}

// Cancel implements pipe.Substrate, recording which slot was cancelled.
func (s *Substrate) Cancel(h overlap.Handle, ov *overlap.Overlapped) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.pendingConn == ov:
		s.cancelled = append(s.cancelled, "connect")
	case s.pendingRead != nil && s.pendingRead.ov == ov:
		s.cancelled = append(s.cancelled, "read")
	case s.pendingWrite != nil && s.pendingWrite.ov == ov:
		s.cancelled = append(s.cancelled, "write")
	default:
		s.cancelled = append(s.cancelled, "unknown")
	}
	return nil
}

// Disconnect implements pipe.Substrate.
func (s *Substrate) Disconnect(h overlap.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

// CloseHandle implements pipe.Substrate.
func (s *Substrate) CloseHandle(h overlap.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FinishConnect completes the in-flight connect submission and returns the
// readiness events the handler produced.
func (s *Substrate) FinishConnect(err error) ([]api.Event, error) {
	s.mu.Lock()
	src, ov := s.src, s.pendingConn
	s.pendingConn = nil
	s.mu.Unlock()
	if ov == nil {
		return nil, fmt.Errorf("fake: no connect in flight")
	}
	var evs []api.Event
	src.Complete(ov, 0, err, &evs)
	return evs, nil
}

// FinishRead completes the in-flight read submission, copying data into
// the buffer the engine supplied, and returns the produced events.
func (s *Substrate) FinishRead(data []byte, err error) ([]api.Event, error) {
	s.mu.Lock()
	src, op := s.src, s.pendingRead
	s.pendingRead = nil
	s.mu.Unlock()
	if op == nil {
		return nil, fmt.Errorf("fake: no read in flight")
	}
	n := copy(op.buf, data)
	var evs []api.Event
	src.Complete(op.ov, uint32(n), err, &evs)
	return evs, nil
}

// FinishWrite completes the in-flight write submission crediting n bytes
// (negative means all of them) and returns the produced events.
func (s *Substrate) FinishWrite(n int, err error) ([]api.Event, error) {
	s.mu.Lock()
	src, op := s.src, s.pendingWrite
	s.pendingWrite = nil
	s.mu.Unlock()
	if op == nil {
		return nil, fmt.Errorf("fake: no write in flight")
	}
	if n < 0 || n > len(op.buf) {
		n = len(op.buf)
	}
	var evs []api.Event
	src.Complete(op.ov, uint32(n), err, &evs)
	return evs, nil
}

// Connects reports how many connect submissions were attempted.
func (s *Substrate) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Cancelled returns the slots cancellation was requested for, in order.
func (s *Substrate) Cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

// HasPendingRead reports whether a read submission is awaiting completion.
func (s *Substrate) HasPendingRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingRead != nil
}

// HasPendingWrite reports whether a write submission is awaiting completion.
func (s *Substrate) HasPendingWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingWrite != nil
}

// LastWrite returns a copy of the bytes most recently submitted for write.
func (s *Substrate) LastWrite() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.lastWrite...)
}

// HandleClosed reports whether the engine closed its OS handle.
func (s *Substrate) HandleClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Disconnects reports how many times Disconnect was invoked.
func (s *Substrate) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}
