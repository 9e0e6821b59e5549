// File: poll/selector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion-port selector: drains kernel completion notifications,
// dispatches them to the owning pipe's handlers and delivers the readiness
// events they produce. Platform syscalls live in internal/overlap, so this
// file is portable; on non-Windows builds New simply fails.

package poll

import (
	"log"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/momentics/hioload-np/api"
	"github.com/momentics/hioload-np/internal/overlap"
	"github.com/momentics/hioload-np/pipe"
)

// wakeKey marks zero-byte packets posted by Wake. Source keys start at 1.
const wakeKey uintptr = 0

// Selector owns one I/O completion port and the registry of sources
// attached to it. A Selector is safe for concurrent use, though a single
// polling goroutine is the intended pattern.
type Selector struct {
	id   uuid.UUID
	port overlap.Handle

	mu      sync.Mutex
	sources map[uintptr]pipe.CompletionSource
	nextKey uintptr
	wakes   *queue.Queue
	// pending holds completion events that overflowed the caller's slice.
	// They predate anything in wakes and are delivered first.
	pending []api.Event
	closed  bool
}

// New creates a selector with a fresh completion port.
func New() (*Selector, error) {
	port, err := overlap.NewPort()
	if err != nil {
		return nil, &api.Error{Code: api.ErrCodeTransport, Op: "create completion port", Err: err}
	}
	return &Selector{
		id:      uuid.New(),
		port:    port,
		sources: make(map[uintptr]pipe.CompletionSource),
		wakes:   queue.New(),
	}, nil
}

// ID returns the selector's instance identity.
func (s *Selector) ID() uuid.UUID { return s.id }

// Attach associates the source's handle with the completion port under a
// fresh key. Implements pipe.Registry.
func (s *Selector) Attach(src pipe.CompletionSource) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return api.ErrClosed
	}
	s.nextKey++
	key := s.nextKey
	s.sources[key] = src
	s.mu.Unlock()

	if err := overlap.AttachToPort(s.port, src.SysHandle(), key); err != nil {
		s.mu.Lock()
		delete(s.sources, key)
		s.mu.Unlock()
		return &api.Error{Code: api.ErrCodeAssociation, Op: "associate handle", Err: err}
	}
	return nil
}

// Wake queues ev for the next Poll and nudges the port so a blocked Poll
// returns promptly. Implements pipe.Registry.
func (s *Selector) Wake(ev api.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wakes.Add(ev)
	s.mu.Unlock()
	if err := overlap.PostWake(s.port, wakeKey); err != nil {
		log.Printf("hioload-np: selector wake: %v", err)
	}
}

// Poll fills events with readiness notifications and returns how many were
// written. It waits up to timeoutMs milliseconds for the first
// notification (negative waits forever) and then only drains what is
// already queued.
func (s *Selector) Poll(events []api.Event, timeoutMs int) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	out := make([]api.Event, 0, len(events))
	out = s.drainWakes(out, len(events))
	wait := timeoutMs
	if len(out) > 0 {
		wait = 0
	}

	for len(out) < len(events) {
		c, ok, err := overlap.WaitPort(s.port, wait)
		if err != nil {
			return s.deliver(events, out), err
		}
		if !ok {
			break
		}
		wait = 0
		if c.Ov == nil {
			// Wake packet.
			out = s.drainWakes(out, len(events))
			continue
		}
		s.mu.Lock()
		src := s.sources[c.Key]
		s.mu.Unlock()
		if src == nil {
			log.Printf("hioload-np: completion for unknown key %d", c.Key)
			continue
		}
		// Dispatch outside the selector lock; handlers take the pipe lock.
		src.Complete(c.Ov, c.Qty, c.Err, &out)
	}
	return s.deliver(events, out), nil
}

// drainWakes moves queued events into out, up to max entries: first the
// overflow of earlier completions, then the synthetic wake events.
func (s *Selector) drainWakes(out []api.Event, max int) []api.Event {
	s.mu.Lock()
	for len(out) < max && len(s.pending) > 0 {
		out = append(out, s.pending[0])
		s.pending = s.pending[1:]
	}
	for len(out) < max && s.wakes.Length() > 0 {
		out = append(out, s.wakes.Remove().(api.Event))
	}
	s.mu.Unlock()
	return out
}

// deliver copies out into the caller's slice; anything beyond its length
// (a handler may produce two events for one completion) is kept for the
// next Poll, ahead of any wake events queued in the meantime so per-source
// ordering survives the overflow.
func (s *Selector) deliver(events, out []api.Event) int {
	n := copy(events, out)
	if n < len(out) {
		s.mu.Lock()
		s.pending = append(s.pending, out[n:]...)
		s.mu.Unlock()
	}
	return n
}

// Close shuts the completion port down. Pipes attached to this selector
// become unpollable; their own Close still releases their handles.
func (s *Selector) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return api.ErrClosed
	}
	s.closed = true
	s.mu.Unlock()
	return overlap.CloseHandle(s.port)
}
