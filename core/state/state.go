// File: core/state/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pure per-direction state machine for the named-pipe engine. Each
// transition is a plain function taking the old state and an event and
// returning the new state plus the side effects the engine has to perform.
// Nothing in this package touches the OS, so the whole machine is testable
// without a completion port.

package state

import "github.com/momentics/hioload-np/api"

// Kind enumerates the variants of a direction state.
type Kind uint8

const (
	// KindIdle: no operation outstanding, no buffered result.
	KindIdle Kind = iota
	// KindPending: an asynchronous operation has been submitted and has
	// not completed yet. The buffer belongs to the kernel until then.
	KindPending
	// KindReady: data arrived (read side) or was accepted synchronously
	// (write side) and has not been fully consumed.
	KindReady
	// KindFailed: the last operation completed with an error nobody has
	// observed yet.
	KindFailed
)

// State is the tagged union tracking one direction of a pipe.
//
// Buf and Pos are meaningful for KindPending and KindReady, Err for
// KindFailed. Invariant: Pos <= len(Buf).
type State struct {
	Kind Kind
	Buf  []byte
	Pos  int
	Err  error
}

// Idle is the zero value, spelled out for readability at call sites.
var Idle = State{}

// Pending builds a KindPending state owning buf.
func Pending(buf []byte, pos int) State { return State{Kind: KindPending, Buf: buf, Pos: pos} }

// Ready builds a KindReady state with a consumption cursor.
func Ready(buf []byte, pos int) State { return State{Kind: KindReady, Buf: buf, Pos: pos} }

// Failed builds a KindFailed state.
func Failed(err error) State { return State{Kind: KindFailed, Err: err} }

// Effects describes what the engine must do after applying a transition.
type Effects struct {
	// PutBuffer, when non-nil, is a buffer whose contents were fully
	// consumed and which should go back to the pool.
	PutBuffer []byte
	// ScheduleRead asks the engine to submit the next asynchronous read.
	ScheduleRead bool
	// ResubmitWrite asks the engine to submit the unwritten tail
	// Buf[Pos:] of the new state's buffer.
	ResubmitWrite bool
	// NotifyReadable / NotifyWritable ask the engine to raise a readiness
	// event for the registered token.
	NotifyReadable bool
	NotifyWritable bool
}

// ConsumeRead applies a caller read of up to len(dst) bytes to the read
// direction. isEOF classifies transport errors that mean "remote end closed
// the pipe"; those surface as a clean zero-byte read instead of an error.
//
// Returned values: new state, bytes copied into dst, effects, error.
func ConsumeRead(s State, dst []byte, isEOF func(error) bool) (State, int, Effects, error) {
	switch s.Kind {
	case KindIdle:
		// Unreachable while registered (registration always schedules a
		// read), kept as a would-block answer for safety.
		return s, 0, Effects{}, api.ErrWouldBlock

	case KindPending:
		return s, 0, Effects{}, api.ErrWouldBlock

	case KindReady:
		n := copy(dst, s.Buf[s.Pos:])
		next := s.Pos + n
		if next == len(s.Buf) {
			// Fully drained. The buffer goes back to the pool and the
			// next read gets scheduled so KindReady with an exhausted
			// cursor is never observable from outside.
			return Idle, n, Effects{PutBuffer: s.Buf, ScheduleRead: true}, nil
		}
		return Ready(s.Buf, next), n, Effects{}, nil

	case KindFailed:
		eff := Effects{ScheduleRead: true}
		if isEOF != nil && isEOF(s.Err) {
			return Idle, 0, eff, nil
		}
		return Idle, 0, eff, s.Err

	default:
		return s, 0, Effects{}, api.ErrWouldBlock
	}
}

// BeginWrite gates a caller write against the write direction. A nil error
// means the engine may submit; the returned state is already updated for
// the drained-error case.
func BeginWrite(s State) (State, error) {
	switch s.Kind {
	case KindIdle:
		return s, nil
	case KindFailed:
		// Consume the stored error, reset to idle.
		return Idle, s.Err
	default:
		// A previous write has not been drained yet.
		return s, api.ErrWouldBlock
	}
}

// ReadDone applies a read completion carrying n bytes or an error. Stray
// completions (state not pending, e.g. after a cancellation race) leave the
// state untouched and cause no effects.
func ReadDone(s State, n int, err error) (State, Effects) {
	if s.Kind != KindPending {
		return s, Effects{}
	}
	if err != nil {
		return Failed(err), Effects{NotifyReadable: true}
	}
	return Ready(s.Buf[:n], 0), Effects{NotifyReadable: true}
}

// WriteDone applies a write completion. The write direction may be in
// KindPending (deferred submission) or KindReady (bytes accepted
// synchronously, completion drained now); both advance the cursor by n.
// A short completion yields ResubmitWrite for the remaining tail.
func WriteDone(s State, n int, err error) (State, Effects) {
	if s.Kind != KindPending && s.Kind != KindReady {
		return s, Effects{}
	}
	if err != nil {
		return Failed(err), Effects{NotifyWritable: true}
	}
	pos := s.Pos + n
	if pos >= len(s.Buf) {
		return Idle, Effects{PutBuffer: s.Buf, NotifyWritable: true}
	}
	return Pending(s.Buf, pos), Effects{ResubmitWrite: true}
}
