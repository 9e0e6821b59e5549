// File: pipe/pipe_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipe_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/momentics/hioload-np/api"
	"github.com/momentics/hioload-np/fake"
	"github.com/momentics/hioload-np/internal/overlap"
	"github.com/momentics/hioload-np/pipe"
)

var errBoom = errors.New("boom")

func newTestPipe(t *testing.T) (*pipe.NamedPipe, *fake.Substrate, *fake.Registry) {
	t.Helper()
	sys := fake.NewSubstrate()
	p := pipe.NewFromHandle(overlap.Handle(1), `\\.\pipe\hioload-test`, sys)
	sys.Bind(p)
	return p, sys, fake.NewRegistry()
}

func registered(t *testing.T) (*pipe.NamedPipe, *fake.Substrate, *fake.Registry) {
	t.Helper()
	p, sys, reg := newTestPipe(t)
	if err := p.Register(reg, 7); err != nil {
		t.Fatalf("register: %v", err)
	}
	return p, sys, reg
}

func hasEvent(evs []api.Event, tok api.Token, readable, writable bool) bool {
	for _, ev := range evs {
		if ev.Token == tok && ev.Readable == readable && ev.Writable == writable {
			return true
		}
	}
	return false
}

func finishRead(t *testing.T, sys *fake.Substrate, data []byte, err error) []api.Event {
	t.Helper()
	evs, ferr := sys.FinishRead(data, err)
	if ferr != nil {
		t.Fatalf("finish read: %v", ferr)
	}
	return evs
}

func finishWrite(t *testing.T, sys *fake.Substrate, n int, err error) []api.Event {
	t.Helper()
	evs, ferr := sys.FinishWrite(n, err)
	if ferr != nil {
		t.Fatalf("finish write: %v", ferr)
	}
	return evs
}

func TestUnregisteredIOIsIdempotentNotReady(t *testing.T) {
	p, sys, _ := newTestPipe(t)
	buf := make([]byte, 8)
	for i := 0; i < 3; i++ {
		if _, err := p.Read(buf); !errors.Is(err, api.ErrWouldBlock) {
			t.Fatalf("read %d: %v, want would-block", i, err)
		}
		if _, err := p.Write([]byte("x")); !errors.Is(err, api.ErrWouldBlock) {
			t.Fatalf("write %d: %v, want would-block", i, err)
		}
	}
	if sys.HasPendingRead() || sys.HasPendingWrite() {
		t.Fatal("unregistered I/O must not reach the substrate")
	}
}

func TestRegisterArmsReadAndPredictsWritable(t *testing.T) {
	p, sys, reg := registered(t)
	if !sys.HasPendingRead() {
		t.Fatal("registration must schedule the first read")
	}
	if !hasEvent(reg.TakeEvents(), 7, false, true) {
		t.Fatal("registration must predict writability")
	}
	if reg.AttachedCount() != 1 {
		t.Fatalf("attached %d times, want 1", reg.AttachedCount())
	}
	_ = p
}

func TestRegistrationContract(t *testing.T) {
	p, _, reg := registered(t)

	if err := p.Register(reg, 8); !errors.Is(err, api.ErrAlreadyRegistered) {
		t.Fatalf("double register: %v", err)
	}
	other := fake.NewRegistry()
	if err := p.Reregister(other, 8); !errors.Is(err, api.ErrWrongSelector) {
		t.Fatalf("cross-selector reregister: %v", err)
	}
	if err := p.Deregister(other); !errors.Is(err, api.ErrWrongSelector) {
		t.Fatalf("cross-selector deregister: %v", err)
	}

	if err := p.Deregister(reg); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := p.Read(make([]byte, 4)); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("deregistered read: %v", err)
	}
	if err := p.Deregister(reg); !errors.Is(err, api.ErrNotRegistered) {
		t.Fatalf("double deregister: %v", err)
	}
	if err := p.Reregister(reg, 9); err != nil {
		t.Fatalf("reregister: %v", err)
	}
}

func TestReregisterRequiresAttachment(t *testing.T) {
	p, _, reg := newTestPipe(t)
	if err := p.Reregister(reg, 1); !errors.Is(err, api.ErrNotRegistered) {
		t.Fatalf("reregister before register: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	p, sys, _ := registered(t)

	// Writes, split across calls, arrive at the substrate in order.
	var sent bytes.Buffer
	for _, chunk := range []string{"hello ", "named ", "pipes"} {
		n, err := p.Write([]byte(chunk))
		if err != nil || n != len(chunk) {
			t.Fatalf("write %q: n=%d err=%v", chunk, n, err)
		}
		if got := sys.LastWrite(); string(got) != chunk {
			t.Fatalf("submitted %q, want %q", got, chunk)
		}
		sent.WriteString(chunk)
		if !hasEvent(finishWrite(t, sys, -1, nil), 7, false, true) {
			t.Fatal("drained write must raise writable")
		}
	}

	// Reads with arbitrarily small caller buffers preserve the sequence.
	var got bytes.Buffer
	for _, chunk := range []string{"hello ", "named ", "pipes"} {
		if !hasEvent(finishRead(t, sys, []byte(chunk), nil), 7, true, false) {
			t.Fatal("arrived data must raise readable")
		}
		dst := make([]byte, 3)
		for {
			n, err := p.Read(dst)
			if errors.Is(err, api.ErrWouldBlock) {
				break
			}
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			got.Write(dst[:n])
		}
	}
	if got.String() != sent.String() {
		t.Fatalf("round trip mismatch: %q != %q", got.String(), sent.String())
	}
}

func TestSecondWriteWhileOutstandingIsRejected(t *testing.T) {
	p, sys, _ := registered(t)

	if _, err := p.Write([]byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := p.Write([]byte("second")); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("overlapping write: %v, want would-block", err)
	}
	finishWrite(t, sys, -1, nil)

	if _, err := p.Write([]byte("second")); err != nil {
		t.Fatalf("write after drain: %v", err)
	}
	if got := sys.LastWrite(); string(got) != "second" {
		t.Fatalf("order broken: substrate saw %q", got)
	}
}

func TestShortWriteResubmitsTail(t *testing.T) {
	p, sys, _ := registered(t)

	if n, _ := p.Write([]byte("abcdef")); n != 6 {
		t.Fatalf("optimistic count = %d, want 6", n)
	}
	evs := finishWrite(t, sys, 2, nil)
	if len(evs) != 0 {
		t.Fatalf("short completion must stay internal, got %v", evs)
	}
	if got := sys.LastWrite(); string(got) != "cdef" {
		t.Fatalf("resubmitted tail = %q, want %q", got, "cdef")
	}
	if !hasEvent(finishWrite(t, sys, -1, nil), 7, false, true) {
		t.Fatal("final completion must raise writable")
	}
	if _, err := p.Write([]byte("x")); err != nil {
		t.Fatalf("write after reconciliation: %v", err)
	}
}

func TestSyncAcceptedWriteStillDrainsCompletion(t *testing.T) {
	p, sys, _ := registered(t)

	sys.QueueWrite(fake.Outcome{N: 3})
	n, err := p.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("sync write: n=%d err=%v", n, err)
	}
	// The kernel's notification has not been drained yet.
	if _, err := p.Write([]byte("x")); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("write before drain: %v", err)
	}
	finishWrite(t, sys, -1, nil)
	if _, err := p.Write([]byte("x")); err != nil {
		t.Fatalf("write after drain: %v", err)
	}
}

func TestWriteErrors(t *testing.T) {
	p, sys, _ := registered(t)

	// Synchronous submission failure leaves the direction usable.
	sys.QueueWrite(fake.Outcome{Err: errBoom})
	if _, err := p.Write([]byte("a")); !errors.Is(err, errBoom) {
		t.Fatalf("sync failure: %v", err)
	}

	// Deferred failure surfaces on the next write, exactly once.
	if _, err := p.Write([]byte("b")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !hasEvent(finishWrite(t, sys, 0, errBoom), 7, false, true) {
		t.Fatal("failed completion must raise writable")
	}
	if _, err := p.Write([]byte("c")); !errors.Is(err, errBoom) {
		t.Fatalf("drained error: %v", err)
	}
	if _, err := p.Write([]byte("d")); err != nil {
		t.Fatalf("write after drain: %v", err)
	}
}

func TestSingleConnect(t *testing.T) {
	p, sys, _ := registered(t)

	if err := p.Connect(); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("deferred connect: %v", err)
	}
	if err := p.Connect(); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("second connect: %v", err)
	}
	if sys.Connects() != 1 {
		t.Fatalf("connect submitted %d times, want 1", sys.Connects())
	}

	evs, err := sys.FinishConnect(nil)
	if err != nil {
		t.Fatalf("finish connect: %v", err)
	}
	if !hasEvent(evs, 7, false, true) {
		t.Fatal("accepted connect must flag writability")
	}
	if err := p.TakeError(); err != nil {
		t.Fatalf("take error after success: %v", err)
	}
}

func TestConnectImmediate(t *testing.T) {
	p, sys, _ := registered(t)
	sys.QueueConnect(fake.Outcome{})
	if err := p.Connect(); err != nil {
		t.Fatalf("immediate connect: %v", err)
	}
}

func TestConnectSyncErrorAllowsRetry(t *testing.T) {
	p, sys, _ := registered(t)
	sys.QueueConnect(fake.Outcome{Err: errBoom})
	if err := p.Connect(); !errors.Is(err, errBoom) {
		t.Fatalf("sync connect failure: %v", err)
	}
	sys.QueueConnect(fake.Outcome{})
	if err := p.Connect(); err != nil {
		t.Fatalf("retry after sync failure: %v", err)
	}
}

func TestDeferredConnectErrorViaTakeError(t *testing.T) {
	p, sys, _ := registered(t)

	if err := p.Connect(); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("connect: %v", err)
	}
	evs, err := sys.FinishConnect(errBoom)
	if err != nil {
		t.Fatalf("finish connect: %v", err)
	}
	if !hasEvent(evs, 7, false, true) {
		t.Fatal("failed connect must still wake the caller")
	}
	if err := p.TakeError(); !errors.Is(err, errBoom) {
		t.Fatalf("take error: %v", err)
	}
	if err := p.TakeError(); err != nil {
		t.Fatalf("second take error: %v", err)
	}
}

func TestBrokenPipeReadsAsEOFOnce(t *testing.T) {
	p, sys, _ := registered(t)

	finishRead(t, sys, nil, overlap.ErrBrokenPipe)
	dst := make([]byte, 8)
	n, err := p.Read(dst)
	if n != 0 || err != nil {
		t.Fatalf("broken pipe read: n=%d err=%v, want clean EOF", n, err)
	}
	// The next read resumed normal scheduling.
	if !sys.HasPendingRead() {
		t.Fatal("EOF must reschedule the read")
	}
	if _, err := p.Read(dst); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("read after EOF: %v", err)
	}
	finishRead(t, sys, []byte("more"), nil)
	if n, err := p.Read(dst); err != nil || string(dst[:n]) != "more" {
		t.Fatalf("read after resume: %q %v", dst[:n], err)
	}
}

func TestReadErrorPropagatesAndReschedules(t *testing.T) {
	p, sys, _ := registered(t)

	finishRead(t, sys, nil, errBoom)
	if _, err := p.Read(make([]byte, 4)); !errors.Is(err, errBoom) {
		t.Fatalf("read error: %v", err)
	}
	if !sys.HasPendingRead() {
		t.Fatal("drained error must reschedule the read")
	}
}

func TestReadSubmitFailureFlagsReadable(t *testing.T) {
	p, sys, reg := newTestPipe(t)
	sys.QueueRead(fake.Outcome{Err: errBoom})
	if err := p.Register(reg, 7); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !hasEvent(reg.TakeEvents(), 7, true, false) {
		t.Fatal("failed submission must raise readable immediately")
	}
	if _, err := p.Read(make([]byte, 4)); !errors.Is(err, errBoom) {
		t.Fatalf("read: %v", err)
	}
}

func TestNoClientYetLeavesReadIdle(t *testing.T) {
	p, sys, reg := newTestPipe(t)
	sys.QueueRead(fake.Outcome{Err: overlap.ErrPipeListening})
	if err := p.Register(reg, 7); err != nil {
		t.Fatalf("register: %v", err)
	}
	if sys.HasPendingRead() {
		t.Fatal("listening pipe must not hold a read")
	}
	// No read active means no predicted writability either.
	if evs := reg.TakeEvents(); len(evs) != 0 {
		t.Fatalf("unexpected events: %v", evs)
	}
	if _, err := p.Read(make([]byte, 4)); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("read: %v", err)
	}
}

func TestTeardownCancelsReadNotWrite(t *testing.T) {
	baseline := pipe.InflightOperations()
	p, sys, _ := registered(t)
	if _, err := p.Write([]byte("tail")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := pipe.InflightOperations(); got != baseline+2 {
		t.Fatalf("in-flight table holds %d ops, want %d", got, baseline+2)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	cancelled := sys.Cancelled()
	if len(cancelled) != 1 || cancelled[0] != "read" {
		t.Fatalf("cancelled %v, want [read] only", cancelled)
	}
	if sys.HandleClosed() {
		t.Fatal("handle must stay open while operations are in flight")
	}

	// The straggler completions drain the in-flight table; the last one
	// releases the handle.
	finishRead(t, sys, nil, errBoom)
	if sys.HandleClosed() {
		t.Fatal("write still in flight")
	}
	finishWrite(t, sys, -1, nil)
	if !sys.HandleClosed() {
		t.Fatal("last settled operation must close the handle")
	}
	if got := pipe.InflightOperations(); got != baseline {
		t.Fatalf("in-flight table not drained: %d ops, want %d", got, baseline)
	}
}

func TestTeardownWithOnlyWritePending(t *testing.T) {
	p, sys, reg := newTestPipe(t)
	sys.QueueRead(fake.Outcome{Err: overlap.ErrPipeListening})
	if err := p.Register(reg, 7); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := p.Write([]byte("keep me")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := sys.Cancelled(); len(got) != 0 {
		t.Fatalf("a pending write must never be cancelled, got %v", got)
	}
	finishWrite(t, sys, -1, nil)
	if !sys.HandleClosed() {
		t.Fatal("handle must close once the write drains")
	}
}

func TestTeardownCancelsConnect(t *testing.T) {
	p, sys, reg := newTestPipe(t)
	sys.QueueRead(fake.Outcome{Err: overlap.ErrPipeListening})
	if err := p.Register(reg, 7); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.Connect(); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("connect: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	cancelled := sys.Cancelled()
	if len(cancelled) != 1 || cancelled[0] != "connect" {
		t.Fatalf("cancelled %v, want [connect]", cancelled)
	}
}

// eagerSubstrate completes every write on another goroutine the moment it
// is submitted, while the submitting call still holds the engine lock.
// This is the tightest completion/submission interleaving the kernel can
// produce.
type eagerSubstrate struct {
	src  pipe.CompletionSource
	done chan struct{}
}

func (s *eagerSubstrate) Connect(h overlap.Handle, ov *overlap.Overlapped) (bool, error) {
	return true, nil
}

func (s *eagerSubstrate) Read(h overlap.Handle, buf []byte, ov *overlap.Overlapped) (int, bool, error) {
	return 0, false, overlap.ErrPipeListening
}

func (s *eagerSubstrate) Write(h overlap.Handle, buf []byte, ov *overlap.Overlapped) (int, bool, error) {
	go func() {
		s.src.Complete(ov, uint32(len(buf)), nil, nil)
		s.done <- struct{}{}
	}()
	return 0, true, nil
}

func (s *eagerSubstrate) Cancel(h overlap.Handle, ov *overlap.Overlapped) error { return nil }
func (s *eagerSubstrate) Disconnect(h overlap.Handle) error                     { return nil }
func (s *eagerSubstrate) CloseHandle(h overlap.Handle) error                    { return nil }

func TestCompletionRacingSubmissionIsSettled(t *testing.T) {
	baseline := pipe.InflightOperations()
	sys := &eagerSubstrate{done: make(chan struct{}, 1)}
	p := pipe.NewFromHandle(overlap.Handle(1), `\\.\pipe\hioload-test`, sys)
	sys.src = p
	if err := p.Register(fake.NewRegistry(), 7); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := p.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	<-sys.done

	if got := pipe.InflightOperations(); got != baseline {
		t.Fatalf("in-flight table holds %d entries, want %d", got, baseline)
	}
	if _, err := p.Write([]byte("y")); err != nil {
		t.Fatalf("write after racing completion: %v", err)
	}
	<-sys.done
	if got := pipe.InflightOperations(); got != baseline {
		t.Fatalf("in-flight table leaked %d entries", got-baseline)
	}
}

func TestUseAfterCloseFails(t *testing.T) {
	p, _, _ := registered(t)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Read(make([]byte, 4)); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("read after close: %v", err)
	}
	if _, err := p.Write([]byte("x")); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("write after close: %v", err)
	}
	if err := p.Connect(); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("connect after close: %v", err)
	}
	if err := p.Disconnect(); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("disconnect after close: %v", err)
	}
	if err := p.Register(fake.NewRegistry(), 8); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("register after close: %v", err)
	}
}

func TestDoubleClose(t *testing.T) {
	p, _, _ := newTestPipe(t)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("double close: %v", err)
	}
}

func TestDisconnectAllowsReconnect(t *testing.T) {
	p, sys, _ := registered(t)
	sys.QueueConnect(fake.Outcome{})
	if err := p.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if sys.Disconnects() != 1 {
		t.Fatalf("disconnects = %d, want 1", sys.Disconnects())
	}
	sys.QueueConnect(fake.Outcome{})
	if err := p.Connect(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
}

func TestFacadeOdds(t *testing.T) {
	p, _, _ := newTestPipe(t)
	if err := p.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if p.RawHandle() != 1 {
		t.Fatalf("raw handle = %d", p.RawHandle())
	}
	if !strings.Contains(p.String(), `\\.\pipe\hioload-test`) {
		t.Fatalf("string = %q", p.String())
	}
}
