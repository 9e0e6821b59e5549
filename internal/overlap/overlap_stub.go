// File: internal/overlap/overlap_stub.go
//go:build !windows
// +build !windows

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package overlap

import (
	"errors"

	"github.com/momentics/hioload-np/api"
)

// Handle mirrors the Windows handle type.
type Handle uintptr

// Overlapped mirrors the layout of the Windows OVERLAPPED structure so the
// engine's slot bookkeeping compiles unchanged.
type Overlapped struct {
	Internal     uintptr
	InternalHigh uintptr
	Offset       uint32
	OffsetHigh   uint32
	HEvent       uintptr
}

// InvalidHandle is the sentinel for "no handle".
const InvalidHandle = ^Handle(0)

// Errors the engine classifies specially. The fake substrate returns these
// same sentinels so engine tests behave identically on every platform.
var (
	ErrBrokenPipe    = errors.New("pipe has been ended")
	ErrPipeListening = errors.New("pipe is listening, no process on other end")
)

// IsBrokenPipe reports whether err means the remote end closed the pipe.
func IsBrokenPipe(err error) bool { return errors.Is(err, ErrBrokenPipe) }

// IsPipeListening reports whether err means the pipe has no connected
// client yet.
func IsPipeListening(err error) bool { return errors.Is(err, ErrPipeListening) }

func CreatePipe(path string, inBuf, outBuf int) (Handle, error) {
	return InvalidHandle, api.ErrNotSupported
}

func ConnectPipe(h Handle, ov *Overlapped) (bool, error) { return false, api.ErrNotSupported }

func ReadPipe(h Handle, buf []byte, ov *Overlapped) (int, bool, error) {
	return 0, false, api.ErrNotSupported
}

func WritePipe(h Handle, buf []byte, ov *Overlapped) (int, bool, error) {
	return 0, false, api.ErrNotSupported
}

func CancelIo(h Handle, ov *Overlapped) error { return api.ErrNotSupported }

func Disconnect(h Handle) error { return api.ErrNotSupported }

func CloseHandle(h Handle) error { return api.ErrNotSupported }

func NewPort() (Handle, error) { return InvalidHandle, api.ErrNotSupported }

func AttachToPort(port, h Handle, key uintptr) error { return api.ErrNotSupported }

func PostWake(port Handle, key uintptr) error { return api.ErrNotSupported }

// Completion is one dequeued completion notification.
type Completion struct {
	Key uintptr
	Ov  *Overlapped
	Qty uint32
	Err error
}

func WaitPort(port Handle, timeoutMs int) (Completion, bool, error) {
	return Completion{}, false, api.ErrNotSupported
}
