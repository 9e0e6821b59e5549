// File: internal/overlap/overlap_windows.go
//go:build windows
// +build windows

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package overlap

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

// Handle is the OS pipe or port handle.
type Handle = windows.Handle

// Overlapped is the per-operation completion slot handed to the kernel.
type Overlapped = windows.Overlapped

// InvalidHandle is the sentinel for "no handle".
const InvalidHandle = windows.InvalidHandle

// Errors the engine classifies specially.
var (
	// ErrBrokenPipe: the remote end closed the pipe.
	ErrBrokenPipe error = windows.ERROR_BROKEN_PIPE
	// ErrPipeListening: no client has connected to the pipe yet.
	ErrPipeListening error = windows.ERROR_PIPE_LISTENING
)

// IsBrokenPipe reports whether err means the remote end closed the pipe.
func IsBrokenPipe(err error) bool { return errors.Is(err, ErrBrokenPipe) }

// IsPipeListening reports whether err means the pipe has no connected
// client yet.
func IsPipeListening(err error) bool { return errors.Is(err, ErrPipeListening) }

// FILE_FLAG_FIRST_PIPE_INSTANCE, not exported by x/sys.
const fileFlagFirstPipeInstance = 0x00080000

// CreatePipe creates the first server instance of a byte-mode duplex named
// pipe opened for overlapped I/O.
func CreatePipe(path string, inBuf, outBuf int) (Handle, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return InvalidHandle, err
	}
	return windows.CreateNamedPipe(
		name,
		windows.PIPE_ACCESS_DUPLEX|windows.FILE_FLAG_OVERLAPPED|fileFlagFirstPipeInstance,
		windows.PIPE_TYPE_BYTE|windows.PIPE_READMODE_BYTE|windows.PIPE_WAIT,
		windows.PIPE_UNLIMITED_INSTANCES,
		uint32(outBuf),
		uint32(inBuf),
		0,
		nil,
	)
}

// ConnectPipe submits an asynchronous accept for a client connection.
// done=true means a client is connected right now (including the client
// that raced us between CreatePipe and this call).
func ConnectPipe(h Handle, ov *Overlapped) (done bool, err error) {
	switch err := windows.ConnectNamedPipe(h, ov); err {
	case nil, windows.ERROR_PIPE_CONNECTED:
		return true, nil
	case windows.ERROR_IO_PENDING:
		return false, nil
	default:
		return false, err
	}
}

// ReadPipe submits an asynchronous read into buf. pending=true means the
// byte count will only be known from the completion notification.
func ReadPipe(h Handle, buf []byte, ov *Overlapped) (n int, pending bool, err error) {
	var done uint32
	switch err := windows.ReadFile(h, buf, &done, ov); err {
	case nil:
		return int(done), false, nil
	case windows.ERROR_IO_PENDING:
		return 0, true, nil
	default:
		return 0, false, err
	}
}

// WritePipe submits an asynchronous write of buf.
func WritePipe(h Handle, buf []byte, ov *Overlapped) (n int, pending bool, err error) {
	var done uint32
	switch err := windows.WriteFile(h, buf, &done, ov); err {
	case nil:
		return int(done), false, nil
	case windows.ERROR_IO_PENDING:
		return 0, true, nil
	default:
		return 0, false, err
	}
}

// CancelIo requests best-effort cancellation of the operation bound to ov.
func CancelIo(h Handle, ov *Overlapped) error {
	return windows.CancelIoEx(h, ov)
}

// Disconnect drops the connected client, if any.
func Disconnect(h Handle) error { return windows.DisconnectNamedPipe(h) }

// CloseHandle closes the pipe or port handle.
func CloseHandle(h Handle) error { return windows.CloseHandle(h) }

// NewPort creates an unassociated I/O completion port.
func NewPort() (Handle, error) {
	return windows.CreateIoCompletionPort(InvalidHandle, 0, 0, 0)
}

// AttachToPort associates h with the completion port under key. The
// association is permanent for the lifetime of the handle.
func AttachToPort(port, h Handle, key uintptr) error {
	_, err := windows.CreateIoCompletionPort(h, port, key, 0)
	return err
}

// PostWake enqueues a zero-byte packet so a blocked WaitPort returns.
func PostWake(port Handle, key uintptr) error {
	return windows.PostQueuedCompletionStatus(port, 0, key, nil)
}

// Completion is one dequeued completion notification.
type Completion struct {
	Key uintptr
	Ov  *Overlapped
	Qty uint32
	Err error
}

// WaitPort dequeues a single completion, waiting up to timeoutMs
// milliseconds (negative waits forever). ok=false reports a timeout.
// A completion whose operation failed is still delivered, with Err set.
func WaitPort(port Handle, timeoutMs int) (c Completion, ok bool, err error) {
	timeout := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		timeout = uint32(timeoutMs)
	}
	var qty uint32
	var key uintptr
	var ov *Overlapped
	werr := windows.GetQueuedCompletionStatus(port, &qty, &key, &ov, timeout)
	if werr != nil {
		if ov == nil {
			if werr == syscall.Errno(windows.WAIT_TIMEOUT) {
				return Completion{}, false, nil
			}
			return Completion{}, false, werr
		}
		return Completion{Key: key, Ov: ov, Qty: qty, Err: werr}, true, nil
	}
	return Completion{Key: key, Ov: ov, Qty: qty}, true, nil
}
