// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types shared by the named-pipe engine, the selector and
// their consumers.

package api

import "fmt"

// Sentinel errors used across the library.
var (
	// ErrWouldBlock reports that an operation cannot make progress right
	// now. Callers must wait for a readiness event and retry; busy-polling
	// the operation will not help.
	ErrWouldBlock = fmt.Errorf("operation would block")

	// ErrClosed reports use of a pipe after Close.
	ErrClosed = fmt.Errorf("pipe is closed")

	// ErrAlreadyRegistered reports a second registration of a pipe that
	// already carries a delivery token.
	ErrAlreadyRegistered = fmt.Errorf("pipe already registered")

	// ErrNotRegistered reports deregistration of a pipe that carries no
	// delivery token.
	ErrNotRegistered = fmt.Errorf("pipe not registered with selector")

	// ErrWrongSelector reports an attempt to move a pipe between selector
	// instances. A pipe is bound to the completion port it was first
	// attached to for its whole lifetime.
	ErrWrongSelector = fmt.Errorf("pipe attached to a different selector")

	// ErrNotSupported is returned by platform stubs.
	ErrNotSupported = fmt.Errorf("operation not supported on this platform")
)

// ErrorCode classifies structured failures for reporting.
type ErrorCode int

const (
	// ErrCodeTransport: the OS substrate rejected an operation.
	ErrCodeTransport ErrorCode = iota + 1
	// ErrCodeAssociation: attaching a handle to a completion port failed.
	ErrCodeAssociation
)

// Error pairs a classified failure with the operation that hit it, the
// pipe path when one is involved, and the underlying cause.
type Error struct {
	Code ErrorCode
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }
