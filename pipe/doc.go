// File: pipe/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pipe implements a non-blocking Windows named pipe on top of the
// completion-based kernel I/O model, exposed through the readiness model
// the rest of this library speaks.
//
// The kernel completes operations asynchronously, while callers of this
// package ask "can I read or write right now" and then perform a
// synchronous copy. The bridge is internal buffering: writes are copied
// into a pooled buffer handed to the kernel, reads drain a pooled buffer
// the kernel filled earlier. Until a pipe is registered with a selector
// every I/O call returns api.ErrWouldBlock.
//
// A NamedPipe can be read and written concurrently; a single mutex guards
// the per-direction state so no caller observes a torn update. At most one
// kernel operation per direction is ever outstanding.
package pipe
