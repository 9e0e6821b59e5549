// File: internal/overlap/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package overlap wraps the overlapped named-pipe syscalls and the I/O
// completion port calls the engine consumes. Every submission takes the
// handle plus a caller-owned Overlapped slot and reports one of three
// outcomes: finished synchronously with a byte count, submitted and
// pending, or failed. A completion notification is still delivered through
// the port for synchronously finished submissions; callers must drain it.
//
// The non-Windows build of this package only exists so that the pure parts
// of the module (state machine, pool, fake substrate, their tests) compile
// everywhere; every OS entry point then fails with api.ErrNotSupported.
package overlap
