// File: pipe/substrate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipe

import "github.com/momentics/hioload-np/internal/overlap"

// Substrate is the asynchronous I/O surface the engine drives. Each
// submission binds the given completion slot to one in-flight operation
// and reports one of three outcomes: finished synchronously with a byte
// count, submitted with the result pending, or failed outright.
//
// Synchronously finished reads and writes still deliver a completion
// notification through the port; the engine drains it. The production
// implementation wraps the overlapped syscalls; the fake package provides
// an in-memory one for tests.
type Substrate interface {
	Connect(h overlap.Handle, ov *overlap.Overlapped) (done bool, err error)
	Read(h overlap.Handle, buf []byte, ov *overlap.Overlapped) (n int, pending bool, err error)
	Write(h overlap.Handle, buf []byte, ov *overlap.Overlapped) (n int, pending bool, err error)
	Cancel(h overlap.Handle, ov *overlap.Overlapped) error
	Disconnect(h overlap.Handle) error
	CloseHandle(h overlap.Handle) error
}

// osSubstrate is the production Substrate backed by the kernel.
type osSubstrate struct{}

func (osSubstrate) Connect(h overlap.Handle, ov *overlap.Overlapped) (bool, error) {
	return overlap.ConnectPipe(h, ov)
}

func (osSubstrate) Read(h overlap.Handle, buf []byte, ov *overlap.Overlapped) (int, bool, error) {
	return overlap.ReadPipe(h, buf, ov)
}

func (osSubstrate) Write(h overlap.Handle, buf []byte, ov *overlap.Overlapped) (int, bool, error) {
	return overlap.WritePipe(h, buf, ov)
}

func (osSubstrate) Cancel(h overlap.Handle, ov *overlap.Overlapped) error {
	return overlap.CancelIo(h, ov)
}

func (osSubstrate) Disconnect(h overlap.Handle) error { return overlap.Disconnect(h) }

func (osSubstrate) CloseHandle(h overlap.Handle) error { return overlap.CloseHandle(h) }
