// File: pipe/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipe

import (
	"github.com/google/uuid"

	"github.com/momentics/hioload-np/api"
	"github.com/momentics/hioload-np/internal/overlap"
)

// CompletionSource is an I/O source whose completions a selector can
// dispatch. NamedPipe implements it.
type CompletionSource interface {
	// SysHandle returns the OS handle to associate with the port.
	SysHandle() overlap.Handle

	// Complete delivers one completion notification for a slot owned by
	// this source. Readiness events the handler produces are appended to
	// *events when non-nil and delivered via Registry.Wake otherwise.
	Complete(ov *overlap.Overlapped, qty uint32, opErr error, events *[]api.Event)
}

// Registry is the selector surface the engine needs: a stable instance
// identity, one-time handle attachment and a way to raise readiness events
// produced outside a Poll call.
type Registry interface {
	// ID identifies the selector instance. A pipe attached to one
	// selector refuses registration against another.
	ID() uuid.UUID

	// Attach associates the source's handle with the completion port.
	// Called once, on first registration.
	Attach(src CompletionSource) error

	// Wake queues a readiness event for delivery by the next Poll.
	Wake(ev api.Event)
}
