// File: fake/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"sync"

	"github.com/google/uuid"

	"github.com/momentics/hioload-np/api"
	"github.com/momentics/hioload-np/pipe"
)

// Registry is an in-memory pipe.Registry that records attachments and
// collects woken events for inspection.
type Registry struct {
	id uuid.UUID

	mu       sync.Mutex
	attached []pipe.CompletionSource
	events   []api.Event
}

// NewRegistry returns a registry with a fresh instance identity.
func NewRegistry() *Registry {
	return &Registry{id: uuid.New()}
}

// ID implements pipe.Registry.
func (r *Registry) ID() uuid.UUID { return r.id }

// Attach implements pipe.Registry.
func (r *Registry) Attach(src pipe.CompletionSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, src)
	return nil
}

// Wake implements pipe.Registry.
func (r *Registry) Wake(ev api.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// TakeEvents returns and clears the collected events.
func (r *Registry) TakeEvents() []api.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events
	r.events = nil
	return evs
}

// AttachedCount reports how many sources were attached.
func (r *Registry) AttachedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attached)
}
