// Package api
// Author: momentics <momentics@gmail.com>
//
// Readiness event types delivered by the selector to its consumers.

package api

// Token identifies a registered I/O source in readiness events. The value
// is opaque to the library; callers pick it at registration time and get it
// back on every event for that source.
type Token uint64

// Event is a single readiness notification.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
}
