// File: poll/selector_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package poll

import (
	"testing"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-np/api"
)

// A handler may produce two events for one completion. When only one fits
// the caller's slice, the leftover must come out of the next Poll before
// wake events that arrived later, or a source's readable/writable pair
// gets reordered.
func TestOverflowDeliveredBeforeLaterWakes(t *testing.T) {
	s := &Selector{wakes: queue.New()}

	first := api.Event{Token: 1, Readable: true}
	second := api.Event{Token: 1, Writable: true}
	dst := make([]api.Event, 1)
	if n := s.deliver(dst, []api.Event{first, second}); n != 1 || dst[0] != first {
		t.Fatalf("delivered %d events, first %+v", n, dst[0])
	}

	later := api.Event{Token: 2, Readable: true}
	s.wakes.Add(later)

	out := s.drainWakes(nil, 4)
	if len(out) != 2 || out[0] != second || out[1] != later {
		t.Fatalf("drained %+v, want [%+v %+v]", out, second, later)
	}
}

func TestDrainWakesHonorsCap(t *testing.T) {
	s := &Selector{wakes: queue.New()}
	s.pending = []api.Event{{Token: 1, Readable: true}, {Token: 1, Writable: true}}
	s.wakes.Add(api.Event{Token: 2, Readable: true})

	out := s.drainWakes(nil, 2)
	if len(out) != 2 || out[1] != (api.Event{Token: 1, Writable: true}) {
		t.Fatalf("drained %+v", out)
	}
	// The wake stays queued for the next round.
	out = s.drainWakes(nil, 2)
	if len(out) != 1 || out[0] != (api.Event{Token: 2, Readable: true}) {
		t.Fatalf("second drain %+v", out)
	}
}
