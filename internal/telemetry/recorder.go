package telemetry

import (
	"context"
	"sync"
)

// Recorder is an EventEmitter that keeps every event in memory, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []SecurityEvent
}

// Emit implements EventEmitter.
func (r *Recorder) Emit(_ context.Context, event SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SecurityEvent(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []SecurityEvent {
	var out []SecurityEvent
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
