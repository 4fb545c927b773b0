package telemetry

import (
	"context"
	"errors"
)

// EventEmitter emits security events. Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event SecurityEvent) error
}

// Nop discards every event.
type Nop struct{}

// Emit implements EventEmitter.
func (Nop) Emit(context.Context, SecurityEvent) error { return nil }

type fanout []EventEmitter

// Fanout returns an emitter that sends each event to every non-nil emitter.
// All emitters are tried; their errors are joined.
func Fanout(emitters ...EventEmitter) EventEmitter {
	var out fanout
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return Nop{}
	}
	return out
}

func (f fanout) Emit(ctx context.Context, event SecurityEvent) error {
	var errs []error
	for _, e := range f {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
