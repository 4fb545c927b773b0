package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"lms-platform/backend/internal/telemetry"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), telemetry.SecurityEvent{TenantID: 1}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestNewEventEmitter_SDKProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), telemetry.NewEvent(telemetry.EventLoginSucceeded, 1, "u1")); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func TestEmit_AttributeMapping(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	event := telemetry.SecurityEvent{
		Type:           telemetry.EventRefreshTokenReuse,
		TenantID:       9,
		UserID:         "user1",
		SessionID:      "sess1",
		ImpersonatorID: "admin1",
		IP:             "10.0.0.1",
		Metadata:       map[string]string{"revoked": "3"},
		OccurredAt:     at,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := cap.rec

	if got := rec.Body().AsString(); got != "refresh_token_reuse" {
		t.Errorf("body = %q, want %q", got, "refresh_token_reuse")
	}
	if !rec.Timestamp().Equal(at) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), at)
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want WARN", rec.Severity())
	}

	attrs := make(map[string]otellog.Value)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	want := map[string]string{
		"event_type": "refresh_token_reuse", "user_id": "user1", "session_id": "sess1",
		"impersonator_id": "admin1", "ip": "10.0.0.1", "meta.revoked": "3",
	}
	for k, v := range want {
		if got := attrs[k].AsString(); got != v {
			t.Errorf("attr %q = %q, want %q", k, got, v)
		}
	}
	if got := attrs["tenant_id"].AsInt64(); got != 9 {
		t.Errorf("tenant_id = %d, want 9", got)
	}
}

func TestEmit_DefaultsTimestamp(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	if err := em.Emit(context.Background(), telemetry.SecurityEvent{Type: telemetry.EventLoginFailed, TenantID: 1}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if cap.rec.Timestamp().IsZero() {
		t.Error("timestamp should default to now")
	}
	cap.rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Key == "user_id" {
			t.Error("empty user_id should not be recorded")
		}
		return true
	})
}
