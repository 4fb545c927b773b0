// Package telemetry carries security events (theft detection, impersonation, login
// failures) to Kafka and OTel logs. Emission is best-effort and never fails a request.
package telemetry

import (
	"strconv"
	"time"
)

// EventType names a security event.
type EventType string

const (
	EventLoginSucceeded      EventType = "login_succeeded"
	EventLoginFailed         EventType = "login_failed"
	EventLoginRateLimited    EventType = "login_rate_limited"
	EventMFAChallengeIssued  EventType = "mfa_challenge_issued"
	EventMFAFailed           EventType = "mfa_failed"
	EventMFAEnrolled         EventType = "mfa_enrolled"
	EventRefreshTokenReuse   EventType = "refresh_token_reuse"
	EventSessionRevoked      EventType = "session_revoked"
	EventAllSessionsRevoked  EventType = "all_sessions_revoked"
	EventImpersonationStart  EventType = "impersonation_started"
	EventImpersonationDenied EventType = "impersonation_denied"
	EventAccessDenied        EventType = "access_denied"
)

// SecurityEvent is one security-relevant occurrence within a tenant.
type SecurityEvent struct {
	Type           EventType         `json:"type"`
	TenantID       int64             `json:"tenant_id"`
	UserID         string            `json:"user_id,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	ImpersonatorID string            `json:"impersonator_id,omitempty"`
	IP             string            `json:"ip,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// NewEvent returns an event of type t for tenantID stamped with the current UTC time.
func NewEvent(t EventType, tenantID int64, userID string) SecurityEvent {
	return SecurityEvent{Type: t, TenantID: tenantID, UserID: userID, OccurredAt: time.Now().UTC()}
}

// Key is the partition key: all events of one tenant land in one partition, in order.
func (e SecurityEvent) Key() string {
	return strconv.FormatInt(e.TenantID, 10)
}
