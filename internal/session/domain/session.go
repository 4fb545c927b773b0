package domain

import "time"

// Retention windows after which cleanup deletes a session row.
const (
	ExpiredRetention = 30 * 24 * time.Hour
	RevokedRetention = 7 * 24 * time.Hour
)

// Session is a server-side login record. Only the hash of the current refresh token is
// stored; each rotation replaces it.
type Session struct {
	ID               string
	UserID           string
	TenantID         int64
	RefreshTokenHash string
	ImpersonatorID   string // empty unless created by impersonation
	UserAgent        string
	IPAddress        string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	LastUsedAt       time.Time
	RevokedAt        *time.Time // nil when not revoked
}

// Active reports whether the session is neither revoked nor expired at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Impersonated reports whether the session was opened by an admin acting as the user.
func (s *Session) Impersonated() bool {
	return s.ImpersonatorID != ""
}
