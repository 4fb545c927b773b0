// Package ratelimit provides fixed-window attempt limiters for login and MFA
// verification, in memory for a single process and in Redis for a fleet.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts attempts per key within a fixed window.
type Limiter interface {
	// Allow records one attempt for key and reports whether it is within limit.
	// A limit <= 0 disables limiting.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	// Reset clears the attempts recorded for key, e.g. after a successful login.
	Reset(ctx context.Context, key string) error
}

// LoginKey scopes login attempts to one email within one tenant.
func LoginKey(tenantID int64, email string) string {
	return "login:" + formatTenant(tenantID) + ":" + email
}

// MFAKey scopes MFA attempts to one user within one tenant.
func MFAKey(tenantID int64, userID string) string {
	return "mfa:" + formatTenant(tenantID) + ":" + userID
}
