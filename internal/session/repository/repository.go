package repository

import (
	"context"
	"time"

	"lms-platform/backend/internal/session/domain"
	"lms-platform/backend/internal/tenancy"
)

// Repository defines persistence for sessions. Every method runs inside a transaction
// opened by the tenancy guard, so row-level security scopes it to one tenant.
type Repository interface {
	Create(ctx context.Context, tx *tenancy.Tx, s *domain.Session) error
	GetByID(ctx context.Context, tx *tenancy.Tx, id string) (*domain.Session, error)
	// Rotate atomically replaces oldHash with newHash on the valid session id and extends
	// its expiry. A non-empty ip replaces the stored address. Returns nil when no
	// non-revoked, non-expired row holds oldHash.
	Rotate(ctx context.Context, tx *tenancy.Tx, id, oldHash, newHash, ip string, expiresAt time.Time) (*domain.Session, error)
	// Revoke marks one session revoked. Revoking an already revoked session is a no-op.
	Revoke(ctx context.Context, tx *tenancy.Tx, id string) error
	// RevokeAllByUser revokes every active session of userID except exceptID (may be empty).
	RevokeAllByUser(ctx context.Context, tx *tenancy.Tx, userID, exceptID string) (int64, error)
	// ListActiveByUser returns non-revoked, non-expired sessions, most recently used first.
	ListActiveByUser(ctx context.Context, tx *tenancy.Tx, userID string) ([]*domain.Session, error)
	// DeleteStale removes sessions expired before expiredBefore or revoked before revokedBefore.
	DeleteStale(ctx context.Context, tx *tenancy.Tx, expiredBefore, revokedBefore time.Time) (int64, error)
}
