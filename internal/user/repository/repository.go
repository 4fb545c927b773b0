package repository

import (
	"context"
	"errors"
	"time"

	"lms-platform/backend/internal/tenancy"
	"lms-platform/backend/internal/user/domain"
)

// ErrNoPendingMFASecret is returned by EnableMFA when the user has no pending
// secret or it was replaced by a newer enrollment.
var ErrNoPendingMFASecret = errors.New("no matching pending mfa secret")

// Repository defines persistence for users. Lookups only see the tenant the
// transaction was opened for.
type Repository interface {
	GetByID(ctx context.Context, tx *tenancy.Tx, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, tx *tenancy.Tx, email string) (*domain.User, error)
	Create(ctx context.Context, tx *tenancy.Tx, u *domain.User) error
	UpdatePasswordHash(ctx context.Context, tx *tenancy.Tx, id, hash string) error
	UpdateLastLogin(ctx context.Context, tx *tenancy.Tx, id string, at time.Time) error
	// SetPendingMFASecret stores a TOTP secret awaiting confirmation without
	// touching the active secret.
	SetPendingMFASecret(ctx context.Context, tx *tenancy.Tx, id, secret string) error
	// EnableMFA promotes the pending secret, which must equal secret, and turns MFA on.
	EnableMFA(ctx context.Context, tx *tenancy.Tx, id, secret string) error
}
