package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"lms-platform/backend/internal/tenancy"
	"lms-platform/backend/internal/user/domain"
)

// Roles are stored as TEXT[] and moved through database/sql as a comma-joined string.
const userColumns = `id::text, tenant_id, email, name, password_hash, array_to_string(roles, ','),
       status, mfa_enabled, COALESCE(mfa_secret, ''), COALESCE(mfa_pending_secret, ''), last_login_at, created_at, updated_at`

type PostgresRepository struct{}

// NewPostgresRepository returns a user repository that runs on guard transactions.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, tx *tenancy.Tx, id string) (*domain.User, error) {
	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id::text = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetByEmail returns the user with the given email in the transaction's tenant, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, tx *tenancy.Tx, email string) (*domain.User, error) {
	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, tx *tenancy.Tx, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO users (id, tenant_id, email, name, password_hash, roles, status, mfa_enabled, mfa_secret, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, string_to_array($6, ','), $7, $8, NULLIF($9, ''), $10, $11)`,
		u.ID, u.TenantID, domain.NormalizeEmail(u.Email), u.Name, u.PasswordHash, strings.Join(u.Roles, ","),
		string(u.Status), u.MFAEnabled, u.MFASecret, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

// UpdatePasswordHash replaces the stored hash, e.g. after a lazy rehash at login.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, tx *tenancy.Tx, id, hash string) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id::text = $1`, id, hash)
	return err
}

// UpdateLastLogin records a successful login.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, tx *tenancy.Tx, id string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET last_login_at = $2 WHERE id::text = $1`, id, at)
	return err
}

// SetPendingMFASecret stores a TOTP secret awaiting confirmation. The active
// secret and mfa_enabled are left alone.
func (r *PostgresRepository) SetPendingMFASecret(ctx context.Context, tx *tenancy.Tx, id, secret string) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET mfa_pending_secret = $2, updated_at = now() WHERE id::text = $1`, id, secret)
	return err
}

// EnableMFA promotes the pending secret to the active one and turns MFA on.
// It returns ErrNoPendingMFASecret when the pending secret is no longer secret.
func (r *PostgresRepository) EnableMFA(ctx context.Context, tx *tenancy.Tx, id, secret string) error {
	res, err := tx.ExecContext(ctx, `
UPDATE users SET mfa_secret = mfa_pending_secret, mfa_pending_secret = NULL, mfa_enabled = true, updated_at = now()
WHERE id::text = $1 AND mfa_pending_secret = $2`, id, secret)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoPendingMFASecret
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*domain.User, error) {
	var (
		u         domain.User
		roles     string
		status    string
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &roles,
		&status, &u.MFAEnabled, &u.MFASecret, &u.MFAPendingSecret, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	if roles != "" {
		u.Roles = strings.Split(roles, ",")
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}
