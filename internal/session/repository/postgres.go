package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lms-platform/backend/internal/session/domain"
	"lms-platform/backend/internal/tenancy"
)

const sessionColumns = `id::text, user_id::text, tenant_id, refresh_token_hash, COALESCE(impersonator_id::text, ''),
       user_agent, ip_address, created_at, expires_at, last_used_at, revoked_at`

type PostgresRepository struct{}

// NewPostgresRepository returns a session repository that runs its statements on the
// transaction handed in by the tenancy guard.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// Create persists the session. The session must have ID, UserID, TenantID and RefreshTokenHash set.
func (r *PostgresRepository) Create(ctx context.Context, tx *tenancy.Tx, s *domain.Session) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, tenant_id, refresh_token_hash, impersonator_id, user_agent, ip_address, created_at, expires_at, last_used_at)
VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, $9, $10)`,
		s.ID, s.UserID, s.TenantID, s.RefreshTokenHash, s.ImpersonatorID,
		s.UserAgent, s.IPAddress, s.CreatedAt, s.ExpiresAt, s.LastUsedAt,
	)
	return err
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, tx *tenancy.Tx, id string) (*domain.Session, error) {
	s, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Rotate is a single conditional UPDATE, so two concurrent refreshes with the same token
// cannot both match: the loser sees no row.
func (r *PostgresRepository) Rotate(ctx context.Context, tx *tenancy.Tx, id, oldHash, newHash, ip string, expiresAt time.Time) (*domain.Session, error) {
	s, err := scanSession(tx.QueryRowContext(ctx, `
UPDATE sessions
   SET refresh_token_hash = $3, expires_at = $4, last_used_at = now(),
       ip_address = COALESCE(NULLIF($5, ''), ip_address)
 WHERE id = $1 AND refresh_token_hash = $2 AND revoked_at IS NULL AND expires_at > now()
RETURNING `+sessionColumns, id, oldHash, newHash, expiresAt, ip))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Revoke marks the session with the given id as revoked, keeping the first revocation time.
func (r *PostgresRepository) Revoke(ctx context.Context, tx *tenancy.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at = COALESCE(revoked_at, now()) WHERE id = $1`, id)
	return err
}

// RevokeAllByUser revokes all active sessions for the given user except exceptID.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, tx *tenancy.Tx, userID, exceptID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
UPDATE sessions SET revoked_at = now()
 WHERE user_id = $1 AND revoked_at IS NULL AND ($2 = '' OR id::text <> $2)`, userID, exceptID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListActiveByUser returns active sessions for the user, most recently used first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, tx *tenancy.Tx, userID string) ([]*domain.Session, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT `+sessionColumns+`
  FROM sessions
 WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > now()
 ORDER BY last_used_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteStale permanently deletes old sessions. Called from a maintenance transaction.
func (r *PostgresRepository) DeleteStale(ctx context.Context, tx *tenancy.Tx, expiredBefore, revokedBefore time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
DELETE FROM sessions
 WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $2)`, expiredBefore, revokedBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		s         domain.Session
		revokedAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.TenantID, &s.RefreshTokenHash, &s.ImpersonatorID,
		&s.UserAgent, &s.IPAddress, &s.CreatedAt, &s.ExpiresAt, &s.LastUsedAt, &revokedAt,
	)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return &s, nil
}
