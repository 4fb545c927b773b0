package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-platform/backend/internal/session/domain"
	"lms-platform/backend/internal/tenancy"
)

var sessionCols = []string{"id", "user_id", "tenant_id", "refresh_token_hash", "impersonator_id",
	"user_agent", "ip_address", "created_at", "expires_at", "last_used_at", "revoked_at"}

// inTenant runs fn through the real guard against a sqlmock connection.
func inTenant(t *testing.T, fn func(ctx context.Context, mock sqlmock.Sqlmock, tx *tenancy.Tx) error, setup func(mock sqlmock.Sqlmock)) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`set_config`).WithArgs("7", "", "", "").WillReturnResult(sqlmock.NewResult(0, 1))
	setup(mock)
	mock.ExpectCommit()

	g := tenancy.NewGuard(db, nil)
	require.NoError(t, g.Run(context.Background(), tenancy.ForTenant(7), func(ctx context.Context, tx *tenancy.Tx) error {
		return fn(ctx, mock, tx)
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Create(t *testing.T) {
	r := NewPostgresRepository()
	now := time.Now().UTC()
	s := &domain.Session{
		ID: "s1", UserID: "u1", TenantID: 7, RefreshTokenHash: "h1",
		UserAgent: "ua", IPAddress: "10.0.0.1",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastUsedAt: now,
	}
	inTenant(t, func(ctx context.Context, _ sqlmock.Sqlmock, tx *tenancy.Tx) error {
		return r.Create(ctx, tx, s)
	}, func(mock sqlmock.Sqlmock) {
		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs("s1", "u1", int64(7), "h1", "", "ua", "10.0.0.1", now, now.Add(time.Hour), now).
			WillReturnResult(sqlmock.NewResult(0, 1))
	})
}

func TestPostgresRepository_RotateMatched(t *testing.T) {
	r := NewPostgresRepository()
	now := time.Now().UTC()
	exp := now.Add(24 * time.Hour)
	inTenant(t, func(ctx context.Context, _ sqlmock.Sqlmock, tx *tenancy.Tx) error {
		s, err := r.Rotate(ctx, tx, "s1", "old", "new", "10.0.0.9", exp)
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, "new", s.RefreshTokenHash)
		assert.Equal(t, "admin-1", s.ImpersonatorID)
		assert.Equal(t, "10.0.0.9", s.IPAddress)
		assert.Nil(t, s.RevokedAt)
		return nil
	}, func(mock sqlmock.Sqlmock) {
		mock.ExpectQuery(`UPDATE sessions\s+SET refresh_token_hash = \$3.*ip_address = COALESCE\(NULLIF\(\$5, ''\), ip_address\)`).
			WithArgs("s1", "old", "new", exp, "10.0.0.9").
			WillReturnRows(sqlmock.NewRows(sessionCols).
				AddRow("s1", "u1", int64(7), "new", "admin-1", "ua", "10.0.0.9", now, exp, now, nil))
	})
}

func TestPostgresRepository_RotateNoRow(t *testing.T) {
	r := NewPostgresRepository()
	exp := time.Now().Add(time.Hour)
	inTenant(t, func(ctx context.Context, _ sqlmock.Sqlmock, tx *tenancy.Tx) error {
		s, err := r.Rotate(ctx, tx, "s1", "stale", "new", "", exp)
		require.NoError(t, err)
		assert.Nil(t, s)
		return nil
	}, func(mock sqlmock.Sqlmock) {
		mock.ExpectQuery(`UPDATE sessions`).WillReturnError(sql.ErrNoRows)
	})
}

func TestPostgresRepository_GetByIDNotFound(t *testing.T) {
	r := NewPostgresRepository()
	inTenant(t, func(ctx context.Context, _ sqlmock.Sqlmock, tx *tenancy.Tx) error {
		s, err := r.GetByID(ctx, tx, "missing")
		require.NoError(t, err)
		assert.Nil(t, s)
		return nil
	}, func(mock sqlmock.Sqlmock) {
		mock.ExpectQuery(`FROM sessions WHERE id = \$1`).WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(sessionCols))
	})
}

func TestPostgresRepository_RevokeAllByUser(t *testing.T) {
	r := NewPostgresRepository()
	inTenant(t, func(ctx context.Context, _ sqlmock.Sqlmock, tx *tenancy.Tx) error {
		n, err := r.RevokeAllByUser(ctx, tx, "u1", "keep")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		return nil
	}, func(mock sqlmock.Sqlmock) {
		mock.ExpectExec(`UPDATE sessions SET revoked_at = now\(\)`).WithArgs("u1", "keep").
			WillReturnResult(sqlmock.NewResult(0, 3))
	})
}

func TestPostgresRepository_ListActiveByUser(t *testing.T) {
	r := NewPostgresRepository()
	now := time.Now().UTC()
	revoked := now.Add(-time.Minute)
	inTenant(t, func(ctx context.Context, _ sqlmock.Sqlmock, tx *tenancy.Tx) error {
		list, err := r.ListActiveByUser(ctx, tx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "s2", list[0].ID)
		assert.NotNil(t, list[1].RevokedAt)
		return nil
	}, func(mock sqlmock.Sqlmock) {
		mock.ExpectQuery(`ORDER BY last_used_at DESC`).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(sessionCols).
				AddRow("s2", "u1", int64(7), "h2", "", "", "", now, now.Add(time.Hour), now, nil).
				AddRow("s1", "u1", int64(7), "h1", "", "", "", now, now.Add(time.Hour), now.Add(-time.Hour), revoked))
	})
}

func TestPostgresRepository_RevokeAndDeleteStale(t *testing.T) {
	r := NewPostgresRepository()
	expBefore := time.Now().Add(-domain.ExpiredRetention)
	revBefore := time.Now().Add(-domain.RevokedRetention)
	inTenant(t, func(ctx context.Context, _ sqlmock.Sqlmock, tx *tenancy.Tx) error {
		require.NoError(t, r.Revoke(ctx, tx, "s1"))
		n, err := r.DeleteStale(ctx, tx, expBefore, revBefore)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		return nil
	}, func(mock sqlmock.Sqlmock) {
		mock.ExpectExec(`COALESCE\(revoked_at, now\(\)\)`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM sessions`).WithArgs(expBefore, revBefore).WillReturnResult(sqlmock.NewResult(0, 2))
	})
}
