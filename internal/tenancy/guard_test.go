package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectSetContext(mock sqlmock.Sqlmock, tenant, user, site, role string) {
	mock.ExpectExec(`SELECT set_config\('app.tenant_id', \$1, true\)`).
		WithArgs(tenant, user, site, role).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func currentSettingRows(v string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"current_setting"}).AddRow(v)
}

func TestWithTenantContext_RejectsInvalidTenantIDBeforeBegin(t *testing.T) {
	for _, id := range []string{"", "0", "-1", "abc", "01", "+5", " 7", "1.5", "9223372036854775808"} {
		t.Run(id, func(t *testing.T) {
			db, mock := newMock(t)
			called := false
			_, err := WithTenantContext(context.Background(), db, TenantContext{TenantID: id}, func(context.Context, *Tx) (int, error) {
				called = true
				return 0, nil
			})
			assert.ErrorIs(t, err, ErrInvalidTenantID)
			assert.False(t, called, "work must not run")
			assert.NoError(t, mock.ExpectationsWereMet(), "no transaction may be opened")
		})
	}
}

func TestWithTenantContext_SetsContextAndCommits(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectSetContext(mock, "42", "u1", "7", "admin")
	mock.ExpectQuery(`current_setting\('app.tenant_id', true\)`).WillReturnRows(currentSettingRows("42"))
	mock.ExpectCommit()

	tc := TenantContext{TenantID: "42", UserID: "u1", SiteID: "7", Role: "admin"}
	got, err := WithTenantContext(context.Background(), db, tc, func(ctx context.Context, tx *Tx) (string, error) {
		id, ok, err := GetCurrentTenantID(ctx, tx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(42), id)
		assert.Equal(t, int64(42), tx.TenantID())

		fromCtx, ok := FromContext(ctx)
		assert.True(t, ok)
		assert.Equal(t, tc, fromCtx)
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTenantContext_RollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectSetContext(mock, "3", "", "", "")
	mock.ExpectRollback()

	boom := errors.New("boom")
	got, err := WithTenantContext(context.Background(), db, ForTenant(3), func(context.Context, *Tx) (int, error) {
		return 99, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTenantContext_RollsBackOnPanic(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectSetContext(mock, "3", "", "", "")
	mock.ExpectRollback()

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = WithTenantContext(context.Background(), db, ForTenant(3), func(context.Context, *Tx) (int, error) {
			panic("kaboom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTenantContext_SetConfigFailure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`set_config`).WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	called := false
	_, err := WithTenantContext(context.Background(), db, ForTenant(3), func(context.Context, *Tx) (int, error) {
		called = true
		return 0, nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTenantContext_CommitFailure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectSetContext(mock, "3", "", "", "")
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	got, err := WithTenantContext(context.Background(), db, ForTenant(3), func(context.Context, *Tx) (int, error) {
		return 1, nil
	})
	require.Error(t, err)
	assert.Zero(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTenantRead(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectSetContext(mock, "5", "", "", "")
	mock.ExpectQuery(`SELECT count`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectCommit()

	n, err := WithTenantRead(context.Background(), db, "5", func(ctx context.Context, tx *Tx) (int, error) {
		var n int
		err := tx.QueryRowContext(ctx, "SELECT count(*) FROM sessions").Scan(&n)
		return n, err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCurrentTenantID_OutsideGuard(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`current_setting`).WillReturnRows(currentSettingRows(""))

	_, ok, err := GetCurrentTenantID(context.Background(), db)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssertTenantContext(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`current_setting`).WillReturnRows(currentSettingRows(""))
		assert.ErrorIs(t, AssertTenantContext(context.Background(), db), ErrMissingTenantContext)
	})
	t.Run("set", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`current_setting`).WillReturnRows(currentSettingRows("8"))
		assert.NoError(t, AssertTenantContext(WithContext(context.Background(), ForTenant(8)), db))
	})
	t.Run("mismatch", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`current_setting`).WillReturnRows(currentSettingRows("8"))
		assert.ErrorIs(t, AssertTenantContext(WithContext(context.Background(), ForTenant(9)), db), ErrTenantMismatch)
	})
	t.Run("zero tx", func(t *testing.T) {
		var tx Tx
		assert.ErrorIs(t, AssertTenantContext(context.Background(), &tx), ErrMissingTenantContext)
	})
}

func TestZeroTxFailsEveryCall(t *testing.T) {
	ctx := context.Background()
	var tx Tx
	_, err := tx.ExecContext(ctx, "DELETE FROM sessions")
	assert.ErrorIs(t, err, ErrMissingTenantContext)
	_, err = tx.QueryContext(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrMissingTenantContext)
	var n int
	assert.ErrorIs(t, tx.QueryRowContext(ctx, "SELECT 1").Scan(&n), ErrMissingTenantContext)

	var nilTx *Tx
	_, err = nilTx.ExecContext(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrMissingTenantContext)
	assert.Zero(t, nilTx.TenantID())
}

func TestGuard_Run(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectSetContext(mock, "11", "u9", "", "student")
	mock.ExpectExec(`UPDATE users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	g := NewGuard(db, nil)
	err := g.Run(context.Background(), ForTenant(11).WithUser("u9", "student"), func(ctx context.Context, tx *Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE users SET last_login_at = now() WHERE id = $1", "u9")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuard_RunMaintenance(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`set_config\('app.maintenance', 'on', true\)`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM sessions`).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	g := NewGuard(db, nil)
	var deleted int64
	err := g.RunMaintenance(context.Background(), func(ctx context.Context, tx *Tx) error {
		assert.Zero(t, tx.TenantID())
		res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < now()")
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseTenantID(t *testing.T) {
	id, err := ParseTenantID("123")
	require.NoError(t, err)
	assert.Equal(t, int64(123), id)
	assert.NoError(t, ForTenant(5).Validate())
	assert.ErrorIs(t, TenantContext{TenantID: "x"}.Validate(), ErrInvalidTenantID)
}
