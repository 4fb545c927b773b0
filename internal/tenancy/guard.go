package tenancy

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// TxBeginner opens transactions. *sql.DB satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

const setContextSQL = `SELECT set_config('` + SettingTenantID + `', $1, true),
       set_config('` + SettingUserID + `', $2, true),
       set_config('` + SettingSiteID + `', $3, true),
       set_config('` + SettingRole + `', $4, true)`

const setMaintenanceSQL = `SELECT set_config('` + SettingMaintenance + `', 'on', true)`

// WithTenantContext validates tc, opens a transaction, sets the tenant context as
// transaction-local settings (never session level, so pooled connections carry nothing
// over), runs work and commits. Any error or panic from work rolls back.
// The tenant id is validated before a transaction is opened.
func WithTenantContext[T any](ctx context.Context, db TxBeginner, tc TenantContext, work func(ctx context.Context, tx *Tx) (T, error)) (T, error) {
	return run(ctx, db, tc, nil, work)
}

// WithTenantRead is WithTenantContext for pure reads: tenant only, read-only transaction.
func WithTenantRead[T any](ctx context.Context, db TxBeginner, tenantID string, work func(ctx context.Context, tx *Tx) (T, error)) (T, error) {
	return run(ctx, db, TenantContext{TenantID: tenantID}, &sql.TxOptions{ReadOnly: true}, work)
}

func run[T any](ctx context.Context, db TxBeginner, tc TenantContext, opts *sql.TxOptions, work func(ctx context.Context, tx *Tx) (T, error)) (result T, err error) {
	tenantID, err := ParseTenantID(tc.TenantID)
	if err != nil {
		return result, err
	}
	sqlTx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return result, fmt.Errorf("tenancy: begin: %w", err)
	}
	if _, err := sqlTx.ExecContext(ctx, setContextSQL, tc.TenantID, tc.UserID, tc.SiteID, tc.Role); err != nil {
		_ = sqlTx.Rollback()
		return result, fmt.Errorf("tenancy: set context: %w", err)
	}
	tx := &Tx{tx: sqlTx, tc: tc, tenantID: tenantID}
	return finish(WithContext(ctx, tc), sqlTx, tx, work)
}

func finish[T any](ctx context.Context, sqlTx *sql.Tx, tx *Tx, work func(ctx context.Context, tx *Tx) (T, error)) (result T, err error) {
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()
	result, err = work(ctx, tx)
	if err != nil {
		_ = sqlTx.Rollback()
		var zero T
		return zero, err
	}
	if err := sqlTx.Commit(); err != nil {
		var zero T
		return zero, fmt.Errorf("tenancy: commit: %w", err)
	}
	return result, nil
}

// Runner runs work inside a tenant-scoped transaction. Services depend on this
// interface; Guard is the production implementation.
type Runner interface {
	Run(ctx context.Context, tc TenantContext, fn func(ctx context.Context, tx *Tx) error) error
	Read(ctx context.Context, tenantID string, fn func(ctx context.Context, tx *Tx) error) error
}

// Guard is the Runner backed by a database pool.
type Guard struct {
	db  TxBeginner
	log *zap.Logger
}

// NewGuard returns a Guard over db.
func NewGuard(db TxBeginner, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{db: db, log: log.Named("tenancy")}
}

// Run implements Runner.
func (g *Guard) Run(ctx context.Context, tc TenantContext, fn func(ctx context.Context, tx *Tx) error) error {
	_, err := WithTenantContext(ctx, g.db, tc, func(ctx context.Context, tx *Tx) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	g.logFailure(tc, err)
	return err
}

// Read implements Runner with a read-only transaction.
func (g *Guard) Read(ctx context.Context, tenantID string, fn func(ctx context.Context, tx *Tx) error) error {
	_, err := WithTenantRead(ctx, g.db, tenantID, func(ctx context.Context, tx *Tx) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	g.logFailure(TenantContext{TenantID: tenantID}, err)
	return err
}

// RunMaintenance runs fn in a transaction with only app.maintenance set. No tenant is
// visible through the regular policies; only tables with a maintenance policy
// (session cleanup) are reachable. Not for request-serving paths.
func (g *Guard) RunMaintenance(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	sqlTx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tenancy: begin: %w", err)
	}
	if _, err := sqlTx.ExecContext(ctx, setMaintenanceSQL); err != nil {
		_ = sqlTx.Rollback()
		return fmt.Errorf("tenancy: set maintenance: %w", err)
	}
	_, err = finish(ctx, sqlTx, &Tx{tx: sqlTx, maintenance: true}, func(ctx context.Context, tx *Tx) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	if err != nil {
		g.log.Warn("maintenance transaction failed", zap.Error(err))
	}
	return err
}

func (g *Guard) logFailure(tc TenantContext, err error) {
	if err == nil {
		return
	}
	g.log.Debug("tenant transaction rolled back",
		zap.String("tenant_id", tc.TenantID),
		zap.String("user_id", tc.UserID),
		zap.Error(err),
	)
}
