package tenancy

import (
	"context"
	"database/sql"
	"strconv"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Tx is a transaction with tenant context already set. Only the guard constructs one;
// every method of a zero Tx returns ErrMissingTenantContext.
type Tx struct {
	tx          *sql.Tx
	tc          TenantContext
	tenantID    int64
	maintenance bool
}

// TenantID returns the tenant this transaction is scoped to. Zero for maintenance transactions.
func (t *Tx) TenantID() int64 {
	if t == nil {
		return 0
	}
	return t.tenantID
}

// TenantContext returns the context this transaction was opened with.
func (t *Tx) TenantContext() TenantContext {
	if t == nil {
		return TenantContext{}
	}
	return t.tc
}

func (t *Tx) ready() bool {
	return t != nil && t.tx != nil && (t.tenantID > 0 || t.maintenance)
}

// ExecContext runs a statement in the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !t.ready() {
		return nil, ErrMissingTenantContext
	}
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query in the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if !t.ready() {
		return nil, ErrMissingTenantContext
	}
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query expected to return at most one row.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	if !t.ready() {
		return &Row{err: ErrMissingTenantContext}
	}
	return &Row{row: t.tx.QueryRowContext(ctx, query, args...)}
}

// Row is the result of QueryRowContext.
type Row struct {
	row *sql.Row
	err error
}

// Scan copies the row into dest. Returns sql.ErrNoRows when there was no row.
func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.row.Scan(dest...)
}

// GetCurrentTenantID reads app.tenant_id from the transaction q runs in.
// ok is false when no tenant context is set, which is the case outside the guard.
func GetCurrentTenantID(ctx context.Context, q Querier) (id int64, ok bool, err error) {
	rows, err := q.QueryContext(ctx, "SELECT COALESCE(current_setting('"+SettingTenantID+"', true), '')")
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()
	var v string
	if rows.Next() {
		if err := rows.Scan(&v); err != nil {
			return 0, false, err
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}
	if v == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// AssertTenantContext fails with ErrMissingTenantContext when q has no tenant set, and with
// ErrTenantMismatch when ctx was opened for a different tenant. Storage accessors reachable
// outside the guard call this before touching tenant-scoped tables.
func AssertTenantContext(ctx context.Context, q Querier) error {
	id, ok, err := GetCurrentTenantID(ctx, q)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMissingTenantContext
	}
	if tc, has := FromContext(ctx); has && tc.TenantID != strconv.FormatInt(id, 10) {
		return ErrTenantMismatch
	}
	return nil
}
