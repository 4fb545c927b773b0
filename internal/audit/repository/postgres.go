package repository

import (
	"context"

	"lms-platform/backend/internal/audit/domain"
	"lms-platform/backend/internal/tenancy"
)

type PostgresRepository struct{}

// NewPostgresRepository returns an audit log repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// Create persists the audit log. The audit log must have ID set. The tenant context is
// asserted first so an entry can never be written outside a tenant boundary.
func (r *PostgresRepository) Create(ctx context.Context, tx *tenancy.Tx, a *domain.AuditLog) error {
	if err := tenancy.AssertTenantContext(ctx, tx); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO audit_logs (id, tenant_id, user_id, impersonator_id, action, resource, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.TenantID, a.UserID, a.ImpersonatorID, a.Action, a.Resource, a.IP, a.Metadata, a.CreatedAt,
	)
	return err
}

// ListRecent returns audit logs for the transaction's tenant, paginated by limit and offset.
func (r *PostgresRepository) ListRecent(ctx context.Context, tx *tenancy.Tx, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT id::text, tenant_id, user_id, impersonator_id, action, resource, ip, metadata, created_at
  FROM audit_logs
 ORDER BY created_at DESC
 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.TenantID, &a.UserID, &a.ImpersonatorID, &a.Action, &a.Resource, &a.IP, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
