package repository

import (
	"context"

	"lms-platform/backend/internal/audit/domain"
	"lms-platform/backend/internal/tenancy"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, tx *tenancy.Tx, a *domain.AuditLog) error
	// ListRecent returns the tenant's newest entries first.
	ListRecent(ctx context.Context, tx *tenancy.Tx, limit, offset int32) ([]*domain.AuditLog, error)
}
