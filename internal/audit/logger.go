// Package audit records who did what inside a tenant. Writing is best-effort: a
// failed audit insert is logged and never fails the request that triggered it.
package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lms-platform/backend/internal/audit/domain"
	auditrepo "lms-platform/backend/internal/audit/repository"
	"lms-platform/backend/internal/tenancy"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// Event is one audit entry to record.
type Event struct {
	TenantID       int64
	UserID         string
	ImpersonatorID string
	Action         string
	Resource       string
	Metadata       string
}

// AuditLogger writes a single audit event. Used by the auth service and the audit interceptor.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Event)
}

// Logger implements AuditLogger using the audit repository inside a tenant transaction.
type Logger struct {
	runner      tenancy.Runner
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         *zap.Logger
}

// NewLogger returns an AuditLogger that persists to repo through runner and uses
// ipExtractor for client IP. ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(runner tenancy.Runner, repo auditrepo.Repository, ipExtractor IPExtractor, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{runner: runner, repo: repo, ipExtractor: ipExtractor, log: log.Named("audit")}
}

// LogEvent writes one audit log entry. Events without a tenant are dropped: there is no
// tenant boundary to write them under.
func (l *Logger) LogEvent(ctx context.Context, e Event) {
	if l == nil || l.repo == nil || l.runner == nil {
		return
	}
	if e.TenantID <= 0 {
		l.log.Debug("audit event without tenant dropped", zap.String("action", e.Action), zap.String("resource", e.Resource))
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	entry := &domain.AuditLog{
		ID:             uuid.New().String(),
		TenantID:       e.TenantID,
		UserID:         e.UserID,
		ImpersonatorID: e.ImpersonatorID,
		Action:         e.Action,
		Resource:       e.Resource,
		IP:             ip,
		Metadata:       e.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	tc := tenancy.ForTenant(e.TenantID).WithUser(e.UserID, "")
	err := l.runner.Run(ctx, tc, func(ctx context.Context, tx *tenancy.Tx) error {
		return l.repo.Create(ctx, tx, entry)
	})
	if err != nil {
		l.log.Warn("failed to log audit event",
			zap.String("action", e.Action),
			zap.String("resource", e.Resource),
			zap.Int64("tenant_id", e.TenantID),
			zap.Error(err),
		)
	}
}

// List returns the tenant's most recent audit entries.
func (l *Logger) List(ctx context.Context, tenantID int64, limit, offset int32) ([]*domain.AuditLog, error) {
	var out []*domain.AuditLog
	err := l.runner.Read(ctx, strconv.FormatInt(tenantID, 10), func(ctx context.Context, tx *tenancy.Tx) error {
		var err error
		out, err = l.repo.ListRecent(ctx, tx, limit, offset)
		return err
	})
	return out, err
}
