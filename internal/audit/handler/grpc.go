package handler

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"lms-platform/backend/internal/audit/domain"
	"lms-platform/backend/internal/platform/rbac"
	"lms-platform/backend/internal/platform/rpc"
)

// ServiceName is the fully qualified name of the audit service.
const ServiceName = "lms.audit.v1.AuditService"

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Lister reads a tenant's audit log, newest first. *audit.Logger implements it.
type Lister interface {
	List(ctx context.Context, tenantID int64, limit, offset int32) ([]*domain.AuditLog, error)
}

// Server serves ListAuditLogs.
type Server struct {
	lister Lister
	matrix *rbac.Matrix
	log    *zap.Logger
}

// NewServer returns a new Audit gRPC server. If lister is nil, ListAuditLogs returns Unimplemented.
func NewServer(lister Lister, matrix *rbac.Matrix, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{lister: lister, matrix: matrix, log: log.Named("audit_handler")}
}

// Service returns the service descriptor with every method bound to s.
func (s *Server) Service() *rpc.Service {
	return rpc.NewService(ServiceName).Handle("ListAuditLogs", s.ListAuditLogs)
}

// ListAuditLogs returns a page of the caller's tenant audit log. page_size defaults to 50
// (max 100); page_token is the offset returned as next_page_token.
func (s *Server) ListAuditLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.lister == nil {
		return nil, status.Error(codes.Unimplemented, "method ListAuditLogs not implemented")
	}
	caller, err := rbac.RequirePermission(ctx, s.matrix, s.log, rbac.ResourceAuditLogs, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	pageSize := int32(defaultPageSize)
	if n, ok, err := rpc.Int64(req, "page_size"); err != nil {
		return nil, err
	} else if ok && n > 0 {
		pageSize = int32(min(n, maxPageSize))
	}
	offset := int32(0)
	if tok := rpc.String(req, "page_token"); tok != "" {
		if n, err := strconv.ParseInt(tok, 10, 32); err == nil && n >= 0 {
			offset = int32(n)
		}
	}
	list, err := s.lister.List(ctx, caller.TenantID, pageSize, offset)
	if err != nil {
		s.log.Error("list audit logs failed", zap.Int64("tenant_id", caller.TenantID), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to list audit logs")
	}
	items := make([]any, len(list))
	for i, a := range list {
		items[i] = map[string]any{
			"id":              a.ID,
			"tenant_id":       a.TenantID,
			"user_id":         a.UserID,
			"impersonator_id": a.ImpersonatorID,
			"action":          a.Action,
			"resource":        a.Resource,
			"ip":              a.IP,
			"metadata":        a.Metadata,
			"created_at":      rpc.Time(a.CreatedAt),
		}
	}
	next := ""
	if len(list) == int(pageSize) {
		next = strconv.Itoa(int(offset + pageSize))
	}
	return rpc.Response(map[string]any{"audit_logs": items, "next_page_token": next})
}
