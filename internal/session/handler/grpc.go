package handler

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"lms-platform/backend/internal/audit"
	"lms-platform/backend/internal/platform/rbac"
	"lms-platform/backend/internal/platform/rpc"
	"lms-platform/backend/internal/server/interceptors"
	"lms-platform/backend/internal/session/domain"
	"lms-platform/backend/internal/session/service"
)

// ServiceName is the fully qualified name of the session service.
const ServiceName = "lms.session.v1.SessionService"

// Server serves session listing and revocation. Users manage their own sessions;
// admins manage any session of their tenant.
type Server struct {
	store       *service.SessionStore
	matrix      *rbac.Matrix
	auditLogger audit.AuditLogger
	log         *zap.Logger
}

// NewServer returns a new Session gRPC server. If store is nil, all RPCs return Unimplemented.
func NewServer(store *service.SessionStore, matrix *rbac.Matrix, auditLogger audit.AuditLogger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: store, matrix: matrix, auditLogger: auditLogger, log: log.Named("session_handler")}
}

// Service returns the service descriptor with every method bound to s.
func (s *Server) Service() *rpc.Service {
	return rpc.NewService(ServiceName).
		Handle("ListSessions", s.ListSessions).
		Handle("GetSession", s.GetSession).
		Handle("RevokeSession", s.RevokeSession).
		Handle("RevokeAllSessionsForUser", s.RevokeAllSessionsForUser)
}

// ListSessions returns the active sessions of user_id (default: the caller), most
// recently used first. Listing another user's sessions requires the admin role.
func (s *Server) ListSessions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unimplemented, "method ListSessions not implemented")
	}
	caller, err := rbac.RequirePermission(ctx, s.matrix, s.log, rbac.ResourceSessions, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	target := rpc.String(req, "user_id")
	if target == "" {
		target = caller.UserID
	}
	if target != caller.UserID {
		if _, err := rbac.RequireRoleAtLeast(ctx, s.matrix, rbac.RoleAdmin); err != nil {
			return nil, err
		}
	}
	list, err := s.store.List(ctx, caller.TenantID, target)
	if err != nil {
		return nil, s.internal("list sessions", err)
	}
	items := make([]any, len(list))
	for i, sess := range list {
		items[i] = sessionFields(sess, sess.ID == caller.SessionID)
	}
	return rpc.Response(map[string]any{"sessions": items})
}

// GetSession returns one session of the caller's tenant by session_id.
func (s *Server) GetSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unimplemented, "method GetSession not implemented")
	}
	caller, err := rbac.RequirePermission(ctx, s.matrix, s.log, rbac.ResourceSessions, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	sess, err := s.ownedSession(ctx, caller, req)
	if err != nil {
		return nil, err
	}
	return rpc.Response(map[string]any{"session": sessionFields(sess, sess.ID == caller.SessionID)})
}

// RevokeSession revokes session_id. Revoking an already revoked session succeeds.
func (s *Server) RevokeSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unimplemented, "method RevokeSession not implemented")
	}
	caller, err := rbac.RequirePermission(ctx, s.matrix, s.log, rbac.ResourceSessions, rbac.ActionRevoke)
	if err != nil {
		return nil, err
	}
	sess, err := s.ownedSession(ctx, caller, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.Revoke(ctx, caller.TenantID, sess.ID); err != nil {
		return nil, s.internal("revoke session", err)
	}
	if s.auditLogger != nil {
		s.auditLogger.LogEvent(ctx, audit.Event{
			TenantID: caller.TenantID, UserID: caller.UserID, ImpersonatorID: caller.Impersonator,
			Action: "revoke", Resource: "session", Metadata: sess.ID,
		})
	}
	return rpc.Response(map[string]any{})
}

// RevokeAllSessionsForUser revokes every session of user_id in the caller's tenant. Admin only.
func (s *Server) RevokeAllSessionsForUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unimplemented, "method RevokeAllSessionsForUser not implemented")
	}
	caller, err := rbac.RequireRoleAtLeast(ctx, s.matrix, rbac.RoleAdmin)
	if err != nil {
		return nil, err
	}
	target, err := rpc.RequireString(req, "user_id")
	if err != nil {
		return nil, err
	}
	n, err := s.store.RevokeAll(ctx, caller.TenantID, target, "")
	if err != nil {
		return nil, s.internal("revoke sessions", err)
	}
	if s.auditLogger != nil {
		s.auditLogger.LogEvent(ctx, audit.Event{
			TenantID: caller.TenantID, UserID: caller.UserID, ImpersonatorID: caller.Impersonator,
			Action: "revoke", Resource: "session", Metadata: "all:" + target,
		})
	}
	return rpc.Response(map[string]any{"revoked": n})
}

// ownedSession loads session_id from the caller's tenant. Non-admins only see their own sessions;
// anything else is NotFound.
func (s *Server) ownedSession(ctx context.Context, caller interceptors.Identity, req *structpb.Struct) (*domain.Session, error) {
	id, err := rpc.RequireString(req, "session_id")
	if err != nil {
		return nil, err
	}
	// Session ids are UUIDs; anything else cannot exist and must not reach the UUID column.
	if _, err := uuid.Parse(id); err != nil {
		return nil, status.Error(codes.NotFound, "session not found")
	}
	sess, err := s.store.Get(ctx, caller.TenantID, id)
	if errors.Is(err, service.ErrSessionNotFound) {
		return nil, status.Error(codes.NotFound, "session not found")
	}
	if err != nil {
		return nil, s.internal("get session", err)
	}
	if sess.UserID != caller.UserID {
		top, _ := s.matrix.HighestRole(s.matrix.ParseRoles(caller.Roles))
		if !s.matrix.IsRoleAtLeast(top, rbac.RoleAdmin) {
			return nil, status.Error(codes.NotFound, "session not found")
		}
	}
	return sess, nil
}

func (s *Server) internal(op string, err error) error {
	s.log.Error(op+" failed", zap.Error(err))
	return status.Error(codes.Internal, "failed to "+op)
}

func sessionFields(sess *domain.Session, current bool) map[string]any {
	revokedAt := ""
	if sess.RevokedAt != nil {
		revokedAt = rpc.Time(*sess.RevokedAt)
	}
	return map[string]any{
		"id":              sess.ID,
		"user_id":         sess.UserID,
		"tenant_id":       sess.TenantID,
		"impersonator_id": sess.ImpersonatorID,
		"user_agent":      sess.UserAgent,
		"ip_address":      sess.IPAddress,
		"created_at":      rpc.Time(sess.CreatedAt),
		"expires_at":      rpc.Time(sess.ExpiresAt),
		"last_used_at":    rpc.Time(sess.LastUsedAt),
		"revoked_at":      revokedAt,
		"current":         current,
	}
}
