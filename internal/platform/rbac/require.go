package rbac

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lms-platform/backend/internal/server/interceptors"
)

// RequirePermission ensures the caller is authenticated and that its roles grant (resource, action).
// Returns the caller identity on success; returns a gRPC error (Unauthenticated or PermissionDenied) on failure.
// Denials are logged at debug on log, which may be nil; the caller only sees "permission denied".
func RequirePermission(ctx context.Context, m *Matrix, log *zap.Logger, resource, action string) (interceptors.Identity, error) {
	id, ok := interceptors.GetIdentity(ctx)
	if !ok || id.UserID == "" || id.TenantID <= 0 {
		return interceptors.Identity{}, status.Error(codes.Unauthenticated, "tenant and user context required")
	}
	if err := m.AssertPermission(m.ParseRoles(id.Roles), resource, action); err != nil {
		if authErr, ok := IsAuthorizationError(err); ok && log != nil {
			log.Debug("permission denied",
				zap.Int64("tenant_id", id.TenantID),
				zap.String("user_id", id.UserID),
				zap.String("resource", authErr.Resource),
				zap.String("action", authErr.Action),
				zap.Strings("roles", Strings(authErr.Roles)),
			)
		}
		return interceptors.Identity{}, status.Error(codes.PermissionDenied, "permission denied")
	}
	return id, nil
}

// RequireRoleAtLeast ensures the caller is authenticated and its highest role ranks at or above min.
func RequireRoleAtLeast(ctx context.Context, m *Matrix, min Role) (interceptors.Identity, error) {
	id, ok := interceptors.GetIdentity(ctx)
	if !ok || id.UserID == "" || id.TenantID <= 0 {
		return interceptors.Identity{}, status.Error(codes.Unauthenticated, "tenant and user context required")
	}
	highest, ok := m.HighestRole(m.ParseRoles(id.Roles))
	if !ok || !m.IsRoleAtLeast(highest, min) {
		return interceptors.Identity{}, status.Error(codes.PermissionDenied, string(min)+" role required")
	}
	return id, nil
}
