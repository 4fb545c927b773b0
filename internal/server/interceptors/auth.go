package interceptors

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"lms-platform/backend/internal/security"
)

const bearerPrefix = "bearer "

// SessionChecker reports whether the session behind an access token is still live.
// *session/service.SessionStore implements it.
type SessionChecker interface {
	IsActive(ctx context.Context, tenantID int64, sessionID string) (bool, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and puts the caller Identity in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (AuthService Login, VerifyMFA, Refresh; HealthService Check).
// When sessions is non-nil, tokens of revoked or expired sessions are rejected.
func AuthUnary(codec *security.TokenCodec, sessions SessionChecker, publicMethods map[string]bool, log *zap.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		payload, err := codec.Verify(token, security.KindAccess)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		if sessions != nil && payload.SessionID != "" {
			active, err := sessions.IsActive(ctx, payload.TenantID, payload.SessionID)
			if err != nil {
				log.Warn("session check failed", zap.String("method", info.FullMethod), zap.Error(err))
				return nil, status.Error(codes.Unavailable, "session check failed")
			}
			if !active {
				if public {
					return handler(ctx, req)
				}
				return nil, status.Error(codes.Unauthenticated, "session revoked or expired")
			}
		}

		ctx = WithIdentity(ctx, Identity{
			UserID:       payload.Subject,
			TenantID:     payload.TenantID,
			SessionID:    payload.SessionID,
			Roles:        payload.Roles,
			Impersonator: payload.Impersonator,
		})
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
