package server

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lms-platform/backend/internal/audit"
	audithandler "lms-platform/backend/internal/audit/handler"
	healthhandler "lms-platform/backend/internal/health/handler"
	identityhandler "lms-platform/backend/internal/identity/handler"
	identityservice "lms-platform/backend/internal/identity/service"
	"lms-platform/backend/internal/platform/rbac"
	"lms-platform/backend/internal/platform/rpc"
	"lms-platform/backend/internal/security"
	"lms-platform/backend/internal/server/interceptors"
	sessionhandler "lms-platform/backend/internal/session/handler"
	sessionservice "lms-platform/backend/internal/session/service"
	"lms-platform/backend/internal/telemetry"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Auth is the auth service. If nil, auth RPCs return Unimplemented.
	Auth *identityservice.AuthService
	// Sessions backs SessionService and the auth interceptor's revocation check. If nil, session RPCs return Unimplemented.
	Sessions *sessionservice.SessionStore
	// Matrix authorizes session and audit RPCs.
	Matrix *rbac.Matrix
	// Audit records session revocations. If nil, revocations are not audited by the handler.
	Audit audit.AuditLogger
	// AuditLister backs AuditService. If nil, ListAuditLogs returns Unimplemented.
	AuditLister audithandler.Lister
	// HealthPinger is used by HealthService for readiness (e.g. *sql.DB). If nil, Check skips DB ping.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used by HealthService for readiness (e.g. OPA evaluator). If nil, Check skips policy check.
	HealthPolicyChecker healthhandler.PolicyChecker
	Log                 *zap.Logger
}

// RegisterServices registers every service with the given server.
//
// Service → handler mapping:
//   - lms.auth.v1.AuthService       → internal/identity/handler
//   - lms.session.v1.SessionService → internal/session/handler
//   - lms.audit.v1.AuditService     → internal/audit/handler
//   - lms.health.v1.HealthService   → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	for _, svc := range Services(deps) {
		svc.Register(s)
	}
}

// Services returns the service descriptors RegisterServices registers.
func Services(deps Deps) []*rpc.Service {
	return []*rpc.Service{
		identityhandler.NewAuthServer(deps.Auth, deps.Log).Service(),
		sessionhandler.NewServer(deps.Sessions, deps.Matrix, deps.Audit, deps.Log).Service(),
		audithandler.NewServer(deps.AuditLister, deps.Matrix, deps.Log).Service(),
		healthhandler.NewServer(deps.HealthPinger, deps.HealthPolicyChecker).Service(),
	}
}

// PublicMethods are callable without an access token.
func PublicMethods() map[string]bool {
	public := map[string]bool{
		rpc.FullMethod(healthhandler.ServiceName, "Check"): true,
	}
	for _, m := range identityhandler.PublicMethods {
		public[m] = true
	}
	return public
}

// unauditedMethods are not written to the audit log: health checks and reads of the log itself.
func unauditedMethods() map[string]bool {
	return map[string]bool{
		rpc.FullMethod(healthhandler.ServiceName, "Check"):        true,
		rpc.FullMethod(audithandler.ServiceName, "ListAuditLogs"): true,
		rpc.FullMethod(identityhandler.ServiceName, "WhoAmI"):     true,
	}
}

// Options configures NewGRPCServer.
type Options struct {
	Codec *security.TokenCodec
	// Sessions is consulted on every authenticated RPC only when CheckSessions is set.
	Sessions      interceptors.SessionChecker
	CheckSessions bool
	Audit         audit.AuditLogger
	Events        telemetry.EventEmitter
	Log           *zap.Logger
}

// NewGRPCServer returns a gRPC server with OTel instrumentation and the interceptor chain:
// panic recovery, request logging, authentication, access-denied events and auditing.
func NewGRPCServer(opts Options) *grpc.Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("grpc")
	var sessions interceptors.SessionChecker
	if opts.CheckSessions {
		sessions = opts.Sessions
	}
	return grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
				log.Error("panic in handler", zap.String("panic", fmt.Sprint(p)), zap.Stack("stack"))
				return status.Error(codes.Internal, "internal error")
			})),
			logging.UnaryServerInterceptor(zapLogger(log), logging.WithLogOnEvents(logging.FinishCall)),
			interceptors.AuthUnary(opts.Codec, sessions, PublicMethods(), log),
			interceptors.TelemetryUnary(opts.Events, nil, log),
			interceptors.AuditUnary(opts.Audit, unauditedMethods()),
		),
	)
}

// zapLogger adapts zap to the middleware logging interface.
func zapLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		zf := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			zf = append(zf, zap.Any(key, fields[i+1]))
		}
		switch lvl {
		case logging.LevelDebug:
			l.Debug(msg, zf...)
		case logging.LevelInfo:
			l.Info(msg, zf...)
		case logging.LevelWarn:
			l.Warn(msg, zf...)
		default:
			l.Error(msg, zf...)
		}
	})
}
