package interceptors

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"lms-platform/backend/internal/telemetry"
)

// TelemetryUnary returns a unary server interceptor that emits an access_denied security
// event whenever an RPC is rejected with PermissionDenied or Unauthenticated.
// Best-effort: emission is async and never fails the RPC. If emitter is nil, the interceptor no-ops.
// skipMethods is the set of full method names to not emit for.
func TelemetryUnary(emitter telemetry.EventEmitter, skipMethods map[string]bool, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if emitter == nil || skipMethods[info.FullMethod] || !isDenial(err) {
			return resp, err
		}
		id, _ := GetIdentity(ctx)
		event := telemetry.NewEvent(telemetry.EventAccessDenied, id.TenantID, id.UserID)
		event.SessionID = id.SessionID
		event.ImpersonatorID = id.Impersonator
		event.IP = ClientIP(ctx)
		event.Metadata = map[string]string{
			"full_method": info.FullMethod,
			"status_code": status.Code(err).String(),
			"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
		}
		telemetry.EmitAsync(log, emitter, event)
		return resp, err
	}
}
