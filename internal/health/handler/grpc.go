package handler

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"lms-platform/backend/internal/platform/rpc"
)

// ServiceName is the fully qualified name of the health service.
const ServiceName = "lms.health.v1.HealthService"

const checkTimeout = 2 * time.Second

// Serving statuses reported by Check.
const (
	StatusServing    = "SERVING"
	StatusNotServing = "NOT_SERVING"
)

// Pinger checks database reachability. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the MFA policy evaluates. *engine.OPAEvaluator implements it.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server implements HealthService for readiness/liveness. Failures are reported in the
// response status, never as a gRPC error.
type Server struct {
	pinger Pinger
	policy PolicyChecker
}

// NewServer returns a new Health gRPC server. Either dependency may be nil to skip its check.
func NewServer(pinger Pinger, policy PolicyChecker) *Server {
	return &Server{pinger: pinger, policy: policy}
}

// Service returns the service descriptor with every method bound to s.
func (s *Server) Service() *rpc.Service {
	return rpc.NewService(ServiceName).Handle("Check", s.Check)
}

// Check returns SERVING when the database and policy engine respond.
func (s *Server) Check(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	checks := map[string]any{}
	serving := true
	if s.pinger != nil {
		if err := s.pinger.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			serving = false
		} else {
			checks["database"] = "ok"
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			checks["policy"] = err.Error()
			serving = false
		} else {
			checks["policy"] = "ok"
		}
	}
	st := StatusServing
	if !serving {
		st = StatusNotServing
	}
	return rpc.Response(map[string]any{"status": st, "checks": checks})
}
