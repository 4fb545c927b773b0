package handler

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"lms-platform/backend/internal/identity/service"
	"lms-platform/backend/internal/platform/rbac"
	"lms-platform/backend/internal/platform/rpc"
	"lms-platform/backend/internal/security"
	"lms-platform/backend/internal/server/interceptors"
	sessionservice "lms-platform/backend/internal/session/service"
	"lms-platform/backend/internal/tenancy"
)

// ServiceName is the fully qualified name of the auth service.
const ServiceName = "lms.auth.v1.AuthService"

// PublicMethods are the auth RPCs callable without an access token.
var PublicMethods = []string{
	rpc.FullMethod(ServiceName, "Login"),
	rpc.FullMethod(ServiceName, "VerifyMFA"),
	rpc.FullMethod(ServiceName, "Refresh"),
	rpc.FullMethod(ServiceName, "Logout"),
}

// AuthServer serves login, MFA, token refresh, logout, impersonation, registration and
// MFA enrollment over AuthService.
type AuthServer struct {
	auth *service.AuthService
	log  *zap.Logger
}

// NewAuthServer returns a new Auth gRPC server. A nil auth service makes every RPC Unimplemented.
func NewAuthServer(auth *service.AuthService, log *zap.Logger) *AuthServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServer{auth: auth, log: log.Named("auth_handler")}
}

// Service returns the service descriptor with every method bound to s.
func (s *AuthServer) Service() *rpc.Service {
	return rpc.NewService(ServiceName).
		Handle("Login", s.guard(s.Login)).
		Handle("VerifyMFA", s.guard(s.VerifyMFA)).
		Handle("Refresh", s.guard(s.Refresh)).
		Handle("Logout", s.guard(s.Logout)).
		Handle("LogoutAll", s.guard(s.LogoutAll)).
		Handle("Impersonate", s.guard(s.Impersonate)).
		Handle("Register", s.guard(s.Register)).
		Handle("EnrollMFA", s.guard(s.EnrollMFA)).
		Handle("ConfirmMFA", s.guard(s.ConfirmMFA)).
		Handle("WhoAmI", s.WhoAmI)
}

func (s *AuthServer) guard(h rpc.Handler) rpc.Handler {
	return func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		if s.auth == nil {
			return nil, status.Error(codes.Unimplemented, "auth service not configured")
		}
		return h(ctx, req)
	}
}

// Login takes tenant_id, email and password. The response carries either tokens or
// mfa_required with a challenge_token.
func (s *AuthServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, ok, err := rpc.Int64(req, "tenant_id")
	if err != nil {
		return nil, err
	}
	if !ok || tenantID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "tenant_id is required")
	}
	email, err := rpc.RequireString(req, "email")
	if err != nil {
		return nil, err
	}
	password, ok := req.GetFields()["password"]
	if !ok || password.GetStringValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "password is required")
	}
	res, err := s.auth.Login(ctx, service.LoginRequest{
		TenantID:  tenantID,
		Email:     email,
		Password:  password.GetStringValue(),
		UserAgent: interceptors.UserAgent(ctx),
		IP:        interceptors.ClientIP(ctx),
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return loginResponse(res)
}

// VerifyMFA takes challenge_token and code.
func (s *AuthServer) VerifyMFA(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	challenge, err := rpc.RequireString(req, "challenge_token")
	if err != nil {
		return nil, err
	}
	code, err := rpc.RequireString(req, "code")
	if err != nil {
		return nil, err
	}
	res, err := s.auth.VerifyMFA(ctx, challenge, code, interceptors.UserAgent(ctx), interceptors.ClientIP(ctx))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return loginResponse(res)
}

// Refresh takes refresh_token and returns a rotated token pair.
func (s *AuthServer) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token, err := rpc.RequireString(req, "refresh_token")
	if err != nil {
		return nil, err
	}
	issued, err := s.auth.Refresh(ctx, token, interceptors.ClientIP(ctx))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return rpc.Response(tokenFields(issued, nil))
}

// Logout revokes the session of refresh_token, or the caller's session when it is omitted.
func (s *AuthServer) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.auth.Logout(ctx, rpc.String(req, "refresh_token")); err != nil {
		return nil, s.toStatus(err)
	}
	return rpc.Response(map[string]any{})
}

// LogoutAll revokes every session of the caller; keep_current spares the calling session.
func (s *AuthServer) LogoutAll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.auth.LogoutAll(ctx, rpc.Bool(req, "keep_current"))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return rpc.Response(map[string]any{"revoked": n})
}

// Impersonate takes user_id and returns tokens for a session acting as that user.
func (s *AuthServer) Impersonate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	target, err := rpc.RequireString(req, "user_id")
	if err != nil {
		return nil, err
	}
	issued, err := s.auth.Impersonate(ctx, target, interceptors.UserAgent(ctx), interceptors.ClientIP(ctx))
	if err != nil {
		return nil, s.toStatus(err)
	}
	fields := tokenFields(issued, nil)
	fields["user_id"] = issued.Session.UserID
	fields["impersonator_id"] = issued.Session.ImpersonatorID
	return rpc.Response(fields)
}

// Register takes email, password, name and roles and creates a user in the caller's tenant.
func (s *AuthServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email, err := rpc.RequireString(req, "email")
	if err != nil {
		return nil, err
	}
	user, err := s.auth.Register(ctx, service.RegisterRequest{
		Email:    email,
		Password: req.GetFields()["password"].GetStringValue(),
		Name:     rpc.String(req, "name"),
		Roles:    rpc.Strings(req, "roles"),
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return rpc.Response(map[string]any{
		"user_id":   user.ID,
		"tenant_id": user.TenantID,
		"email":     user.Email,
		"roles":     rpc.List(user.Roles),
	})
}

// EnrollMFA returns a new TOTP secret and its otpauth URL.
func (s *AuthServer) EnrollMFA(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	enr, err := s.auth.EnrollMFA(ctx)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return rpc.Response(map[string]any{"secret": enr.Secret, "otpauth_url": enr.URL})
}

// ConfirmMFA takes code and turns MFA on.
func (s *AuthServer) ConfirmMFA(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	code, err := rpc.RequireString(req, "code")
	if err != nil {
		return nil, err
	}
	if err := s.auth.ConfirmMFA(ctx, code); err != nil {
		return nil, s.toStatus(err)
	}
	return rpc.Response(map[string]any{"mfa_enabled": true})
}

// WhoAmI echoes the verified caller identity.
func (s *AuthServer) WhoAmI(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	id, ok := interceptors.GetIdentity(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return rpc.Response(map[string]any{
		"user_id":         id.UserID,
		"tenant_id":       id.TenantID,
		"session_id":      id.SessionID,
		"roles":           rpc.List(id.Roles),
		"impersonator_id": id.Impersonator,
	})
}

func loginResponse(res *service.LoginResult) (*structpb.Struct, error) {
	if res.MFARequired {
		return rpc.Response(map[string]any{
			"mfa_required":         true,
			"challenge_token":      res.ChallengeToken,
			"challenge_expires_at": rpc.Time(res.ChallengeExpiresAt),
			"user_id":              res.UserID,
			"tenant_id":            res.TenantID,
		})
	}
	fields := tokenFields(res.Session, res.Roles)
	fields["mfa_required"] = false
	fields["user_id"] = res.UserID
	fields["tenant_id"] = res.TenantID
	return rpc.Response(fields)
}

func tokenFields(issued *sessionservice.Issued, roles []string) map[string]any {
	fields := map[string]any{
		"session_id":         issued.Session.ID,
		"access_token":       issued.Tokens.AccessToken,
		"access_expires_at":  rpc.Time(issued.Tokens.AccessExpiresAt),
		"refresh_token":      issued.Tokens.RefreshToken,
		"refresh_expires_at": rpc.Time(issued.Tokens.RefreshExpiresAt),
	}
	if roles != nil {
		fields["roles"] = rpc.List(roles)
	}
	return fields
}

// toStatus maps service errors to gRPC codes. Unknown errors are logged and become Internal.
func (s *AuthServer) toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	var policyErr *service.PasswordPolicyError
	switch {
	case errors.Is(err, security.ErrInvalidToken),
		errors.Is(err, sessionservice.ErrRefreshTokenReuse):
		// A replayed refresh token must read exactly like a forged one.
		return status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, service.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, service.ErrInvalidMFACode):
		return status.Error(codes.Unauthenticated, "invalid mfa code")
	case errors.Is(err, service.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, service.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, service.ErrMFANotEnrolled):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrEmailAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, sessionservice.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrNestedImpersonation):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &policyErr):
		return status.Error(codes.InvalidArgument, strings.Join(policyErr.Violations, "; "))
	case errors.Is(err, tenancy.ErrInvalidTenantID):
		return status.Error(codes.InvalidArgument, "invalid tenant id")
	case errors.Is(err, service.ErrInvalidEmail):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if _, ok := rbac.IsAuthorizationError(err); ok {
		return status.Error(codes.PermissionDenied, "permission denied")
	}
	s.log.Error("auth rpc failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
