package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"lms-platform/backend/internal/audit"
	"lms-platform/backend/internal/mfa"
	"lms-platform/backend/internal/platform/rbac"
	"lms-platform/backend/internal/policy/engine"
	"lms-platform/backend/internal/ratelimit"
	"lms-platform/backend/internal/security"
	"lms-platform/backend/internal/server/interceptors"
	sessionservice "lms-platform/backend/internal/session/service"
	"lms-platform/backend/internal/telemetry"
	"lms-platform/backend/internal/tenancy"
	userdomain "lms-platform/backend/internal/user/domain"
	userrepo "lms-platform/backend/internal/user/repository"
)

// Sentinel errors for auth service; handler maps them to gRPC codes.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRateLimited         = errors.New("too many attempts; try again later")
	ErrInvalidMFACode      = errors.New("invalid mfa code")
	ErrMFANotEnrolled      = errors.New("mfa enrollment required")
	ErrEmailAlreadyExists  = errors.New("email already registered")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrUserNotFound        = errors.New("user not found")
	ErrUnauthenticated     = errors.New("authentication required")
	ErrNestedImpersonation = errors.New("cannot impersonate while impersonating")
)

// Limits bounds login and MFA attempts per key and window.
type Limits struct {
	MaxAttempts int
	Window      time.Duration
}

// Deps are the collaborators of AuthService. Limiter, Audit and Events may be nil.
type Deps struct {
	Runner   tenancy.Runner
	Users    userrepo.Repository
	Sessions *sessionservice.SessionStore
	Vault    *security.PasswordVault
	Codec    *security.TokenCodec
	Matrix   *rbac.Matrix
	Policy   engine.Evaluator
	TOTP     *mfa.TOTP
	Limiter  ratelimit.Limiter
	Limits   Limits
	Password security.PasswordPolicy
	Audit    audit.AuditLogger
	Events   telemetry.EventEmitter
	Log      *zap.Logger
}

// AuthService implements password login with an optional TOTP second factor, token
// refresh, logout, impersonation and MFA enrollment.
type AuthService struct {
	Deps
	log *zap.Logger
}

// LoginRequest is the input of Login.
type LoginRequest struct {
	TenantID  int64
	Email     string
	Password  string
	UserAgent string
	IP        string
}

// LoginResult is either a session (MFARequired false) or an MFA challenge.
type LoginResult struct {
	MFARequired        bool
	ChallengeToken     string
	ChallengeExpiresAt time.Time
	Session            *sessionservice.Issued
	UserID             string
	TenantID           int64
	Roles              []string
}

// NewAuthService returns an AuthService. Runner, Users, Sessions, Vault, Codec, Matrix,
// Policy and TOTP are required.
func NewAuthService(d Deps) (*AuthService, error) {
	if d.Runner == nil || d.Users == nil || d.Sessions == nil || d.Vault == nil ||
		d.Codec == nil || d.Matrix == nil || d.Policy == nil || d.TOTP == nil {
		return nil, errors.New("identity: missing dependency")
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	}
	if d.Limits.MaxAttempts <= 0 {
		d.Limits.MaxAttempts = 5
	}
	if d.Limits.Window <= 0 {
		d.Limits.Window = 15 * time.Minute
	}
	if d.Password.MinLength == 0 {
		d.Password = security.DefaultPasswordPolicy()
	}
	if d.Events == nil {
		d.Events = telemetry.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &AuthService{Deps: d, log: d.Log.Named("auth")}, nil
}

// Login authenticates with email and password within a tenant. Unknown email, wrong
// password and suspended account all return ErrInvalidCredentials after comparable work.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := userdomain.NormalizeEmail(req.Email)
	if req.TenantID <= 0 || email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := s.allow(ctx, ratelimit.LoginKey(req.TenantID, email)); err != nil {
		ev := telemetry.NewEvent(telemetry.EventLoginRateLimited, req.TenantID, "")
		ev.IP = req.IP
		ev.Metadata = map[string]string{"email": email}
		telemetry.EmitAsync(s.log, s.Events, ev)
		return nil, err
	}

	var user *userdomain.User
	err := s.Runner.Read(ctx, tenantString(req.TenantID), func(ctx context.Context, tx *tenancy.Tx) error {
		var err error
		user, err = s.Users.GetByEmail(ctx, tx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.Vault.DummyVerify(req.Password)
		s.loginFailed(req, "", "unknown_email")
		return nil, ErrInvalidCredentials
	}
	if !s.Vault.Verify(req.Password, user.PasswordHash) {
		s.loginFailed(req, user.ID, "bad_password")
		return nil, ErrInvalidCredentials
	}
	if !user.Active() {
		s.loginFailed(req, user.ID, "suspended")
		return nil, ErrInvalidCredentials
	}
	s.rehashIfNeeded(ctx, user, req.Password)

	roles := s.Matrix.ParseRoles(user.Roles)
	if len(roles) == 0 {
		s.log.Warn("user has no recognised roles", zap.Int64("tenant_id", user.TenantID), zap.String("user_id", user.ID))
		s.loginFailed(req, user.ID, "no_roles")
		return nil, ErrInvalidCredentials
	}
	roleNames := rbac.Strings(roles)

	decision, err := s.Policy.EvaluateMFA(ctx, engine.MFAInput{
		TenantID:    user.TenantID,
		UserID:      user.ID,
		Roles:       roleNames,
		MFAEnabled:  user.MFAEnabled,
		MFAEnrolled: user.MFASecret != "",
	})
	if err != nil {
		return nil, err
	}
	if decision.Required {
		if !user.MFAEnabled || user.MFASecret == "" {
			// Same answer as a wrong password; the reason goes to the event and log only.
			s.loginFailed(req, user.ID, "mfa_not_enrolled")
			return nil, ErrInvalidCredentials
		}
		claims := security.TokenClaims{UserID: user.ID, TenantID: user.TenantID, Roles: roleNames}
		token, exp, err := s.Codec.IssueChallenge(claims)
		if err != nil {
			return nil, err
		}
		ev := telemetry.NewEvent(telemetry.EventMFAChallengeIssued, user.TenantID, user.ID)
		ev.IP = req.IP
		telemetry.EmitAsync(s.log, s.Events, ev)
		return &LoginResult{
			MFARequired:        true,
			ChallengeToken:     token,
			ChallengeExpiresAt: exp,
			UserID:             user.ID,
			TenantID:           user.TenantID,
			Roles:              roleNames,
		}, nil
	}
	return s.completeLogin(ctx, user, roleNames, req.UserAgent, req.IP, "password")
}

// VerifyMFA exchanges a challenge token and a current TOTP code for a session. Roles are
// re-read from the user record, not taken from the challenge.
func (s *AuthService) VerifyMFA(ctx context.Context, challengeToken, code, userAgent, ip string) (*LoginResult, error) {
	payload, err := s.Codec.VerifyChallenge(challengeToken)
	if err != nil {
		return nil, err
	}
	if err := s.allow(ctx, ratelimit.MFAKey(payload.TenantID, payload.Subject)); err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx, payload.TenantID, payload.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active() || !user.MFAEnabled || !s.TOTP.Validate(user.MFASecret, code) {
		ev := telemetry.NewEvent(telemetry.EventMFAFailed, payload.TenantID, payload.Subject)
		ev.IP = ip
		telemetry.EmitAsync(s.log, s.Events, ev)
		return nil, ErrInvalidMFACode
	}
	roles := rbac.Strings(s.Matrix.ParseRoles(user.Roles))
	_ = s.Limiter.Reset(ctx, ratelimit.MFAKey(payload.TenantID, payload.Subject))
	return s.completeLogin(ctx, user, roles, userAgent, ip, "mfa")
}

func (s *AuthService) completeLogin(ctx context.Context, user *userdomain.User, roles []string, userAgent, ip, method string) (*LoginResult, error) {
	issued, err := s.Sessions.Create(ctx, sessionservice.CreateParams{
		TenantID:  user.TenantID,
		UserID:    user.ID,
		Roles:     roles,
		UserAgent: userAgent,
		IP:        ip,
	})
	if err != nil {
		return nil, err
	}
	_ = s.Limiter.Reset(ctx, ratelimit.LoginKey(user.TenantID, user.Email))
	now := time.Now().UTC()
	err = s.Runner.Run(ctx, tenancy.ForTenant(user.TenantID).WithUser(user.ID, ""), func(ctx context.Context, tx *tenancy.Tx) error {
		return s.Users.UpdateLastLogin(ctx, tx, user.ID, now)
	})
	if err != nil {
		s.log.Warn("update last login failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	ev := telemetry.NewEvent(telemetry.EventLoginSucceeded, user.TenantID, user.ID)
	ev.SessionID = issued.Session.ID
	ev.IP = ip
	ev.Metadata = map[string]string{"method": method}
	telemetry.EmitAsync(s.log, s.Events, ev)
	s.audit(ctx, audit.Event{TenantID: user.TenantID, UserID: user.ID, Action: "login", Resource: "session", Metadata: method})

	return &LoginResult{
		Session:  issued,
		UserID:   user.ID,
		TenantID: user.TenantID,
		Roles:    roles,
	}, nil
}

// Refresh rotates the refresh token. See SessionStore.Refresh for reuse detection.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip string) (*sessionservice.Issued, error) {
	return s.Sessions.Refresh(ctx, refreshToken, ip)
}

// Logout revokes the session identified by the refresh token or by the access token in context.
// If refreshToken is non-empty, it must verify and still be the session's current token.
// If refreshToken is empty, the caller's current session is revoked.
// An invalid refresh token is a no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_, err := s.Sessions.RevokeByRefreshToken(ctx, refreshToken)
		if errors.Is(err, security.ErrInvalidToken) {
			return nil
		}
		return err
	}
	id, ok := interceptors.GetIdentity(ctx)
	if !ok || id.SessionID == "" {
		return nil
	}
	return s.Sessions.Revoke(ctx, id.TenantID, id.SessionID)
}

// LogoutAll revokes every session of the caller, optionally keeping the current one.
func (s *AuthService) LogoutAll(ctx context.Context, keepCurrent bool) (int64, error) {
	id, ok := interceptors.GetIdentity(ctx)
	if !ok || id.UserID == "" {
		return 0, ErrUnauthenticated
	}
	except := ""
	if keepCurrent {
		except = id.SessionID
	}
	return s.Sessions.RevokeAll(ctx, id.TenantID, id.UserID, except)
}

func (s *AuthService) allow(ctx context.Context, key string) error {
	d, err := s.Limiter.Allow(ctx, key, s.Limits.MaxAttempts, s.Limits.Window)
	if err != nil {
		// Fail open on limiter errors.
		s.log.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !d.Allowed {
		return ErrRateLimited
	}
	return nil
}

func (s *AuthService) rehashIfNeeded(ctx context.Context, user *userdomain.User, password string) {
	if !s.Vault.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.Vault.Hash(password)
	if err != nil {
		s.log.Warn("rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	err = s.Runner.Run(ctx, tenancy.ForTenant(user.TenantID).WithUser(user.ID, ""), func(ctx context.Context, tx *tenancy.Tx) error {
		return s.Users.UpdatePasswordHash(ctx, tx, user.ID, hash)
	})
	if err != nil {
		s.log.Warn("store rehashed password failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	s.log.Info("password rehashed", zap.Int64("tenant_id", user.TenantID), zap.String("user_id", user.ID))
}

func (s *AuthService) loginFailed(req LoginRequest, userID, reason string) {
	ev := telemetry.NewEvent(telemetry.EventLoginFailed, req.TenantID, userID)
	ev.IP = req.IP
	ev.Metadata = map[string]string{"reason": reason}
	telemetry.EmitAsync(s.log, s.Events, ev)
	s.log.Debug("login failed", zap.Int64("tenant_id", req.TenantID), zap.String("reason", reason))
}

func (s *AuthService) loadUser(ctx context.Context, tenantID int64, userID string) (*userdomain.User, error) {
	var user *userdomain.User
	err := s.Runner.Read(ctx, tenantString(tenantID), func(ctx context.Context, tx *tenancy.Tx) error {
		var err error
		user, err = s.Users.GetByID(ctx, tx, userID)
		return err
	})
	return user, err
}

func (s *AuthService) audit(ctx context.Context, e audit.Event) {
	if s.Audit != nil {
		s.Audit.LogEvent(ctx, e)
	}
}

func tenantString(id int64) string {
	return strconv.FormatInt(id, 10)
}
