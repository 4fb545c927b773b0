package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lms-platform/backend/internal/audit"
	"lms-platform/backend/internal/mfa"
	"lms-platform/backend/internal/platform/rbac"
	"lms-platform/backend/internal/security"
	"lms-platform/backend/internal/server/interceptors"
	sessionservice "lms-platform/backend/internal/session/service"
	"lms-platform/backend/internal/telemetry"
	"lms-platform/backend/internal/tenancy"
	userdomain "lms-platform/backend/internal/user/domain"
	userrepo "lms-platform/backend/internal/user/repository"
)

// PasswordPolicyError lists every policy violation of a rejected password.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password policy: " + strings.Join(e.Violations, "; ")
}

// RegisterRequest is the input of Register.
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	Roles    []string
}

// Register creates a user in the caller's tenant. The caller needs (users, create) and
// cannot grant a role above its own highest role.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*userdomain.User, error) {
	caller, ok := interceptors.GetIdentity(ctx)
	if !ok || caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	callerRoles := s.Matrix.ParseRoles(caller.Roles)
	if err := s.Matrix.AssertPermission(callerRoles, rbac.ResourceUsers, rbac.ActionCreate); err != nil {
		return nil, err
	}
	roles := s.Matrix.ParseRoles(req.Roles)
	if len(roles) == 0 {
		roles = []rbac.Role{rbac.RoleStudent}
	}
	callerTop, _ := s.Matrix.HighestRole(callerRoles)
	if top, _ := s.Matrix.HighestRole(roles); !s.Matrix.IsRoleAtLeast(callerTop, top) {
		return nil, &rbac.AuthorizationError{Resource: rbac.ResourceUsers, Action: "grant:" + string(top), Roles: callerRoles}
	}

	email := userdomain.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, req.Email)
	}
	if res := security.ValidatePolicy(req.Password, s.Password); !res.Valid {
		return nil, &PasswordPolicyError{Violations: res.Errors}
	}
	hash, err := s.Vault.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		TenantID:     caller.TenantID,
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Roles:        rbac.Strings(roles),
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tc := tenancy.ForTenant(caller.TenantID).WithUser(caller.UserID, string(callerTop))
	err = s.Runner.Run(ctx, tc, func(ctx context.Context, tx *tenancy.Tx) error {
		existing, err := s.Users.GetByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrEmailAlreadyExists
		}
		return s.Users.Create(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Impersonate opens a session as targetUserID on behalf of the caller. The caller must
// pass CanImpersonateUser and must not itself be impersonated.
func (s *AuthService) Impersonate(ctx context.Context, targetUserID, userAgent, ip string) (*sessionservice.Issued, error) {
	actor, ok := interceptors.GetIdentity(ctx)
	if !ok || actor.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if actor.Impersonator != "" {
		return nil, ErrNestedImpersonation
	}
	target, err := s.loadUser(ctx, actor.TenantID, targetUserID)
	if err != nil {
		return nil, err
	}
	if target == nil || !target.Active() {
		return nil, ErrUserNotFound
	}
	actorRoles := s.Matrix.ParseRoles(actor.Roles)
	targetRoles := s.Matrix.ParseRoles(target.Roles)
	if !s.Matrix.CanImpersonateUser(actorRoles, targetRoles, actor.UserID, target.ID) {
		ev := telemetry.NewEvent(telemetry.EventImpersonationDenied, actor.TenantID, target.ID)
		ev.ImpersonatorID = actor.UserID
		ev.IP = ip
		telemetry.EmitAsync(s.log, s.Events, ev)
		return nil, &rbac.AuthorizationError{Resource: rbac.ResourceUsers, Action: rbac.ActionImpersonate, Roles: actorRoles}
	}

	issued, err := s.Sessions.CreateImpersonation(ctx, actor.UserID, sessionservice.CreateParams{
		TenantID:  actor.TenantID,
		UserID:    target.ID,
		Roles:     rbac.Strings(targetRoles),
		UserAgent: userAgent,
		IP:        ip,
	})
	if err != nil {
		return nil, err
	}
	ev := telemetry.NewEvent(telemetry.EventImpersonationStart, actor.TenantID, target.ID)
	ev.ImpersonatorID = actor.UserID
	ev.SessionID = issued.Session.ID
	ev.IP = ip
	telemetry.EmitAsync(s.log, s.Events, ev)
	s.audit(ctx, audit.Event{
		TenantID: actor.TenantID, UserID: target.ID, ImpersonatorID: actor.UserID,
		Action: "impersonate", Resource: "user", Metadata: "session:" + issued.Session.ID,
	})
	s.log.Info("impersonation started",
		zap.Int64("tenant_id", actor.TenantID),
		zap.String("actor_id", actor.UserID),
		zap.String("target_id", target.ID),
	)
	return issued, nil
}

// EnrollMFA generates a new TOTP secret for the caller and stores it as pending. An
// already active secret keeps working until ConfirmMFA succeeds with a code from the
// new one.
func (s *AuthService) EnrollMFA(ctx context.Context) (*mfa.Enrollment, error) {
	caller, ok := interceptors.GetIdentity(ctx)
	if !ok || caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if caller.Impersonator != "" {
		return nil, ErrNestedImpersonation
	}
	user, err := s.loadUser(ctx, caller.TenantID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	enrollment, err := s.TOTP.Generate(user.Email)
	if err != nil {
		return nil, err
	}
	err = s.Runner.Run(ctx, tenancy.ForTenant(user.TenantID).WithUser(user.ID, ""), func(ctx context.Context, tx *tenancy.Tx) error {
		return s.Users.SetPendingMFASecret(ctx, tx, user.ID, enrollment.Secret)
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ConfirmMFA promotes the pending secret and enables MFA once the caller proves
// possession of it.
func (s *AuthService) ConfirmMFA(ctx context.Context, code string) error {
	caller, ok := interceptors.GetIdentity(ctx)
	if !ok || caller.UserID == "" {
		return ErrUnauthenticated
	}
	user, err := s.loadUser(ctx, caller.TenantID, caller.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	pending := user.MFAPendingSecret
	if pending == "" {
		return ErrMFANotEnrolled
	}
	if !s.TOTP.Validate(pending, code) {
		return ErrInvalidMFACode
	}
	err = s.Runner.Run(ctx, tenancy.ForTenant(user.TenantID).WithUser(user.ID, ""), func(ctx context.Context, tx *tenancy.Tx) error {
		return s.Users.EnableMFA(ctx, tx, user.ID, pending)
	})
	if errors.Is(err, userrepo.ErrNoPendingMFASecret) {
		// A newer enrollment replaced the secret the code was checked against.
		return ErrMFANotEnrolled
	}
	if err != nil {
		return err
	}
	telemetry.EmitAsync(s.log, s.Events, telemetry.NewEvent(telemetry.EventMFAEnrolled, user.TenantID, user.ID))
	return nil
}
