// Package service implements the session lifecycle: creation at login, refresh-token
// rotation with reuse detection, revocation, listing and periodic cleanup.
package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"lms-platform/backend/internal/security"
	"lms-platform/backend/internal/session/domain"
	"lms-platform/backend/internal/session/repository"
	"lms-platform/backend/internal/telemetry"
	"lms-platform/backend/internal/tenancy"
)

var (
	// ErrRefreshTokenReuse is returned when a refresh token no longer matches a valid
	// session. Every session of the token's user has been revoked by then.
	ErrRefreshTokenReuse = errors.New("refresh token reuse detected; all sessions revoked")
	ErrSessionNotFound   = errors.New("session not found")
)

// MaintenanceRunner runs cross-tenant housekeeping. *tenancy.Guard implements it.
type MaintenanceRunner interface {
	RunMaintenance(ctx context.Context, fn func(ctx context.Context, tx *tenancy.Tx) error) error
}

// Issued is a persisted session together with the tokens handed to the client.
// The raw refresh token only ever exists here; the session stores its hash.
type Issued struct {
	Session *domain.Session
	Tokens  *security.TokenPair
}

// CreateParams describes a new login session.
type CreateParams struct {
	TenantID  int64
	UserID    string
	Roles     []string
	UserAgent string
	IP        string
}

// SessionStore owns the session state machine.
type SessionStore struct {
	runner  tenancy.Runner
	maint   MaintenanceRunner
	repo    repository.Repository
	codec   *security.TokenCodec
	events  telemetry.EventEmitter
	log     *zap.Logger
	now     func() time.Time
	metrics storeMetrics
}

type storeMetrics struct {
	created metric.Int64Counter
	rotated metric.Int64Counter
	reused  metric.Int64Counter
	revoked metric.Int64Counter
	cleaned metric.Int64Counter
}

// NewSessionStore returns a SessionStore. maint may be nil when Cleanup is never called
// by this process; events may be nil to drop security events.
func NewSessionStore(runner tenancy.Runner, maint MaintenanceRunner, repo repository.Repository, codec *security.TokenCodec, events telemetry.EventEmitter, log *zap.Logger) *SessionStore {
	if log == nil {
		log = zap.NewNop()
	}
	if events == nil {
		events = telemetry.Nop{}
	}
	return &SessionStore{
		runner:  runner,
		maint:   maint,
		repo:    repo,
		codec:   codec,
		events:  events,
		log:     log.Named("session"),
		now:     func() time.Time { return time.Now().UTC() },
		metrics: newStoreMetrics(),
	}
}

func newStoreMetrics() storeMetrics {
	meter := otel.Meter("lms-platform/backend/session")
	var m storeMetrics
	m.created, _ = meter.Int64Counter("session.created", metric.WithDescription("Sessions created at login or impersonation"))
	m.rotated, _ = meter.Int64Counter("session.rotated", metric.WithDescription("Successful refresh token rotations"))
	m.reused, _ = meter.Int64Counter("session.refresh_reuse", metric.WithDescription("Refresh token reuse detections"))
	m.revoked, _ = meter.Int64Counter("session.revoked", metric.WithDescription("Sessions revoked"))
	m.cleaned, _ = meter.Int64Counter("session.cleaned", metric.WithDescription("Stale sessions deleted by cleanup"))
	return m
}

func (s *SessionStore) add(ctx context.Context, c metric.Int64Counter, n int64, tenantID int64) {
	if c == nil || n == 0 {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attribute.Int64("tenant_id", tenantID)))
}

// Create opens a session for the user and returns it with a fresh token pair.
func (s *SessionStore) Create(ctx context.Context, p CreateParams) (*Issued, error) {
	return s.create(ctx, p, "")
}

// CreateImpersonation opens a session for the target user on behalf of actingAdminID.
// Both tokens carry the impersonator claim and so does every rotation of them.
func (s *SessionStore) CreateImpersonation(ctx context.Context, actingAdminID string, target CreateParams) (*Issued, error) {
	if actingAdminID == "" {
		return nil, errors.New("session: acting admin id is required")
	}
	return s.create(ctx, target, actingAdminID)
}

func (s *SessionStore) create(ctx context.Context, p CreateParams, impersonator string) (*Issued, error) {
	if p.UserID == "" {
		return nil, errors.New("session: user id is required")
	}
	claims := security.TokenClaims{
		UserID:    p.UserID,
		TenantID:  p.TenantID,
		Roles:     p.Roles,
		SessionID: uuid.NewString(),
	}
	var (
		pair *security.TokenPair
		err  error
	)
	if impersonator != "" {
		pair, err = s.codec.IssueImpersonationPair(impersonator, claims)
	} else {
		pair, err = s.codec.IssuePair(claims)
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &domain.Session{
		ID:               claims.SessionID,
		UserID:           p.UserID,
		TenantID:         p.TenantID,
		RefreshTokenHash: security.HashToken(pair.RefreshToken),
		ImpersonatorID:   impersonator,
		UserAgent:        p.UserAgent,
		IPAddress:        p.IP,
		CreatedAt:        now,
		ExpiresAt:        pair.RefreshExpiresAt,
		LastUsedAt:       now,
	}
	tc := tenancy.ForTenant(p.TenantID).WithUser(p.UserID, strings.Join(p.Roles, ","))
	err = s.runner.Run(ctx, tc, func(ctx context.Context, tx *tenancy.Tx) error {
		return s.repo.Create(ctx, tx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.add(ctx, s.metrics.created, 1, p.TenantID)
	s.log.Debug("session created",
		zap.Int64("tenant_id", p.TenantID),
		zap.String("user_id", p.UserID),
		zap.String("session_id", sess.ID),
		zap.Bool("impersonated", impersonator != ""),
	)
	return &Issued{Session: sess, Tokens: pair}, nil
}

// Refresh rotates the refresh token. The presented token must verify as a refresh token
// and its hash must match a non-revoked, non-expired session; the match and the swap are
// one conditional update. When nothing matches, the token was already rotated (or the
// session is gone), so every session of the user is revoked and ErrRefreshTokenReuse is
// returned.
func (s *SessionStore) Refresh(ctx context.Context, refreshToken, ip string) (*Issued, error) {
	payload, err := s.codec.Verify(refreshToken, security.KindRefresh)
	if err != nil {
		return nil, err
	}
	if payload.SessionID == "" || payload.Subject == "" {
		return nil, security.ErrInvalidToken
	}
	claims := payload.Claims()
	pair, err := s.codec.IssuePair(claims)
	if err != nil {
		return nil, err
	}

	var (
		rotated *domain.Session
		revoked int64
	)
	tc := tenancy.ForTenant(payload.TenantID).WithUser(payload.Subject, strings.Join(payload.Roles, ","))
	err = s.runner.Run(ctx, tc, func(ctx context.Context, tx *tenancy.Tx) error {
		var err error
		rotated, err = s.repo.Rotate(ctx, tx, payload.SessionID,
			security.HashToken(refreshToken), security.HashToken(pair.RefreshToken), ip, pair.RefreshExpiresAt)
		if err != nil || rotated != nil {
			return err
		}
		revoked, err = s.repo.RevokeAllByUser(ctx, tx, payload.Subject, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	if rotated == nil {
		s.add(ctx, s.metrics.reused, 1, payload.TenantID)
		s.add(ctx, s.metrics.revoked, revoked, payload.TenantID)
		s.log.Warn("refresh token reuse detected",
			zap.Int64("tenant_id", payload.TenantID),
			zap.String("user_id", payload.Subject),
			zap.String("session_id", payload.SessionID),
			zap.Int64("sessions_revoked", revoked),
		)
		event := telemetry.NewEvent(telemetry.EventRefreshTokenReuse, payload.TenantID, payload.Subject)
		event.SessionID = payload.SessionID
		event.ImpersonatorID = payload.Impersonator
		event.IP = ip
		event.Metadata = map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)}
		telemetry.EmitAsync(s.log, s.events, event)
		return nil, ErrRefreshTokenReuse
	}

	s.add(ctx, s.metrics.rotated, 1, payload.TenantID)
	return &Issued{Session: rotated, Tokens: pair}, nil
}

// Get returns the session, or ErrSessionNotFound when the tenant has no such session.
func (s *SessionStore) Get(ctx context.Context, tenantID int64, sessionID string) (*domain.Session, error) {
	var sess *domain.Session
	err := s.runner.Read(ctx, strconv.FormatInt(tenantID, 10), func(ctx context.Context, tx *tenancy.Tx) error {
		var err error
		sess, err = s.repo.GetByID(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// IsActive reports whether the session exists in the tenant and is neither revoked nor expired.
func (s *SessionStore) IsActive(ctx context.Context, tenantID int64, sessionID string) (bool, error) {
	sess, err := s.Get(ctx, tenantID, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sess.Active(s.now()), nil
}

// Revoke revokes one session. Revoking an unknown or already revoked session succeeds.
func (s *SessionStore) Revoke(ctx context.Context, tenantID int64, sessionID string) error {
	if sessionID == "" {
		return ErrSessionNotFound
	}
	err := s.runner.Run(ctx, tenancy.ForTenant(tenantID), func(ctx context.Context, tx *tenancy.Tx) error {
		return s.repo.Revoke(ctx, tx, sessionID)
	})
	if err != nil {
		return err
	}
	s.add(ctx, s.metrics.revoked, 1, tenantID)
	event := telemetry.NewEvent(telemetry.EventSessionRevoked, tenantID, "")
	event.SessionID = sessionID
	telemetry.EmitAsync(s.log, s.events, event)
	return nil
}

// RevokeByRefreshToken revokes the session refreshToken belongs to, provided the token
// is still the session's current one. An already rotated token revokes nothing. It
// reports whether a session was revoked.
func (s *SessionStore) RevokeByRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	payload, err := s.codec.Verify(refreshToken, security.KindRefresh)
	if err != nil {
		return false, err
	}
	sess, err := s.Get(ctx, payload.TenantID, payload.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sess.RevokedAt != nil || !security.TokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		return false, nil
	}
	return true, s.Revoke(ctx, payload.TenantID, sess.ID)
}

// RevokeAll revokes every active session of userID except exceptSessionID (may be
// empty) and returns how many were revoked.
func (s *SessionStore) RevokeAll(ctx context.Context, tenantID int64, userID, exceptSessionID string) (int64, error) {
	var n int64
	err := s.runner.Run(ctx, tenancy.ForTenant(tenantID).WithUser(userID, ""), func(ctx context.Context, tx *tenancy.Tx) error {
		var err error
		n, err = s.repo.RevokeAllByUser(ctx, tx, userID, exceptSessionID)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.add(ctx, s.metrics.revoked, n, tenantID)
	event := telemetry.NewEvent(telemetry.EventAllSessionsRevoked, tenantID, userID)
	event.SessionID = exceptSessionID
	event.Metadata = map[string]string{"sessions_revoked": strconv.FormatInt(n, 10)}
	telemetry.EmitAsync(s.log, s.events, event)
	return n, nil
}

// List returns the user's active sessions, most recently used first.
func (s *SessionStore) List(ctx context.Context, tenantID int64, userID string) ([]*domain.Session, error) {
	var out []*domain.Session
	err := s.runner.Read(ctx, strconv.FormatInt(tenantID, 10), func(ctx context.Context, tx *tenancy.Tx) error {
		var err error
		out, err = s.repo.ListActiveByUser(ctx, tx, userID)
		return err
	})
	return out, err
}

// Cleanup deletes sessions that expired more than ExpiredRetention ago or were revoked
// more than RevokedRetention ago, across all tenants.
func (s *SessionStore) Cleanup(ctx context.Context) (int64, error) {
	if s.maint == nil {
		return 0, errors.New("session: cleanup requires a maintenance runner")
	}
	now := s.now()
	var n int64
	err := s.maint.RunMaintenance(ctx, func(ctx context.Context, tx *tenancy.Tx) error {
		var err error
		n, err = s.repo.DeleteStale(ctx, tx, now.Add(-domain.ExpiredRetention), now.Add(-domain.RevokedRetention))
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 && s.metrics.cleaned != nil {
		s.metrics.cleaned.Add(ctx, n)
	}
	s.log.Info("session cleanup finished", zap.Int64("deleted", n))
	return n, nil
}
