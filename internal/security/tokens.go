package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	// ErrInvalidToken is returned for every verification failure: malformed, expired,
	// wrong kind, bad signature, wrong issuer or audience. The cause is only logged.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWeakSecret is returned by NewTokenCodec when the signing secret is shorter than MinSecretLength.
	ErrWeakSecret = errors.New("security: signing secret must be at least 32 bytes")
)

const (
	// MinSecretLength is the minimum HMAC secret length in bytes.
	MinSecretLength = 32
	// DefaultAccessTTL and DefaultRefreshTTL apply when CodecConfig leaves them zero.
	DefaultAccessTTL  = 900 * time.Second
	DefaultRefreshTTL = 604800 * time.Second
	// ChallengeTTL is the lifetime of an MFA challenge token.
	ChallengeTTL = 5 * time.Minute

	challengeAudienceSuffix = ":mfa"
)

// Kind discriminates token usage. A token is only accepted where its kind is expected.
type Kind string

const (
	KindAccess       Kind = "access"
	KindRefresh      Kind = "refresh"
	KindMFAChallenge Kind = "mfa_challenge"
)

// TokenClaims is the identity a token is issued for.
type TokenClaims struct {
	UserID       string
	TenantID     int64
	Roles        []string
	SessionID    string
	Impersonator string
}

// TokenPayload is the verified (or, from DecodeUnsafe, unverified) content of a token.
type TokenPayload struct {
	ID           string
	Subject      string
	TenantID     int64
	Roles        []string
	Kind         Kind
	SessionID    string
	Impersonator string
	Issuer       string
	Audience     []string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Claims returns the identity part of the payload, suitable for re-issuing.
func (p *TokenPayload) Claims() TokenClaims {
	return TokenClaims{
		UserID:       p.Subject,
		TenantID:     p.TenantID,
		Roles:        append([]string(nil), p.Roles...),
		SessionID:    p.SessionID,
		Impersonator: p.Impersonator,
	}
}

// TokenPair is an access and refresh token issued together for one session.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	TenantID     int64    `json:"tid"`
	Roles        []string `json:"roles"`
	Kind         Kind     `json:"kind"`
	SessionID    string   `json:"sid,omitempty"`
	Impersonator string   `json:"imp,omitempty"`
}

// CodecConfig configures a TokenCodec.
type CodecConfig struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenCodec issues and verifies HS256 JWTs carrying tenant, user and role claims.
// It holds no mutable state and is safe for concurrent use.
type TokenCodec struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewTokenCodec returns a TokenCodec. The secret must be at least 32 bytes.
func NewTokenCodec(cfg CodecConfig, log *zap.Logger) (*TokenCodec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("security: issuer and audience are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &TokenCodec{
		secret:     secret,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		log:        log,
		now:        time.Now,
	}, nil
}

// AccessTTL returns the access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess issues a short-lived access token.
func (c *TokenCodec) IssueAccess(claims TokenClaims) (string, time.Time, error) {
	return c.issue(claims, KindAccess, c.audience, c.accessTTL)
}

// IssueRefresh issues a long-lived refresh token. Every call yields a distinct jti,
// so two refresh tokens for the same session never collide on their hash.
func (c *TokenCodec) IssueRefresh(claims TokenClaims) (string, time.Time, error) {
	return c.issue(claims, KindRefresh, c.audience, c.refreshTTL)
}

// IssueChallenge issues an MFA challenge token. It has a 5 minute lifetime and a
// distinct audience, so it can never pass as an access token.
func (c *TokenCodec) IssueChallenge(claims TokenClaims) (string, time.Time, error) {
	return c.issue(claims, KindMFAChallenge, c.challengeAudience(), ChallengeTTL)
}

// IssuePair issues an access and refresh token for the same session.
func (c *TokenCodec) IssuePair(claims TokenClaims) (*TokenPair, error) {
	access, accessExp, err := c.IssueAccess(claims)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := c.IssueRefresh(claims)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueImpersonationPair issues a pair for target stamped with the acting admin as impersonator.
func (c *TokenCodec) IssueImpersonationPair(actingAdminID string, target TokenClaims) (*TokenPair, error) {
	if actingAdminID == "" {
		return nil, errors.New("security: impersonator id is required")
	}
	target.Impersonator = actingAdminID
	return c.IssuePair(target)
}

func (c *TokenCodec) issue(in TokenClaims, kind Kind, audience string, ttl time.Duration) (string, time.Time, error) {
	if in.UserID == "" || in.TenantID <= 0 {
		return "", time.Time{}, errors.New("security: user id and positive tenant id are required")
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   in.UserID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TenantID:     in.TenantID,
		Roles:        roles,
		Kind:         kind,
		SessionID:    in.SessionID,
		Impersonator: in.Impersonator,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("security: sign token: %w", err)
	}
	return token, expiresAt.Truncate(time.Second), nil
}

// Verify checks signature (HS256 only), issuer, audience, expiry and that the token kind
// equals expected. Every failure returns ErrInvalidToken.
func (c *TokenCodec) Verify(tokenString string, expected Kind) (*TokenPayload, error) {
	audience := c.audience
	if expected == KindMFAChallenge {
		audience = c.challengeAudience()
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	var claims tokenClaims
	token, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, c.reject(expected, err)
	}
	if !token.Valid {
		return nil, c.reject(expected, errors.New("token not valid"))
	}
	if claims.Kind != expected {
		return nil, c.reject(expected, fmt.Errorf("kind %q", claims.Kind))
	}
	if claims.Subject == "" || claims.TenantID <= 0 {
		return nil, c.reject(expected, errors.New("missing subject or tenant"))
	}
	return claims.payload(), nil
}

// VerifyChallenge verifies an MFA challenge token.
func (c *TokenCodec) VerifyChallenge(tokenString string) (*TokenPayload, error) {
	return c.Verify(tokenString, KindMFAChallenge)
}

func (c *TokenCodec) reject(expected Kind, cause error) error {
	c.log.Debug("token verification failed", zap.String("expected_kind", string(expected)), zap.Error(cause))
	return ErrInvalidToken
}

func (c *TokenCodec) challengeAudience() string {
	return c.audience + challengeAudienceSuffix
}

// DecodeUnsafe decodes a token without checking its signature. Returns nil if the token
// cannot be parsed. For logging and debugging only; never use the result for authorization.
func DecodeUnsafe(tokenString string) *TokenPayload {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return nil
	}
	return claims.payload()
}

// IsExpired reports whether the token's exp is in the past. Undecodable tokens and
// tokens without exp count as expired.
func IsExpired(tokenString string) bool {
	p := DecodeUnsafe(tokenString)
	if p == nil || p.ExpiresAt.IsZero() {
		return true
	}
	return !time.Now().Before(p.ExpiresAt)
}

// ExtractTenantID returns the unverified tenant id of a token, or false if absent.
func ExtractTenantID(tokenString string) (int64, bool) {
	p := DecodeUnsafe(tokenString)
	if p == nil || p.TenantID <= 0 {
		return 0, false
	}
	return p.TenantID, true
}

func (c *tokenClaims) payload() *TokenPayload {
	p := &TokenPayload{
		ID:           c.ID,
		Subject:      c.Subject,
		TenantID:     c.TenantID,
		Roles:        c.Roles,
		Kind:         c.Kind,
		SessionID:    c.SessionID,
		Impersonator: c.Impersonator,
		Issuer:       c.Issuer,
		Audience:     []string(c.Audience),
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
