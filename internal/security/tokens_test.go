package security

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testClaims() TokenClaims {
	return TokenClaims{UserID: "u1", TenantID: 42, Roles: []string{"admin", "instructor"}, SessionID: "s1"}
}

func TestTokenCodec_IssueAndVerifyRoundTrip(t *testing.T) {
	c, err := NewTestTokenCodec()
	if err != nil {
		t.Fatalf("NewTestTokenCodec: %v", err)
	}
	access, exp, err := c.IssueAccess(testClaims())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}
	p, err := c.Verify(access, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "u1" || p.TenantID != 42 || p.SessionID != "s1" || p.Kind != KindAccess {
		t.Errorf("Verify payload = %+v", p)
	}
	if len(p.Roles) != 2 || p.Roles[0] != "admin" || p.Roles[1] != "instructor" {
		t.Errorf("Roles = %v, want [admin instructor]", p.Roles)
	}
	if p.ID == "" {
		t.Error("jti empty")
	}
}

func TestTokenCodec_KindMismatch(t *testing.T) {
	c, _ := NewTestTokenCodec()
	pair, err := c.IssuePair(testClaims())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := c.Verify(pair.AccessToken, KindRefresh); err != ErrInvalidToken {
		t.Errorf("access as refresh: want ErrInvalidToken, got %v", err)
	}
	if _, err := c.Verify(pair.RefreshToken, KindAccess); err != ErrInvalidToken {
		t.Errorf("refresh as access: want ErrInvalidToken, got %v", err)
	}
	if _, err := c.Verify(pair.RefreshToken, KindRefresh); err != nil {
		t.Errorf("refresh as refresh: %v", err)
	}
}

func TestTokenCodec_RefreshTokensAreDistinct(t *testing.T) {
	c, _ := NewTestTokenCodec()
	r1, _, _ := c.IssueRefresh(testClaims())
	r2, _, _ := c.IssueRefresh(testClaims())
	if r1 == r2 || HashToken(r1) == HashToken(r2) {
		t.Error("two refresh tokens for the same claims must differ")
	}
}

func TestTokenCodec_InvalidInputs(t *testing.T) {
	c, _ := NewTestTokenCodec()
	access, _, _ := c.IssueAccess(testClaims())

	other, err := NewTokenCodec(CodecConfig{Secret: []byte(strings.Repeat("z", 32)), Issuer: "test-issuer", Audience: "test-audience"}, nil)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	wrongIssuer, _ := NewTokenCodec(CodecConfig{Secret: []byte(TestSecret), Issuer: "other", Audience: "test-audience"}, nil)
	wrongAudience, _ := NewTokenCodec(CodecConfig{Secret: []byte(TestSecret), Issuer: "test-issuer", Audience: "other"}, nil)

	parts := strings.Split(access, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name  string
		codec *TokenCodec
		token string
	}{
		{"garbage", c, "invalid-token"},
		{"empty", c, ""},
		{"bad signature", c, tampered},
		{"other secret", other, access},
		{"wrong issuer", wrongIssuer, access},
		{"wrong audience", wrongAudience, access},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.codec.Verify(tt.token, KindAccess); err != ErrInvalidToken {
				t.Errorf("Verify: want ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestTokenCodec_Expired(t *testing.T) {
	c, _ := NewTestTokenCodec()
	c.now = func() time.Time { return time.Now().Add(-time.Hour) }
	access, _, err := c.IssueAccess(testClaims())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	c.now = time.Now
	if _, err := c.Verify(access, KindAccess); err != ErrInvalidToken {
		t.Errorf("expired: want ErrInvalidToken, got %v", err)
	}
	if !IsExpired(access) {
		t.Error("IsExpired = false, want true")
	}
}

func TestTokenCodec_RejectsNoneAndOtherAlgorithms(t *testing.T) {
	c, _ := NewTestTokenCodec()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "test-issuer",
			Audience:  jwt.ClaimStrings{"test-audience"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: 42,
		Kind:     KindAccess,
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := c.Verify(none, KindAccess); err != ErrInvalidToken {
		t.Errorf("alg none: want ErrInvalidToken, got %v", err)
	}
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(TestSecret))
	if _, err := c.Verify(hs512, KindAccess); err != ErrInvalidToken {
		t.Errorf("HS512: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenCodec_Challenge(t *testing.T) {
	c, _ := NewTestTokenCodec()
	challenge, exp, err := c.IssueChallenge(testClaims())
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if d := time.Until(exp); d > ChallengeTTL || d < ChallengeTTL-time.Minute {
		t.Errorf("challenge lifetime = %v, want ~%v", d, ChallengeTTL)
	}
	p, err := c.VerifyChallenge(challenge)
	if err != nil {
		t.Fatalf("VerifyChallenge: %v", err)
	}
	if len(p.Audience) != 1 || p.Audience[0] != "test-audience:mfa" {
		t.Errorf("Audience = %v, want [test-audience:mfa]", p.Audience)
	}
	if _, err := c.Verify(challenge, KindAccess); err != ErrInvalidToken {
		t.Errorf("challenge as access: want ErrInvalidToken, got %v", err)
	}
	access, _, _ := c.IssueAccess(testClaims())
	if _, err := c.VerifyChallenge(access); err != ErrInvalidToken {
		t.Errorf("access as challenge: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenCodec_ImpersonationPair(t *testing.T) {
	c, _ := NewTestTokenCodec()
	pair, err := c.IssueImpersonationPair("admin-7", testClaims())
	if err != nil {
		t.Fatalf("IssueImpersonationPair: %v", err)
	}
	for _, tc := range []struct {
		token string
		kind  Kind
	}{{pair.AccessToken, KindAccess}, {pair.RefreshToken, KindRefresh}} {
		p, err := c.Verify(tc.token, tc.kind)
		if err != nil {
			t.Fatalf("Verify %s: %v", tc.kind, err)
		}
		if p.Impersonator != "admin-7" || p.Subject != "u1" {
			t.Errorf("%s: Impersonator = %q Subject = %q", tc.kind, p.Impersonator, p.Subject)
		}
	}
	if _, err := c.IssueImpersonationPair("", testClaims()); err == nil {
		t.Error("empty impersonator should fail")
	}
}

func TestTokenCodec_IssueRequiresIdentity(t *testing.T) {
	c, _ := NewTestTokenCodec()
	if _, _, err := c.IssueAccess(TokenClaims{TenantID: 1}); err == nil {
		t.Error("missing user id should fail")
	}
	if _, _, err := c.IssueAccess(TokenClaims{UserID: "u1"}); err == nil {
		t.Error("missing tenant id should fail")
	}
}

func TestNewTokenCodec_WeakSecret(t *testing.T) {
	_, err := NewTokenCodec(CodecConfig{Secret: []byte("short"), Issuer: "i", Audience: "a"}, nil)
	if err != ErrWeakSecret {
		t.Errorf("want ErrWeakSecret, got %v", err)
	}
}

func TestNewTokenCodec_DefaultTTLs(t *testing.T) {
	c, err := NewTokenCodec(CodecConfig{Secret: []byte(TestSecret), Issuer: "i", Audience: "a"}, nil)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	if c.AccessTTL() != 900*time.Second || c.RefreshTTL() != 604800*time.Second {
		t.Errorf("TTLs = %v / %v", c.AccessTTL(), c.RefreshTTL())
	}
}

func TestDecodeUnsafeAndExtractTenantID(t *testing.T) {
	c, _ := NewTestTokenCodec()
	access, _, _ := c.IssueAccess(testClaims())

	p := DecodeUnsafe(access)
	if p == nil || p.TenantID != 42 || p.Kind != KindAccess {
		t.Fatalf("DecodeUnsafe = %+v", p)
	}
	if DecodeUnsafe("not.a.token") != nil {
		t.Error("DecodeUnsafe garbage should be nil")
	}
	if id, ok := ExtractTenantID(access); !ok || id != 42 {
		t.Errorf("ExtractTenantID = %d, %v", id, ok)
	}
	if _, ok := ExtractTenantID("garbage"); ok {
		t.Error("ExtractTenantID garbage should be false")
	}
	if IsExpired(access) {
		t.Error("fresh token reported expired")
	}
	if !IsExpired("garbage") {
		t.Error("garbage should count as expired")
	}
}
