// Package mfa implements TOTP (RFC 6238) enrollment and verification.
package mfa

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	period     = 30
	skew       = 1
	secretSize = 20
)

// ErrInvalidAccount is returned when an account name cannot be used in an otpauth URL.
var ErrInvalidAccount = errors.New("mfa: invalid account name")

// Enrollment is a freshly generated secret and the otpauth:// URL an authenticator app scans.
type Enrollment struct {
	Secret string
	URL    string
}

// TOTP generates and validates 6-digit SHA1 codes with a 30s period.
type TOTP struct {
	issuer string
	now    func() time.Time
}

// NewTOTP returns a TOTP whose enrollments name issuer.
func NewTOTP(issuer string) *TOTP {
	if strings.TrimSpace(issuer) == "" {
		issuer = "LMS Platform"
	}
	return &TOTP{issuer: issuer, now: func() time.Time { return time.Now().UTC() }}
}

// Generate creates a new secret for accountName (usually the user's email).
func (t *TOTP) Generate(accountName string) (*Enrollment, error) {
	if strings.TrimSpace(accountName) == "" || strings.Contains(accountName, ":") {
		return nil, ErrInvalidAccount
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  secretSize,
	})
	if err != nil {
		return nil, fmt.Errorf("mfa: generate key: %w", err)
	}
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Validate reports whether code is valid for secret now, allowing one period of clock drift
// either side. Malformed codes or secrets are simply invalid.
func (t *TOTP) Validate(secret, code string) bool {
	secret = strings.TrimSpace(secret)
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.now(), totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// Code returns the current code for secret. Used by the seed command and tests.
func (t *TOTP) Code(secret string) (string, error) {
	return totp.GenerateCodeCustom(secret, t.now(), totp.ValidateOpts{
		Period:    period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}
