package security

import "time"

// TestSecret is a 32-byte HMAC secret for unit tests only. Do not use in production.
const TestSecret = "test-secret-0123456789-abcdefghij"

// NewTestTokenCodec returns a TokenCodec using TestSecret.
// For unit tests only. Callers must not use in production.
func NewTestTokenCodec() (*TokenCodec, error) {
	return NewTokenCodec(CodecConfig{
		Secret:     []byte(TestSecret),
		Issuer:     "test-issuer",
		Audience:   "test-audience",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, nil)
}

// NewTestPasswordVault returns a PasswordVault at MinIterations so tests stay fast.
func NewTestPasswordVault() *PasswordVault {
	return NewPasswordVault(MinIterations)
}
