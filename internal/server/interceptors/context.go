package interceptors

import "context"

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// Identity is the verified caller of an RPC, taken from its access token.
type Identity struct {
	UserID    string
	TenantID  int64
	SessionID string
	Roles     []string
	// Impersonator is the acting admin's user id when the token was issued by impersonation.
	Impersonator string
}

// WithIdentity returns a context carrying id. Handlers and services read it via
// GetIdentity, GetUserID, GetTenantID, GetSessionID and GetImpersonator.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the identity from context and true if set.
func GetIdentity(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey).(Identity)
	return v, ok
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}

// GetTenantID returns the tenant_id from context and true if set; otherwise 0, false.
func GetTenantID(ctx context.Context) (int64, bool) {
	id, ok := GetIdentity(ctx)
	if !ok || id.TenantID <= 0 {
		return 0, false
	}
	return id.TenantID, true
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok || id.SessionID == "" {
		return "", false
	}
	return id.SessionID, true
}

// GetImpersonator returns the impersonating admin's id and true when the caller is impersonated.
func GetImpersonator(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok || id.Impersonator == "" {
		return "", false
	}
	return id.Impersonator, true
}
