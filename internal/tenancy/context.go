// Package tenancy is the single choke point between services and Postgres. Every
// tenant-scoped statement runs in a transaction opened here, after the tenant,
// user, site and role have been set as transaction-local settings that the
// row-level security policies read.
package tenancy

import (
	"context"
	"fmt"
	"strconv"
)

// Transaction-local settings read by the RLS policies.
const (
	SettingTenantID    = "app.tenant_id"
	SettingUserID      = "app.user_id"
	SettingSiteID      = "app.site_id"
	SettingRole        = "app.role"
	SettingMaintenance = "app.maintenance"
)

// TenantContext is the scope of one transaction. TenantID is required; the rest are
// optional and recorded for policies and auditing.
type TenantContext struct {
	TenantID string
	UserID   string
	SiteID   string
	Role     string
}

// ForTenant returns a TenantContext for id with no user, site or role.
func ForTenant(id int64) TenantContext {
	return TenantContext{TenantID: strconv.FormatInt(id, 10)}
}

// WithUser returns a copy of tc carrying userID and role.
func (tc TenantContext) WithUser(userID, role string) TenantContext {
	tc.UserID = userID
	tc.Role = role
	return tc
}

// ParseTenantID accepts only canonical positive base-10 integers: no sign, no
// leading zeros, no whitespace. Anything else is ErrInvalidTenantID.
func ParseTenantID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 || strconv.FormatInt(id, 10) != s {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTenantID, s)
	}
	return id, nil
}

// Validate returns ErrInvalidTenantID when TenantID is not a positive integer.
func (tc TenantContext) Validate() error {
	_, err := ParseTenantID(tc.TenantID)
	return err
}

type contextKey struct{}

// WithContext returns ctx carrying tc. The guard does this for the work it runs.
func WithContext(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the TenantContext the guard is running under, if any.
func FromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(contextKey{}).(TenantContext)
	return tc, ok
}
