package tenancy

import "errors"

var (
	// ErrInvalidTenantID is returned before any transaction is opened when the tenant id is
	// zero, negative, non-numeric or not in canonical form.
	ErrInvalidTenantID = errors.New("tenancy: invalid tenant id")
	// ErrMissingTenantContext is returned when a statement would run without tenant context:
	// a zero Tx, or a transaction where app.tenant_id is unset.
	ErrMissingTenantContext = errors.New("tenancy: missing tenant context")
	// ErrTenantMismatch is returned by AssertTenantContext when the database setting differs
	// from the tenant the caller's context was opened for.
	ErrTenantMismatch = errors.New("tenancy: tenant context mismatch")
)
