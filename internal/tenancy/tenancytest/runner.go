// Package tenancytest provides an in-process tenancy.Runner for service tests.
package tenancytest

import (
	"context"
	"sync"

	"lms-platform/backend/internal/tenancy"
)

// Runner validates the tenant context like the real guard and then calls fn with the
// context attached and a nil transaction. Pair it with in-memory repositories that
// read the tenant from tenancy.FromContext.
type Runner struct {
	mu       sync.Mutex
	Contexts []tenancy.TenantContext
	// Err, when set, is returned by every call without running fn.
	Err error
}

// Run implements tenancy.Runner.
func (r *Runner) Run(ctx context.Context, tc tenancy.TenantContext, fn func(ctx context.Context, tx *tenancy.Tx) error) error {
	if err := tc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.Contexts = append(r.Contexts, tc)
	err := r.Err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(tenancy.WithContext(ctx, tc), nil)
}

// Read implements tenancy.Runner.
func (r *Runner) Read(ctx context.Context, tenantID string, fn func(ctx context.Context, tx *tenancy.Tx) error) error {
	return r.Run(ctx, tenancy.TenantContext{TenantID: tenantID}, fn)
}

// RunMaintenance calls fn with no tenant context.
func (r *Runner) RunMaintenance(ctx context.Context, fn func(ctx context.Context, tx *tenancy.Tx) error) error {
	r.mu.Lock()
	err := r.Err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx, nil)
}

// Last returns the most recent tenant context passed to Run or Read.
func (r *Runner) Last() (tenancy.TenantContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Contexts) == 0 {
		return tenancy.TenantContext{}, false
	}
	return r.Contexts[len(r.Contexts)-1], true
}
