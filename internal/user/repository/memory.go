package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"lms-platform/backend/internal/tenancy"
	"lms-platform/backend/internal/user/domain"
)

// MemoryRepository is an in-process Repository for tests, filtered by the tenant in ctx.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User)}
}

func visible(ctx context.Context, u *domain.User) bool {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return false
	}
	id, err := tenancy.ParseTenantID(tc.TenantID)
	return err == nil && id == u.TenantID
}

func clone(u *domain.User) *domain.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}

// GetByID implements Repository.
func (r *MemoryRepository) GetByID(ctx context.Context, _ *tenancy.Tx, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok && visible(ctx, u) {
		return clone(u), nil
	}
	return nil, nil
}

// GetByEmail implements Repository.
func (r *MemoryRepository) GetByEmail(ctx context.Context, _ *tenancy.Tx, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, u := range r.byID {
		if u.Email == email && visible(ctx, u) {
			return clone(u), nil
		}
	}
	return nil, nil
}

// Create implements Repository.
func (r *MemoryRepository) Create(ctx context.Context, _ *tenancy.Tx, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if !visible(ctx, u) {
		return errors.New("new row violates row-level security policy for table \"users\"")
	}
	r.Put(u)
	return nil
}

func (r *MemoryRepository) update(ctx context.Context, id string, fn func(u *domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok && visible(ctx, u) {
		fn(u)
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// UpdatePasswordHash implements Repository.
func (r *MemoryRepository) UpdatePasswordHash(ctx context.Context, _ *tenancy.Tx, id, hash string) error {
	return r.update(ctx, id, func(u *domain.User) { u.PasswordHash = hash })
}

// UpdateLastLogin implements Repository.
func (r *MemoryRepository) UpdateLastLogin(ctx context.Context, _ *tenancy.Tx, id string, at time.Time) error {
	return r.update(ctx, id, func(u *domain.User) { u.LastLoginAt = &at })
}

// SetPendingMFASecret implements Repository.
func (r *MemoryRepository) SetPendingMFASecret(ctx context.Context, _ *tenancy.Tx, id, secret string) error {
	return r.update(ctx, id, func(u *domain.User) { u.MFAPendingSecret = secret })
}

// EnableMFA implements Repository.
func (r *MemoryRepository) EnableMFA(ctx context.Context, _ *tenancy.Tx, id, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || !visible(ctx, u) || u.MFAPendingSecret == "" || u.MFAPendingSecret != secret {
		return ErrNoPendingMFASecret
	}
	u.MFASecret, u.MFAPendingSecret, u.MFAEnabled = secret, "", true
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Put stores u without tenant checks. Tests use it to seed users.
func (r *MemoryRepository) Put(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := clone(u)
	c.Email = domain.NormalizeEmail(c.Email)
	r.byID[u.ID] = c
}
