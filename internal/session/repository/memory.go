package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"lms-platform/backend/internal/session/domain"
	"lms-platform/backend/internal/tenancy"
)

// MemoryRepository is an in-process Repository for tests. Rows are filtered by the
// tenant the runner put in ctx, mirroring the row-level security policies; without a
// tenant in ctx (maintenance) every row is visible.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*domain.Session
	now  func() time.Time
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows: make(map[string]*domain.Session),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func visible(ctx context.Context, s *domain.Session) bool {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return true
	}
	id, err := tenancy.ParseTenantID(tc.TenantID)
	return err == nil && id == s.TenantID
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

// Create implements Repository.
func (r *MemoryRepository) Create(ctx context.Context, _ *tenancy.Tx, s *domain.Session) error {
	if !visible(ctx, s) {
		return errors.New("new row violates row-level security policy for table \"sessions\"")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.RefreshTokenHash == s.RefreshTokenHash {
			return errors.New("duplicate key value violates unique constraint \"sessions_refresh_token_hash_key\"")
		}
	}
	r.rows[s.ID] = clone(s)
	return nil
}

// GetByID implements Repository.
func (r *MemoryRepository) GetByID(ctx context.Context, _ *tenancy.Tx, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || !visible(ctx, s) {
		return nil, nil
	}
	return clone(s), nil
}

// Rotate implements Repository.
func (r *MemoryRepository) Rotate(ctx context.Context, _ *tenancy.Tx, id, oldHash, newHash, ip string, expiresAt time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	now := r.now()
	if !ok || !visible(ctx, s) || s.RefreshTokenHash != oldHash || !s.Active(now) {
		return nil, nil
	}
	s.RefreshTokenHash = newHash
	s.ExpiresAt = expiresAt
	s.LastUsedAt = now
	if ip != "" {
		s.IPAddress = ip
	}
	return clone(s), nil
}

// Revoke implements Repository.
func (r *MemoryRepository) Revoke(ctx context.Context, _ *tenancy.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[id]; ok && visible(ctx, s) && s.RevokedAt == nil {
		t := r.now()
		s.RevokedAt = &t
	}
	return nil
}

// RevokeAllByUser implements Repository.
func (r *MemoryRepository) RevokeAllByUser(ctx context.Context, _ *tenancy.Tx, userID, exceptID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var n int64
	for _, s := range r.rows {
		if s.UserID != userID || s.ID == exceptID || s.RevokedAt != nil || !visible(ctx, s) {
			continue
		}
		t := now
		s.RevokedAt = &t
		n++
	}
	return n, nil
}

// ListActiveByUser implements Repository.
func (r *MemoryRepository) ListActiveByUser(ctx context.Context, _ *tenancy.Tx, userID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []*domain.Session
	for _, s := range r.rows {
		if s.UserID == userID && s.Active(now) && visible(ctx, s) {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

// DeleteStale implements Repository.
func (r *MemoryRepository) DeleteStale(ctx context.Context, _ *tenancy.Tx, expiredBefore, revokedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.rows {
		if !visible(ctx, s) {
			continue
		}
		if s.ExpiresAt.Before(expiredBefore) || (s.RevokedAt != nil && s.RevokedAt.Before(revokedBefore)) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

// Put stores s as-is, bypassing tenant checks. Tests use it to seed rows.
func (r *MemoryRepository) Put(s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = clone(s)
}

// Len returns the number of stored rows.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
