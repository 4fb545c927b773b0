package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-platform/backend/internal/security"
	"lms-platform/backend/internal/session/domain"
	"lms-platform/backend/internal/session/repository"
	"lms-platform/backend/internal/telemetry"
	"lms-platform/backend/internal/tenancy"
	"lms-platform/backend/internal/tenancy/tenancytest"
)

type fixture struct {
	store  *SessionStore
	repo   *repository.MemoryRepository
	runner *tenancytest.Runner
	events *telemetry.Recorder
	codec  *security.TokenCodec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := security.NewTestTokenCodec()
	require.NoError(t, err)
	f := &fixture{
		repo:   repository.NewMemoryRepository(),
		runner: &tenancytest.Runner{},
		events: &telemetry.Recorder{},
		codec:  codec,
	}
	f.store = NewSessionStore(f.runner, f.runner, f.repo, codec, f.events, nil)
	return f
}

func login(t *testing.T, f *fixture, tenantID int64, userID string) *Issued {
	t.Helper()
	issued, err := f.store.Create(context.Background(), CreateParams{
		TenantID: tenantID, UserID: userID, Roles: []string{"student"}, UserAgent: "ua", IP: "10.0.0.1",
	})
	require.NoError(t, err)
	return issued
}

func TestCreate_StoresHashNotToken(t *testing.T) {
	f := newFixture(t)
	issued := login(t, f, 3, "u1")

	sess := issued.Session
	assert.Equal(t, int64(3), sess.TenantID)
	assert.Equal(t, security.HashToken(issued.Tokens.RefreshToken), sess.RefreshTokenHash)
	assert.NotEqual(t, issued.Tokens.RefreshToken, sess.RefreshTokenHash)
	assert.Equal(t, issued.Tokens.RefreshExpiresAt, sess.ExpiresAt)
	assert.False(t, sess.Impersonated())

	access, err := f.codec.Verify(issued.Tokens.AccessToken, security.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, access.SessionID)
	assert.Equal(t, int64(3), access.TenantID)

	tc, ok := f.runner.Last()
	require.True(t, ok)
	assert.Equal(t, "3", tc.TenantID)
	assert.Equal(t, "u1", tc.UserID)
}

func TestCreate_InvalidTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Create(context.Background(), CreateParams{TenantID: 0, UserID: "u1"})
	assert.ErrorIs(t, err, tenancy.ErrInvalidTenantID)
	assert.Equal(t, 0, f.repo.Len())
}

func TestRefresh_RotatesToken(t *testing.T) {
	f := newFixture(t)
	first := login(t, f, 3, "u1")

	second, err := f.store.Refresh(context.Background(), first.Tokens.RefreshToken, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.NotEqual(t, first.Tokens.RefreshToken, second.Tokens.RefreshToken)
	assert.Equal(t, security.HashToken(second.Tokens.RefreshToken), second.Session.RefreshTokenHash)

	third, err := f.store.Refresh(context.Background(), second.Tokens.RefreshToken, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, third.Session.ID)
}

func TestRefresh_UpdatesIPAddress(t *testing.T) {
	f := newFixture(t)
	first := login(t, f, 3, "u1")

	second, err := f.store.Refresh(context.Background(), first.Tokens.RefreshToken, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", second.Session.IPAddress)

	third, err := f.store.Refresh(context.Background(), second.Tokens.RefreshToken, "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", third.Session.IPAddress, "an unknown address keeps the stored one")
}

func TestRevokeByRefreshToken(t *testing.T) {
	f := newFixture(t)
	first := login(t, f, 3, "u1")
	second, err := f.store.Refresh(context.Background(), first.Tokens.RefreshToken, "")
	require.NoError(t, err)

	revoked, err := f.store.RevokeByRefreshToken(context.Background(), first.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.False(t, revoked, "a rotated token is no longer the session's token")
	active, err := f.store.IsActive(context.Background(), 3, first.Session.ID)
	require.NoError(t, err)
	assert.True(t, active)

	revoked, err = f.store.RevokeByRefreshToken(context.Background(), second.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.True(t, revoked)
	active, err = f.store.IsActive(context.Background(), 3, first.Session.ID)
	require.NoError(t, err)
	assert.False(t, active)

	revoked, err = f.store.RevokeByRefreshToken(context.Background(), second.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.False(t, revoked)

	_, err = f.store.RevokeByRefreshToken(context.Background(), second.Tokens.AccessToken)
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestRefresh_ReuseRevokesAllSessions(t *testing.T) {
	f := newFixture(t)
	a := login(t, f, 3, "u1")
	b := login(t, f, 3, "u1")
	other := login(t, f, 3, "u2")

	_, err := f.store.Refresh(context.Background(), a.Tokens.RefreshToken, "")
	require.NoError(t, err)

	_, err = f.store.Refresh(context.Background(), a.Tokens.RefreshToken, "203.0.113.9")
	assert.ErrorIs(t, err, ErrRefreshTokenReuse)

	list, err := f.store.List(context.Background(), 3, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.store.Refresh(context.Background(), b.Tokens.RefreshToken, "")
	assert.ErrorIs(t, err, ErrRefreshTokenReuse, "sibling sessions are revoked too")

	list, err = f.store.List(context.Background(), 3, "u2")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, other.Session.ID, list[0].ID)

	var ev telemetry.SecurityEvent
	require.Eventually(t, func() bool {
		for _, e := range f.events.OfType(telemetry.EventRefreshTokenReuse) {
			if e.IP == "203.0.113.9" {
				ev = e
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(3), ev.TenantID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, a.Session.ID, ev.SessionID)
	assert.Equal(t, "2", ev.Metadata["sessions_revoked"])
}

func TestRefresh_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	issued := login(t, f, 3, "u1")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		reuses  int
		unknown []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.store.Refresh(context.Background(), issued.Tokens.RefreshToken, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRefreshTokenReuse):
				reuses++
			default:
				unknown = append(unknown, err)
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, unknown)
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, reuses)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	issued := login(t, f, 3, "u1")
	_, err := f.store.Refresh(context.Background(), issued.Tokens.AccessToken, "")
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestRefresh_ExpiredSessionIsReuse(t *testing.T) {
	f := newFixture(t)
	issued := login(t, f, 3, "u1")
	expired := *issued.Session
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	f.repo.Put(&expired)

	_, err := f.store.Refresh(context.Background(), issued.Tokens.RefreshToken, "")
	assert.ErrorIs(t, err, ErrRefreshTokenReuse)
}

func TestCreateImpersonation_PreservedAcrossRotation(t *testing.T) {
	f := newFixture(t)
	issued, err := f.store.CreateImpersonation(context.Background(), "admin-1", CreateParams{
		TenantID: 3, UserID: "student-1", Roles: []string{"student"},
	})
	require.NoError(t, err)
	assert.Equal(t, "admin-1", issued.Session.ImpersonatorID)

	rotated, err := f.store.Refresh(context.Background(), issued.Tokens.RefreshToken, "")
	require.NoError(t, err)
	access, err := f.codec.Verify(rotated.Tokens.AccessToken, security.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", access.Impersonator)
	assert.Equal(t, "student-1", access.Subject)

	_, err = f.store.CreateImpersonation(context.Background(), "", CreateParams{TenantID: 3, UserID: "x"})
	assert.Error(t, err)
}

func TestRevoke_Idempotent(t *testing.T) {
	f := newFixture(t)
	issued := login(t, f, 3, "u1")

	require.NoError(t, f.store.Revoke(context.Background(), 3, issued.Session.ID))
	first, err := f.store.Get(context.Background(), 3, issued.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, first.RevokedAt)
	revokedAt := *first.RevokedAt

	require.NoError(t, f.store.Revoke(context.Background(), 3, issued.Session.ID))
	second, err := f.store.Get(context.Background(), 3, issued.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, revokedAt, *second.RevokedAt)

	assert.NoError(t, f.store.Revoke(context.Background(), 3, "missing"))
}

func TestGet_OtherTenantNotFound(t *testing.T) {
	f := newFixture(t)
	issued := login(t, f, 3, "u1")
	_, err := f.store.Get(context.Background(), 4, issued.Session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestIsActive(t *testing.T) {
	f := newFixture(t)
	issued := login(t, f, 3, "u1")
	ctx := context.Background()

	ok, err := f.store.IsActive(ctx, 3, issued.Session.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.IsActive(ctx, 4, issued.Session.ID)
	require.NoError(t, err)
	assert.False(t, ok, "other tenant")

	require.NoError(t, f.store.Revoke(ctx, 3, issued.Session.ID))
	ok, err = f.store.IsActive(ctx, 3, issued.Session.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeAll_KeepsExcept(t *testing.T) {
	f := newFixture(t)
	keep := login(t, f, 3, "u1")
	login(t, f, 3, "u1")
	login(t, f, 3, "u1")

	n, err := f.store.RevokeAll(context.Background(), 3, "u1", keep.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := f.store.List(context.Background(), 3, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.Session.ID, list[0].ID)
}

func TestList_MostRecentlyUsedFirst(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	for i, id := range []string{"old", "new", "mid"} {
		offset := map[string]time.Duration{"old": -3 * time.Hour, "mid": -2 * time.Hour, "new": -time.Hour}[id]
		f.repo.Put(&domain.Session{
			ID: id, UserID: "u1", TenantID: 3, RefreshTokenHash: id + string(rune('a'+i)),
			CreatedAt: now.Add(-4 * time.Hour), ExpiresAt: now.Add(time.Hour), LastUsedAt: now.Add(offset),
		})
	}
	revokedAt := now
	f.repo.Put(&domain.Session{ID: "revoked", UserID: "u1", TenantID: 3, RefreshTokenHash: "r", ExpiresAt: now.Add(time.Hour), LastUsedAt: now, RevokedAt: &revokedAt})

	list, err := f.store.List(context.Background(), 3, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestCleanup_DeletesStaleAcrossTenants(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	longAgo := now.Add(-10 * 24 * time.Hour)
	recently := now.Add(-time.Hour)
	f.repo.Put(&domain.Session{ID: "expired-old", TenantID: 1, RefreshTokenHash: "1", ExpiresAt: now.Add(-31 * 24 * time.Hour)})
	f.repo.Put(&domain.Session{ID: "expired-recent", TenantID: 2, RefreshTokenHash: "2", ExpiresAt: now.Add(-24 * time.Hour)})
	f.repo.Put(&domain.Session{ID: "revoked-old", TenantID: 2, RefreshTokenHash: "3", ExpiresAt: now.Add(time.Hour), RevokedAt: &longAgo})
	f.repo.Put(&domain.Session{ID: "revoked-recent", TenantID: 1, RefreshTokenHash: "4", ExpiresAt: now.Add(time.Hour), RevokedAt: &recently})
	f.repo.Put(&domain.Session{ID: "active", TenantID: 1, RefreshTokenHash: "5", ExpiresAt: now.Add(time.Hour)})

	n, err := f.store.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 3, f.repo.Len())
}

func TestCleanup_RequiresMaintenanceRunner(t *testing.T) {
	codec, err := security.NewTestTokenCodec()
	require.NoError(t, err)
	store := NewSessionStore(&tenancytest.Runner{}, nil, repository.NewMemoryRepository(), codec, nil, nil)
	_, err = store.Cleanup(context.Background())
	assert.Error(t, err)
}

func TestRunnerError_Propagates(t *testing.T) {
	f := newFixture(t)
	f.runner.Err = errors.New("db down")
	_, err := f.store.Create(context.Background(), CreateParams{TenantID: 3, UserID: "u1"})
	assert.EqualError(t, err, "db down")
}
