package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(MemoryLimiterConfig{Now: c.now})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := l.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, c.t.Add(time.Minute), d.ResetAt)

	other, err := l.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	c.t = c.t.Add(time.Minute + time.Second)
	d, err = l.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "new window")
}

func TestMemoryLimiter_Reset(t *testing.T) {
	l := NewMemoryLimiter(MemoryLimiterConfig{})
	ctx := context.Background()
	_, _ = l.Allow(ctx, "k", 1, time.Minute)
	d, _ := l.Allow(ctx, "k", 1, time.Minute)
	require.False(t, d.Allowed)

	require.NoError(t, l.Reset(ctx, "k"))
	d, err := l.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Disabled(t *testing.T) {
	l := NewMemoryLimiter(MemoryLimiterConfig{})
	for i := 0; i < 10; i++ {
		d, err := l.Allow(context.Background(), "k", 0, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestMemoryLimiter_Capacity(t *testing.T) {
	c := &clock{t: time.Now()}
	l := NewMemoryLimiter(MemoryLimiterConfig{Now: c.now, MaxKeys: 2})
	ctx := context.Background()
	_, err := l.Allow(ctx, "a", 5, time.Minute)
	require.NoError(t, err)
	_, err = l.Allow(ctx, "b", 5, time.Minute)
	require.NoError(t, err)
	_, err = l.Allow(ctx, "c", 5, time.Minute)
	assert.Error(t, err)

	c.t = c.t.Add(2 * time.Minute)
	_, err = l.Allow(ctx, "c", 5, time.Minute)
	assert.NoError(t, err, "expired buckets are collected")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "login:7:a@b.io", LoginKey(7, "a@b.io"))
	assert.Equal(t, "mfa:7:u1", MFAKey(7, "u1"))
}
