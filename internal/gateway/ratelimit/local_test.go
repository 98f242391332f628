package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_BurstThenDeny(t *testing.T) {
	l := NewLocal()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		exceeded, remaining, err := l.CheckRateLimit(ctx, "user-1", 5)
		require.NoError(t, err)
		assert.False(t, exceeded)
		assert.Equal(t, 5-i, remaining)
	}

	exceeded, _, err := l.CheckRateLimit(ctx, "user-1", 5)
	require.NoError(t, err)
	assert.True(t, exceeded)

	exceeded, _, _ = l.CheckRateLimit(ctx, "user-2", 5)
	assert.False(t, exceeded)

	// five per minute refills one token every 12s
	fixed = fixed.Add(12 * time.Second)
	exceeded, _, _ = l.CheckRateLimit(ctx, "user-1", 5)
	assert.False(t, exceeded)
}

func TestLocal_LimitChangeResetsBucket(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	exceeded, _, _ := l.CheckRateLimit(ctx, "user-1", 1)
	assert.False(t, exceeded)
	exceeded, _, _ = l.CheckRateLimit(ctx, "user-1", 1)
	assert.True(t, exceeded)

	exceeded, _, _ = l.CheckRateLimit(ctx, "user-1", 10)
	assert.False(t, exceeded)
}

func TestLocal_Cleanup(t *testing.T) {
	l := NewLocal()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	_, _, _ = l.CheckRateLimit(context.Background(), "idle", 10)
	fixed = fixed.Add(5 * time.Minute)
	_, _, _ = l.CheckRateLimit(context.Background(), "active", 10)

	fixed = fixed.Add(6 * time.Minute)
	assert.Equal(t, 1, l.Cleanup())
	assert.Len(t, l.entries, 1)
}

func TestLocal_ZeroLimitDisables(t *testing.T) {
	exceeded, _, err := NewLocal().CheckRateLimit(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.False(t, exceeded)
}
