package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}

func TestCheckRateLimit(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		exceeded, remaining, err := c.CheckRateLimit(ctx, "user-1", 3)
		require.NoError(t, err)
		assert.False(t, exceeded)
		assert.Equal(t, 3-i, remaining)
	}

	exceeded, remaining, err := c.CheckRateLimit(ctx, "user-1", 3)
	require.NoError(t, err)
	assert.True(t, exceeded)
	assert.Equal(t, 0, remaining)

	// other users have their own window
	exceeded, _, err = c.CheckRateLimit(ctx, "user-2", 3)
	require.NoError(t, err)
	assert.False(t, exceeded)

	assert.Equal(t, time.Minute, mr.TTL("ratelimit:user-1"))

	mr.FastForward(time.Minute + time.Second)
	exceeded, remaining, err = c.CheckRateLimit(ctx, "user-1", 3)
	require.NoError(t, err)
	assert.False(t, exceeded)
	assert.Equal(t, 2, remaining)
}

func TestCheckRateLimit_RepairsMissingExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	require.NoError(t, mr.Set("ratelimit:user-1", "5"))

	_, _, err := c.CheckRateLimit(context.Background(), "user-1", 100)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:user-1"))
}

func TestCheckRateLimit_BackendDown(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	_, _, err := c.CheckRateLimit(context.Background(), "user-1", 10)
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}
