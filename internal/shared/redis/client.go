package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	rateLimitWindow = time.Minute
	keyPrefix       = "ratelimit:"
)

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// CheckRateLimit counts one request for userID in the current one-minute
// window. It reports whether the limit is exceeded and how many requests
// remain. The counter is shared by every gateway instance.
func (c *Client) CheckRateLimit(ctx context.Context, userID string, limit int) (bool, int, error) {
	key := keyPrefix + userID

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	// A key without expiry would never reset; this covers the first request
	// of a window and a previous Expire that failed.
	if count == 1 || ttl.Val() < 0 {
		if err := c.client.Expire(ctx, key, rateLimitWindow).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expiry failed: %w", err)
		}
	}

	if count > int64(limit) {
		return true, 0, nil
	}
	return false, limit - int(count), nil
}
