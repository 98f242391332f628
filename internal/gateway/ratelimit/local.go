// Package ratelimit provides the in-process per-user limiter used when no
// Redis backend is configured.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultCleanupTTL = 10 * time.Minute

type entry struct {
	limiter    *rate.Limiter
	limit      int
	lastAccess time.Time
}

// Local is a token bucket per user refilling limit tokens per minute with a
// burst of limit. Counts are not shared between gateway instances.
type Local struct {
	mu         sync.Mutex
	entries    map[string]*entry
	cleanupTTL time.Duration
	now        func() time.Time
}

// NewLocal creates an empty limiter
func NewLocal() *Local {
	return &Local{
		entries:    make(map[string]*entry),
		cleanupTTL: defaultCleanupTTL,
		now:        time.Now,
	}
}

// CheckRateLimit takes one token for userID. It has the same contract as the
// Redis limiter and never fails.
func (l *Local) CheckRateLimit(_ context.Context, userID string, limit int) (bool, int, error) {
	if limit <= 0 {
		return false, 0, nil
	}
	now := l.now()
	lim := l.limiterFor(userID, limit, now)

	if !lim.AllowN(now, 1) {
		return true, 0, nil
	}
	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return false, remaining, nil
}

func (l *Local) limiterFor(userID string, limit int, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[userID]
	if !ok || e.limit != limit {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(float64(limit)/60.0), limit),
			limit:   limit,
		}
		l.entries[userID] = e
	}
	e.lastAccess = now
	return e.limiter
}

// Cleanup drops limiters idle for longer than the cleanup TTL
func (l *Local) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cleanupTTL)
	removed := 0
	for id, e := range l.entries {
		if e.lastAccess.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup periodically until ctx is done
func (l *Local) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
