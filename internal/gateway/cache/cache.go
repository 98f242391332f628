package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Loader derives the value for a cache miss
type Loader func() ([]byte, error)

// Cache holds derived key material in process memory. Concurrent misses for
// the same key share one Loader call.
type Cache struct {
	store *gocache.Cache
	group singleflight.Group
	ttl   time.Duration
}

// New creates a new cache instance. A zero ttl disables caching; every
// lookup then runs the loader.
func New(ttl time.Duration) *Cache {
	c := &Cache{ttl: ttl}
	if ttl > 0 {
		c.store = gocache.New(ttl, ttl*2)
	}
	return c
}

// generateCacheKey hashes the identifier so raw user ids are not used as map keys
func (c *Cache) generateCacheKey(id string) string {
	hash := sha256.Sum256([]byte(id))
	return "cache:derived:" + hex.EncodeToString(hash[:])
}

// GetOrLoad returns the cached value for id or runs load once for all
// concurrent callers. Returned slices are copies and may be wiped by the caller.
func (c *Cache) GetOrLoad(id string, load Loader) ([]byte, error) {
	key := c.generateCacheKey(id)

	if c.store != nil {
		if val, found := c.store.Get(key); found {
			if b, ok := val.([]byte); ok {
				return clone(b), nil
			}
		}
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		if c.store != nil {
			if val, found := c.store.Get(key); found {
				return val, nil
			}
		}

		b, err := load()
		if err != nil {
			return nil, err
		}
		if c.store != nil {
			c.store.Set(key, clone(b), gocache.DefaultExpiration)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	b, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected cached value type %T", result)
	}
	return clone(b), nil
}

// Invalidate drops the cached value for id
func (c *Cache) Invalidate(id string) {
	if c.store != nil {
		c.store.Delete(c.generateCacheKey(id))
	}
}

// Flush drops every cached value
func (c *Cache) Flush() {
	if c.store != nil {
		c.store.Flush()
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
