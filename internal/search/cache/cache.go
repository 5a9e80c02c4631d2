// Package cache provides an in-memory TTL cache for computed search
// responses. Concurrent misses for the same key are collapsed through
// singleflight so a hot query is computed once. Keys embed the store
// generation, which makes mutation invalidation automatic: entries for a
// stale generation simply stop being asked for and age out.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Muntasir-Arin/es-in-action/pkg/config"
	"github.com/Muntasir-Arin/es-in-action/pkg/logger"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a bounded TTL cache over values of type T.
type Cache[T any] struct {
	mu      sync.Mutex
	cfg     config.CacheConfig
	entries map[string]entry[T]
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	now     func() time.Time
}

// New creates an empty cache with the given TTL and capacity settings.
func New[T any](cfg config.CacheConfig) *Cache[T] {
	return &Cache[T]{
		cfg:     cfg,
		entries: make(map[string]entry[T]),
		logger:  logger.WithComponent("query-cache"),
		now:     time.Now,
	}
}

// Get returns the cached value for the key if present and not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T
	if !c.cfg.Enabled {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		if ok {
			delete(c.entries, key)
		}
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores a value under the key. When the cache is full, expired entries
// are swept first; if it is still full the value is not cached.
func (c *Cache[T]) Set(key string, value T) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.MaxEntries > 0 && len(c.entries) >= c.cfg.MaxEntries {
		c.sweepLocked()
		if len(c.entries) >= c.cfg.MaxEntries {
			c.logger.Debug("cache full, skipping entry", "key", key)
			return
		}
	}
	c.entries[key] = entry[T]{value: value, expiresAt: c.now().Add(c.cfg.TTL)}
}

// GetOrCompute returns the cached value or computes and caches it, reporting
// whether the result was a cache hit. Concurrent callers with the same key
// share a single computation.
func (c *Cache[T]) GetOrCompute(key string, computeFn func() (T, error)) (T, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}

// Stats returns cumulative hit and miss counts.
func (c *Cache[T]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache[T]) sweepLocked() {
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
