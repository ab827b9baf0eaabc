package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-memory last-known-good cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	policy  Policy
	now     func() time.Time
}

type cacheEntry struct {
	value    any
	storedAt time.Time
	freshFor time.Duration
}

// NewMemoryCache creates a new in-memory cache with the given policy.
func NewMemoryCache(policy Policy) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
		policy:  policy,
		now:     time.Now,
	}
}

// Get retrieves a fresh value. Returns (nil, false) on miss or staleness.
func (c *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().After(entry.storedAt.Add(entry.freshFor)) {
		// Stale for Get, but retained for Stale.
		return nil, false
	}
	return entry.value, true
}

// Stale retrieves the last known good value regardless of freshness. Values
// past the retention limit are evicted lazily.
func (c *MemoryCache) Stale(_ context.Context, key string) (any, time.Duration, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, 0, false
	}

	age := c.now().Sub(entry.storedAt)
	if !c.policy.Retains(age) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, 0, false
	}
	return entry.value, age, true
}

// Set stores a value. The freshness TTL is clamped by the policy; TTL=0
// falls back to the policy default.
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		value:    value,
		storedAt: c.now(),
		freshFor: c.policy.EffectiveTTL(ttl),
	}
	c.mu.Unlock()

	return nil
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// LastKnownGood adapts Stale to the recovery package's degradation lookup.
func (c *MemoryCache) LastKnownGood(ctx context.Context, key string) (any, bool) {
	value, _, ok := c.Stale(ctx, key)
	return value, ok
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)
