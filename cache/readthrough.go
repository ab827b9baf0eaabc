package cache

import (
	"context"
	"time"
)

// FetchFunc produces a value on cache miss.
type FetchFunc func(ctx context.Context) (any, error)

// ReadThrough wraps fetches with fresh-hit shortcutting and write-back.
type ReadThrough struct {
	cache  Cache
	policy Policy
}

// NewReadThrough creates a read-through wrapper over the cache.
func NewReadThrough(c Cache, policy Policy) *ReadThrough {
	return &ReadThrough{cache: c, policy: policy}
}

// Fetch returns the fresh cached value for key when one exists, otherwise
// invokes fetch and stores a successful result. Fetch errors are never
// cached; the previous value stays retained for degradation.
func (r *ReadThrough) Fetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (any, error) {
	if r.cache == nil {
		return nil, ErrNilCache
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	_ = r.cache.Set(ctx, key, value, r.policy.EffectiveTTL(ttl))
	return value, nil
}
