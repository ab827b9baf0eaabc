package cache

import "time"

// Policy configures freshness and retention.
type Policy struct {
	// FreshTTL is how long a stored value is considered fresh.
	// If zero, every value is immediately stale.
	FreshTTL time.Duration

	// MaxAge bounds how long a stale value is retained for degradation.
	// If zero, stale values are kept until overwritten or deleted.
	MaxAge time.Duration
}

// DefaultPolicy returns the default policy: fresh for 15 minutes, retained
// for degradation for 72 hours (a weekend of provider outage).
func DefaultPolicy() Policy {
	return Policy{
		FreshTTL: 15 * time.Minute,
		MaxAge:   72 * time.Hour,
	}
}

// EffectiveTTL returns the freshness TTL to use, applying the default and
// clamping overrides that exceed the retention limit.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.FreshTTL
	}
	if p.MaxAge > 0 && ttl > p.MaxAge {
		ttl = p.MaxAge
	}
	return ttl
}

// Retains reports whether a value of the given age is still retained.
func (p Policy) Retains(age time.Duration) bool {
	return p.MaxAge <= 0 || age <= p.MaxAge
}
