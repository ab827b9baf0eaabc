package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilCache   = errors.New("cache: cache is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Cache stores downloaded values with a freshness horizon.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get and Stale never error; they return (nil, false) on miss.
// - A value past its freshness TTL is invisible to Get but stays available
//   to Stale until the retention limit evicts it.
type Cache interface {
	// Get retrieves a fresh value. Returns (nil, false) on miss or when the
	// value has gone stale.
	Get(ctx context.Context, key string) (any, bool)

	// Stale retrieves the most recent value regardless of freshness, along
	// with its age. Returns (nil, 0, false) when nothing is retained.
	Stale(ctx context.Context, key string) (any, time.Duration, bool)

	// Set stores a value with the given freshness TTL. TTL=0 means the
	// value is immediately stale but still retained for degradation.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes a value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
