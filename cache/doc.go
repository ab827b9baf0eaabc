// Package cache provides a last-known-good store for downloaded market data.
//
// Values carry a freshness TTL: Get returns only fresh values, while Stale
// returns the most recent value regardless of freshness, which is what the
// graceful-degradation recovery path serves when every provider is down.
package cache
