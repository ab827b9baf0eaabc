// Package health aggregates component health checks and serves them over
// HTTP, alongside the Prometheus metrics endpoint.
//
// Domain checkers cover the admission chain: circuit breaker states, daily
// quota headroom, and counter store reachability.
package health
