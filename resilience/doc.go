// Package resilience protects outbound provider requests from cascading
// failure.
//
// This package implements the failure-isolation half of admission control:
// per-resource circuit breaking and bounded, jittered retries. Rate limiting
// and quota admission live in their own packages; the admission package
// composes all of them around one provider request.
//
// # Patterns
//
//   - Circuit Breaker: a per-named-resource state machine
//     (closed/open/half-open) that fails fast once a resource is unhealthy
//     and probes recovery after a cooldown. Breakers are addressed by name
//     through a Registry so every call site for the same logical resource
//     observes the same state.
//
//   - Retry: classifies failures as retryable or fatal and retries with a
//     configurable backoff strategy (fixed, linear, exponential, exponential
//     with jitter). Backoff sleeps are aborted by context cancellation.
//
//   - Bulkhead: bounds in-flight operations so a slow provider cannot
//     exhaust the worker pool.
//
//   - Timeout: bounds the duration of a single call.
//
// # Usage
//
//	reg := resilience.NewRegistry(resilience.BreakerConfig{
//	    FailureThreshold: 3,
//	    RecoveryTimeout:  30 * time.Second,
//	    SuccessThreshold: 2,
//	})
//
//	retrier := resilience.NewRetrier(resilience.Policy{
//	    MaxAttempts: 4,
//	    Strategy:    resilience.ExponentialBackoffJitter,
//	    BaseDelay:   time.Second,
//	    MaxDelay:    30 * time.Second,
//	})
//
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//	    return reg.Get("provider_barchart").Execute(ctx, doRequest)
//	})
package resilience
