package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy defines how delays grow between retry attempts.
type Strategy int

const (
	// FixedDelay uses BaseDelay for every retry.
	FixedDelay Strategy = iota
	// LinearBackoff uses BaseDelay * attempt.
	LinearBackoff
	// ExponentialBackoff uses BaseDelay * 2^(attempt-1).
	ExponentialBackoff
	// ExponentialBackoffJitter multiplies the exponential delay by a
	// uniformly random factor in [0.5, 1.0] to avoid synchronized retry
	// storms across concurrent callers.
	ExponentialBackoffJitter
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case FixedDelay:
		return "fixed_delay"
	case LinearBackoff:
		return "linear_backoff"
	case ExponentialBackoff:
		return "exponential_backoff"
	case ExponentialBackoffJitter:
		return "exponential_backoff_jitter"
	default:
		return "unknown"
	}
}

// Policy configures retry behavior for a class of operations.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// Strategy is the backoff strategy.
	// Default: ExponentialBackoffJitter
	Strategy Strategy

	// BaseDelay seeds the backoff computation.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay caps every computed delay.
	// Default: 60 seconds
	MaxDelay time.Duration

	// Retryable lists error targets (matched with errors.Is) that may be
	// retried. Empty means every error is retryable unless listed in
	// NonRetryable.
	Retryable []error

	// NonRetryable lists error targets that fail immediately. It takes
	// precedence over Retryable when both match.
	NonRetryable []error

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}
	return p
}

// BaseDelayFor computes the backoff delay for a 1-indexed attempt number,
// before jitter, clamped to MaxDelay. Exposed so operators can predict
// schedules; Retrier applies jitter on top for the jitter strategy.
func (p Policy) BaseDelayFor(attempt int) time.Duration {
	p = p.withDefaults()

	var delay time.Duration
	switch p.Strategy {
	case FixedDelay:
		delay = p.BaseDelay
	case LinearBackoff:
		delay = p.BaseDelay * time.Duration(attempt)
	case ExponentialBackoff, ExponentialBackoffJitter:
		delay = time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	}

	if delay > p.MaxDelay || delay < 0 {
		delay = p.MaxDelay
	}
	return delay
}

// retryable classifies an error: NonRetryable wins, then Retryable, then
// the open-ended default.
func (p Policy) retryable(err error) bool {
	for _, target := range p.NonRetryable {
		if errors.Is(err, target) {
			return false
		}
	}
	if len(p.Retryable) == 0 {
		return true
	}
	for _, target := range p.Retryable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Retrier wraps fallible operations with a retry policy. It sleeps
// synchronously relative to the caller; the sleep is aborted by context
// cancellation so shutdown does not wait out a long backoff.
type Retrier struct {
	policy Policy

	// randFloat returns a value in [0, 1). Overridable in tests.
	randFloat func() float64
}

// NewRetrier creates a retrier with the given policy.
func NewRetrier(policy Policy) *Retrier {
	return &Retrier{
		policy:    policy.withDefaults(),
		randFloat: rand.Float64,
	}
}

// Policy returns the retrier's policy.
func (r *Retrier) Policy() Policy { return r.policy }

// Delay computes the sleep before the retry following the given 1-indexed
// failed attempt, including jitter when the strategy calls for it.
func (r *Retrier) Delay(attempt int) time.Duration {
	delay := r.policy.BaseDelayFor(attempt)
	if r.policy.Strategy == ExponentialBackoffJitter && delay > 0 {
		delay = time.Duration(float64(delay) * (0.5 + 0.5*r.randFloat()))
	}
	return delay
}

// Execute runs the operation, retrying per policy. Fatal (non-retryable)
// errors return immediately without delay. When attempts run out, the last
// error is wrapped in an AttemptsExhaustedError.
func (r *Retrier) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// Cancellation is never worth retrying.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !r.policy.retryable(err) {
			return err
		}
		if attempt >= r.policy.MaxAttempts {
			break
		}

		delay := r.Delay(attempt)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &AttemptsExhaustedError{Attempts: r.policy.MaxAttempts, Err: lastErr}
}

// RetryManager holds a default policy plus per-provider overrides so each
// provider can carry its own attempt budget and backoff shape.
type RetryManager struct {
	def       *Retrier
	providers map[string]*Retrier
}

// NewRetryManager creates a manager with a default policy and optional
// per-provider policies.
func NewRetryManager(def Policy, perProvider map[string]Policy) *RetryManager {
	m := &RetryManager{
		def:       NewRetrier(def),
		providers: make(map[string]*Retrier, len(perProvider)),
	}
	for name, p := range perProvider {
		m.providers[name] = NewRetrier(p)
	}
	return m
}

// Retrier returns the retrier for the named provider, falling back to the
// default policy.
func (m *RetryManager) Retrier(provider string) *Retrier {
	if r, ok := m.providers[provider]; ok {
		return r
	}
	return m.def
}

// Execute runs the operation under the named provider's policy.
func (m *RetryManager) Execute(ctx context.Context, provider string, op func(context.Context) error) error {
	return m.Retrier(provider).Execute(ctx, op)
}
