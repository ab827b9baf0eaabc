package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is failing fast without invoking calls.
	StateOpen
	// StateHalfOpen means the circuit is probing whether the resource
	// recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within the sliding window
	// that opens the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the
	// half-open probe.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive successful probes that
	// close a half-open circuit.
	// Default: 1
	SuccessThreshold int

	// SlidingWindowSize bounds the failure history: only the outcomes of
	// the most recent SlidingWindowSize calls count toward the threshold.
	// Default: 10
	SlidingWindowSize int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(name string, from, to State)

	// IsFailure determines whether an error counts as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.SlidingWindowSize <= 0 {
		c.SlidingWindowSize = 10
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
	return c
}

// Breaker is a named circuit breaker.
//
// While open and before RecoveryTimeout elapses, every call fails at O(1)
// cost with a CircuitOpenError without invoking the protected operation.
type Breaker struct {
	name   string
	config BreakerConfig

	mu        sync.Mutex
	state     State
	window    []bool // outcome ring: true = failure
	windowPos int
	windowLen int
	successes int // consecutive successes, meaningful in half-open
	openedAt  time.Time
	changedAt time.Time
	probing   bool // a half-open probe is in flight

	now func() time.Time
}

// NewBreaker creates a circuit breaker for the named resource.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	config = config.withDefaults()
	return &Breaker{
		name:      name,
		config:    config,
		state:     StateClosed,
		window:    make([]bool, config.SlidingWindowSize),
		changedAt: time.Now(),
		now:       time.Now,
	}
}

// Name returns the breaker's resource name.
func (b *Breaker) Name() string { return b.name }

// Execute runs the operation through the circuit breaker.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := op(ctx)
	b.afterCall(err)
	return err
}

// State returns the current circuit state, applying the open → half-open
// transition if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Reset forces the breaker back to closed and clears its failure history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.state
	b.state = StateClosed
	b.clearWindowLocked()
	b.successes = 0
	b.probing = false
	b.changedAt = b.now()

	if old != StateClosed && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, old, StateClosed)
	}
}

// Status is a point-in-time snapshot of a breaker.
type Status struct {
	Name             string
	State            State
	WindowFailures   int
	WindowCalls      int
	Successes        int
	ChangedAt        time.Time
	RetryAfter       time.Duration // time until half-open probe, open only
	FailureThreshold int
	SuccessThreshold int
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		Name:             b.name,
		State:            b.stateLocked(),
		WindowFailures:   b.windowFailuresLocked(),
		WindowCalls:      b.windowLen,
		Successes:        b.successes,
		ChangedAt:        b.changedAt,
		FailureThreshold: b.config.FailureThreshold,
		SuccessThreshold: b.config.SuccessThreshold,
	}
	if st.State == StateOpen {
		st.RetryAfter = b.retryAfterLocked()
	}
	return st
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateOpen:
		return &CircuitOpenError{Name: b.name, RetryAfter: b.retryAfterLocked()}
	case StateHalfOpen:
		if b.probing {
			// One probe at a time while half-open.
			return &CircuitOpenError{Name: b.name, RetryAfter: 0}
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := b.config.IsFailure(err)
	old := b.state

	switch b.state {
	case StateClosed:
		b.recordLocked(failed)
		if failed && b.windowFailuresLocked() >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}

	case StateHalfOpen:
		b.probing = false
		if failed {
			// Failed probe reopens the circuit and restarts the timeout.
			b.successes = 0
			b.transitionLocked(StateOpen)
		} else {
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.successes = 0
				b.clearWindowLocked()
				b.transitionLocked(StateClosed)
			}
		}
	}

	if old != b.state && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, old, b.state)
	}
}

// stateLocked applies the lazy open → half-open transition.
func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.RecoveryTimeout {
		old := b.state
		b.transitionLocked(StateHalfOpen)
		b.successes = 0
		b.probing = false
		if b.config.OnStateChange != nil {
			b.config.OnStateChange(b.name, old, StateHalfOpen)
		}
	}
	return b.state
}

func (b *Breaker) transitionLocked(s State) {
	b.state = s
	b.changedAt = b.now()
	if s == StateOpen {
		b.openedAt = b.changedAt
	}
}

func (b *Breaker) recordLocked(failed bool) {
	b.window[b.windowPos] = failed
	b.windowPos = (b.windowPos + 1) % len(b.window)
	if b.windowLen < len(b.window) {
		b.windowLen++
	}
}

func (b *Breaker) clearWindowLocked() {
	for i := range b.window {
		b.window[i] = false
	}
	b.windowPos = 0
	b.windowLen = 0
}

func (b *Breaker) windowFailuresLocked() int {
	n := 0
	for i := 0; i < b.windowLen; i++ {
		if b.window[i] {
			n++
		}
	}
	return n
}

func (b *Breaker) retryAfterLocked() time.Duration {
	remaining := b.config.RecoveryTimeout - b.now().Sub(b.openedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
