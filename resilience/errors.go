package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for resilience operations. The typed errors below match
// these targets through errors.Is so callers can branch without unwrapping.
var (
	// ErrCircuitOpen is returned when a circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrAttemptsExhausted is returned when retry attempts run out.
	ErrAttemptsExhausted = errors.New("resilience: retry attempts exhausted")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// CircuitOpenError is returned when a call is denied because the named
// circuit is open. It is distinct from any error the protected operation
// returns: the operation was never invoked.
type CircuitOpenError struct {
	// Name is the breaker name, e.g. "provider_barchart".
	Name string

	// RetryAfter is the time remaining until the half-open probe.
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("resilience: circuit %q open, retry after %s", e.Name, e.RetryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// AttemptsExhaustedError wraps the last error after every retry attempt
// failed.
type AttemptsExhaustedError struct {
	// Attempts is the number of attempts made.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("resilience: %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *AttemptsExhaustedError) Unwrap() error {
	return e.Err
}

func (e *AttemptsExhaustedError) Is(target error) bool {
	return target == ErrAttemptsExhausted
}
