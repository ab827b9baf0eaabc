package feed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransient is the errors.Is target for retryable provider failures:
// connection resets, timeouts, 5xx-style responses.
var ErrTransient = errors.New("feed: transient provider error")

// ErrFatal is the errors.Is target for non-retryable provider failures:
// authentication and validation errors.
var ErrFatal = errors.New("feed: fatal provider error")

// Provider retrieves market data from one upstream source.
type Provider interface {
	// Name returns the provider identity, e.g. "barchart".
	Name() string

	// DailyBars retrieves daily bars for the symbol over [start, end].
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// TransientError marks a provider failure worth retrying.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("feed: provider %q transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// FatalError marks a provider failure retries cannot fix.
type FatalError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed: provider %q %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("feed: provider %q %s", e.Provider, e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Is(target error) bool { return target == ErrFatal }

// Transient wraps err as a retryable failure of the named provider.
func Transient(provider string, err error) error {
	return &TransientError{Provider: provider, Err: err}
}

// Fatal wraps err as a non-retryable failure of the named provider.
func Fatal(provider, reason string, err error) error {
	return &FatalError{Provider: provider, Reason: reason, Err: err}
}
