// Package recovery orchestrates what happens after retries are exhausted.
//
// A Manager holds an ordered list of strategies and walks them until one
// produces a value: provider fallback re-invokes the failed operation
// against alternate providers, graceful degradation serves a last known
// good value, and manual intervention is the terminal non-strategy that
// surfaces the error to an operator. Every attempted strategy is recorded
// for diagnostics, success or not.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/feedgate/feedgate/observe"
)

// ErrUnrecoverable is the errors.Is target when every strategy failed.
var ErrUnrecoverable = errors.New("recovery: all strategies exhausted")

// Strategy names one recovery approach.
type Strategy string

const (
	StrategyProviderFallback    Strategy = "provider_fallback"
	StrategyGracefulDegradation Strategy = "graceful_degradation"
	StrategyManualIntervention  Strategy = "manual_intervention"
)

// Operation is the original provider call, re-invocable against a
// different provider identity.
type Operation func(ctx context.Context, provider string) (any, error)

// Request carries everything a strategy needs to attempt recovery.
type Request struct {
	// Provider is the identity the operation originally failed against.
	Provider string

	// Environment is the requesting deployment environment.
	Environment string

	// Key identifies the requested data for degradation lookups,
	// e.g. "daily_bars:ESZ6".
	Key string

	// Operation is the failed call.
	Operation Operation

	// Err is the error that exhausted the retries.
	Err error
}

// Result reports one recovery attempt across all strategies.
type Result struct {
	// Success reports whether any strategy produced a value.
	Success bool

	// Strategy is the strategy that succeeded; empty on failure.
	Strategy Strategy

	// Attempted lists every strategy tried, in order, including failures.
	Attempted []Strategy

	// Value is the recovered value on success.
	Value any

	// Err is the most recent error once every strategy failed; it matches
	// errors.Is(err, ErrUnrecoverable).
	Err error
}

// Recoverer is one recovery strategy.
type Recoverer interface {
	// Strategy returns the strategy's name for diagnostics.
	Strategy() Strategy

	// Recover attempts to produce a substitute value for the failed
	// operation.
	Recover(ctx context.Context, req Request) (any, error)
}

// Manager walks an ordered list of strategies until one succeeds.
type Manager struct {
	strategies []Recoverer
	logger     observe.Logger
}

// NewManager creates a Manager trying strategies in the given order.
func NewManager(logger observe.Logger, strategies ...Recoverer) *Manager {
	if logger == nil {
		logger = observe.NewNop()
	}
	return &Manager{strategies: strategies, logger: logger}
}

// Strategies returns the configured strategy order.
func (m *Manager) Strategies() []Strategy {
	out := make([]Strategy, len(m.strategies))
	for i, s := range m.strategies {
		out[i] = s.Strategy()
	}
	return out
}

// AttemptRecovery tries each strategy in order, stopping at the first
// success. On total failure the Result carries the most recent error,
// wrapped so it still matches the original via errors.Is.
func (m *Manager) AttemptRecovery(ctx context.Context, req Request) Result {
	result := Result{Err: req.Err}

	for _, s := range m.strategies {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		result.Attempted = append(result.Attempted, s.Strategy())
		value, err := s.Recover(ctx, req)
		if err == nil {
			m.logger.Info(ctx, "recovery succeeded",
				observe.F("strategy", string(s.Strategy())),
				observe.F("provider", req.Provider),
				observe.F("attempted", len(result.Attempted)),
			)
			result.Success = true
			result.Strategy = s.Strategy()
			result.Value = value
			result.Err = nil
			return result
		}

		m.logger.Warn(ctx, "recovery strategy failed",
			observe.F("strategy", string(s.Strategy())),
			observe.F("provider", req.Provider),
			observe.F("error", err.Error()),
		)
		result.Err = err
	}

	result.Err = fmt.Errorf("%w: %w", ErrUnrecoverable, result.Err)
	return result
}
