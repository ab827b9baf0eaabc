package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/feedgate/feedgate/observe"
)

// ProviderFallback re-invokes the failed operation against alternate
// providers in priority order, stopping at the first success.
type ProviderFallback struct {
	fallbacks []string
	logger    observe.Logger
}

// NewProviderFallback creates the strategy with fallback providers in
// priority order. The failed provider is skipped if listed.
func NewProviderFallback(logger observe.Logger, fallbacks ...string) *ProviderFallback {
	if logger == nil {
		logger = observe.NewNop()
	}
	return &ProviderFallback{fallbacks: fallbacks, logger: logger}
}

func (f *ProviderFallback) Strategy() Strategy { return StrategyProviderFallback }

func (f *ProviderFallback) Recover(ctx context.Context, req Request) (any, error) {
	if req.Operation == nil {
		return nil, errors.New("recovery: no operation to re-invoke")
	}

	err := req.Err
	tried := 0
	for _, provider := range f.fallbacks {
		if provider == req.Provider {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		tried++

		f.logger.Info(ctx, "trying fallback provider",
			observe.F("provider", provider),
			observe.F("failed_provider", req.Provider),
		)
		value, opErr := req.Operation(ctx, provider)
		if opErr == nil {
			return value, nil
		}
		f.logger.Warn(ctx, "fallback provider failed",
			observe.F("provider", provider),
			observe.F("error", opErr.Error()),
		)
		err = opErr
	}

	if tried == 0 {
		return nil, fmt.Errorf("recovery: no fallback providers for %q: %w", req.Provider, err)
	}
	return nil, fmt.Errorf("recovery: %d fallback provider(s) failed: %w", tried, err)
}

// StaleSource serves last known good values for degradation. The feed
// package's bar cache implements it.
type StaleSource interface {
	// LastKnownGood returns the most recent value stored under key, however
	// old, and whether one exists.
	LastKnownGood(ctx context.Context, key string) (any, bool)
}

// GracefulDegradation serves a stale last-known-good value instead of
// failing outright. Callers can tell a degraded result from a fresh one by
// the Result's Strategy field.
type GracefulDegradation struct {
	source StaleSource
	logger observe.Logger
}

// NewGracefulDegradation creates the strategy over a stale-value source.
func NewGracefulDegradation(logger observe.Logger, source StaleSource) *GracefulDegradation {
	if logger == nil {
		logger = observe.NewNop()
	}
	return &GracefulDegradation{source: source, logger: logger}
}

func (g *GracefulDegradation) Strategy() Strategy { return StrategyGracefulDegradation }

func (g *GracefulDegradation) Recover(ctx context.Context, req Request) (any, error) {
	if g.source == nil || req.Key == "" {
		return nil, fmt.Errorf("recovery: no degraded value for %q: %w", req.Key, req.Err)
	}
	value, ok := g.source.LastKnownGood(ctx, req.Key)
	if !ok {
		return nil, fmt.Errorf("recovery: no degraded value for %q: %w", req.Key, req.Err)
	}
	g.logger.Warn(ctx, "serving stale value",
		observe.F("key", req.Key),
		observe.F("provider", req.Provider),
	)
	return value, nil
}

// ManualIntervention is the terminal non-strategy: it never recovers, it
// logs the failure for an operator and surfaces the error unchanged.
type ManualIntervention struct {
	logger observe.Logger
}

// NewManualIntervention creates the terminal strategy.
func NewManualIntervention(logger observe.Logger) *ManualIntervention {
	if logger == nil {
		logger = observe.NewNop()
	}
	return &ManualIntervention{logger: logger}
}

func (m *ManualIntervention) Strategy() Strategy { return StrategyManualIntervention }

func (m *ManualIntervention) Recover(ctx context.Context, req Request) (any, error) {
	m.logger.Error(ctx, "manual intervention required",
		observe.F("provider", req.Provider),
		observe.F("environment", req.Environment),
		observe.F("key", req.Key),
		observe.F("error", req.Err.Error()),
	)
	return nil, req.Err
}
