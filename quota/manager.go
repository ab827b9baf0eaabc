package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/feedgate/feedgate/observe"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Allocation is the base quota table. Required.
	Allocation Allocation

	// Logger receives admission decisions. Defaults to a nop logger.
	Logger observe.Logger

	// Now overrides the clock, mainly for tests. Defaults to time.Now.
	Now func() time.Time
}

// Manager enforces the shared daily quota. It delegates the atomic
// check-and-increment to its CounterStore and layers on allocation
// overrides, status reporting and fail-safe behavior.
type Manager struct {
	store  CounterStore
	base   Allocation
	logger observe.Logger
	now    func() time.Time

	mu    sync.Mutex
	day   string     // day the cached override was loaded for
	alloc Allocation // effective allocation for day
}

// NewManager creates a Manager over the given counter store.
func NewManager(store CounterStore, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("quota: counter store is required")
	}
	if err := cfg.Allocation.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observe.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:  store,
		base:   cfg.Allocation.clone(),
		logger: logger,
		now:    now,
	}, nil
}

// RequestQuota asks for amount units for the environment today. It returns
// nil when approved. Denials return an *ExceededError; every denial,
// including the fail-safe denial on a store error, matches
// errors.Is(err, ErrQuotaExceeded).
func (m *Manager) RequestQuota(ctx context.Context, environment string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("quota: amount must be positive, got %d", amount)
	}

	day := Day(m.now())
	alloc, err := m.allocationFor(ctx, day)
	if err != nil {
		m.logger.Warn(ctx, "quota allocation lookup failed, denying request",
			observe.F("environment", environment),
			observe.F("error", err.Error()),
		)
		return fmt.Errorf("%w: counter store unavailable: %v", ErrQuotaExceeded, err)
	}
	if _, ok := alloc.Environments[environment]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEnvironment, environment)
	}

	res, err := m.store.Admit(ctx, AdmitRequest{
		Day:         day,
		Environment: environment,
		Amount:      amount,
		Allocation:  alloc,
	})
	if err != nil {
		// Fail safe: an unreachable store must never let the shared
		// subscription overrun its ceiling.
		m.logger.Warn(ctx, "quota counter store unavailable, denying request",
			observe.F("environment", environment),
			observe.F("amount", amount),
			observe.F("error", err.Error()),
		)
		return fmt.Errorf("%w: counter store unavailable: %v", ErrQuotaExceeded, err)
	}

	if !res.Approved {
		m.logger.Info(ctx, "quota denied",
			observe.F("environment", environment),
			observe.F("amount", amount),
			observe.F("env_used", res.EnvUsed),
			observe.F("global_used", res.GlobalUsed),
			observe.F("spillover", res.Spillover),
		)
		return &ExceededError{
			Environment: environment,
			Requested:   amount,
			Used:        res.EnvUsed,
			Allocated:   alloc.Environments[environment].Allocated,
			GlobalUsed:  res.GlobalUsed,
			GlobalLimit: alloc.TotalDailyLimit,
			Spillover:   res.Spillover,
		}
	}

	m.logger.Debug(ctx, "quota approved",
		observe.F("environment", environment),
		observe.F("amount", amount),
		observe.F("env_used", res.EnvUsed),
		observe.F("global_used", res.GlobalUsed),
		observe.F("spillover", res.Spillover),
	)
	return nil
}

// UsageStatus returns today's usage for one environment.
func (m *Manager) UsageStatus(ctx context.Context, environment string) (EnvironmentStatus, error) {
	day := Day(m.now())
	alloc, err := m.allocationFor(ctx, day)
	if err != nil {
		return EnvironmentStatus{}, err
	}
	env, ok := alloc.Environments[environment]
	if !ok {
		return EnvironmentStatus{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, environment)
	}

	used, _, err := m.store.Usage(ctx, day, []string{environment})
	if err != nil {
		return EnvironmentStatus{}, fmt.Errorf("quota: read usage: %w", err)
	}
	return EnvironmentStatus{
		Environment: environment,
		Allocated:   env.Allocated,
		Used:        used[environment],
		Priority:    env.Priority,
		Available:   env.Allocated - used[environment],
	}, nil
}

// GlobalStatus returns today's subscription-wide usage.
func (m *Manager) GlobalStatus(ctx context.Context) (GlobalStatus, error) {
	day := Day(m.now())
	alloc, err := m.allocationFor(ctx, day)
	if err != nil {
		return GlobalStatus{}, err
	}
	_, global, err := m.store.Usage(ctx, day, nil)
	if err != nil {
		return GlobalStatus{}, fmt.Errorf("quota: read usage: %w", err)
	}
	return GlobalStatus{
		TotalDailyLimit: alloc.TotalDailyLimit,
		Used:            global,
		Available:       alloc.TotalDailyLimit - global,
	}, nil
}

// Statuses returns today's usage for every environment, sorted by name.
func (m *Manager) Statuses(ctx context.Context) ([]EnvironmentStatus, error) {
	day := Day(m.now())
	alloc, err := m.allocationFor(ctx, day)
	if err != nil {
		return nil, err
	}

	names := alloc.EnvironmentNames()
	used, _, err := m.store.Usage(ctx, day, names)
	if err != nil {
		return nil, fmt.Errorf("quota: read usage: %w", err)
	}

	statuses := make([]EnvironmentStatus, 0, len(names))
	for _, name := range names {
		env := alloc.Environments[name]
		statuses = append(statuses, EnvironmentStatus{
			Environment: name,
			Allocated:   env.Allocated,
			Used:        used[name],
			Priority:    env.Priority,
			Available:   env.Allocated - used[name],
		})
	}
	return statuses, nil
}

// Reset clears today's counters. Operator use only; counters otherwise
// expire with the day.
func (m *Manager) Reset(ctx context.Context) error {
	day := Day(m.now())
	alloc, err := m.allocationFor(ctx, day)
	if err != nil {
		return err
	}
	if err := m.store.Reset(ctx, day, alloc.EnvironmentNames()); err != nil {
		return fmt.Errorf("quota: reset counters: %w", err)
	}
	m.logger.Info(ctx, "quota counters reset", observe.F("day", day))
	return nil
}

// Allocate overrides one environment's allocation for the rest of today.
// The override must keep the allocation table valid; it is persisted in the
// counter store so every process sharing the subscription sees it.
func (m *Manager) Allocate(ctx context.Context, environment string, amount int64) error {
	day := Day(m.now())
	alloc, err := m.allocationFor(ctx, day)
	if err != nil {
		return err
	}
	env, ok := alloc.Environments[environment]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEnvironment, environment)
	}

	next := alloc.clone()
	env.Allocated = amount
	next.Environments[environment] = env
	if err := next.Validate(); err != nil {
		return err
	}

	if err := m.store.SaveAllocation(ctx, day, next); err != nil {
		return fmt.Errorf("quota: save allocation override: %w", err)
	}

	m.mu.Lock()
	m.day = day
	m.alloc = next
	m.mu.Unlock()

	m.logger.Info(ctx, "quota allocation overridden",
		observe.F("environment", environment),
		observe.F("allocated", amount),
		observe.F("day", day),
	)
	return nil
}

// allocationFor returns the effective allocation for the day: the stored
// per-day override when one exists, the base table otherwise. The override
// lookup is cached for the day; Allocate refreshes the cache.
func (m *Manager) allocationFor(ctx context.Context, day string) (Allocation, error) {
	m.mu.Lock()
	if m.day == day {
		alloc := m.alloc.clone()
		m.mu.Unlock()
		return alloc, nil
	}
	m.mu.Unlock()

	alloc, ok, err := m.store.LoadAllocation(ctx, day)
	if err != nil {
		return Allocation{}, fmt.Errorf("quota: load allocation override: %w", err)
	}
	if !ok {
		alloc = m.base.clone()
	}

	m.mu.Lock()
	m.day = day
	m.alloc = alloc.clone()
	m.mu.Unlock()
	return alloc, nil
}
