package health

import (
	"context"
	"fmt"
	"time"

	"github.com/feedgate/feedgate/quota"
	"github.com/feedgate/feedgate/resilience"
)

// BreakerChecker reports circuit breaker health: unhealthy when any breaker
// is open, degraded while any is probing half-open.
type BreakerChecker struct {
	registry *resilience.Registry
}

// NewBreakerChecker creates a checker over the breaker registry.
func NewBreakerChecker(registry *resilience.Registry) *BreakerChecker {
	return &BreakerChecker{registry: registry}
}

func (c *BreakerChecker) Name() string { return "circuit_breakers" }

func (c *BreakerChecker) Check(_ context.Context) Result {
	statuses := c.registry.Statuses()

	details := make(map[string]any, len(statuses))
	var open, halfOpen []string
	for _, s := range statuses {
		details[s.Name] = s.State.String()
		switch s.State {
		case resilience.StateOpen:
			open = append(open, s.Name)
		case resilience.StateHalfOpen:
			halfOpen = append(halfOpen, s.Name)
		}
	}

	switch {
	case len(open) > 0:
		return Unhealthy(fmt.Sprintf("%d circuit(s) open", len(open)), nil).WithDetails(details)
	case len(halfOpen) > 0:
		return Degraded(fmt.Sprintf("%d circuit(s) probing recovery", len(halfOpen))).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("%d circuit(s) closed", len(statuses))).WithDetails(details)
	}
}

// QuotaChecker reports daily quota headroom: degraded past the warning
// fraction of the global limit, unhealthy when exhausted.
type QuotaChecker struct {
	manager *quota.Manager
	warnAt  float64
}

// NewQuotaChecker creates a checker over the quota manager. warnAt is the
// used fraction that flips the check to degraded; values outside (0, 1)
// default to 0.8.
func NewQuotaChecker(manager *quota.Manager, warnAt float64) *QuotaChecker {
	if warnAt <= 0 || warnAt >= 1 {
		warnAt = 0.8
	}
	return &QuotaChecker{manager: manager, warnAt: warnAt}
}

func (c *QuotaChecker) Name() string { return "quota" }

func (c *QuotaChecker) Check(ctx context.Context) Result {
	status, err := c.manager.GlobalStatus(ctx)
	if err != nil {
		return Unhealthy("global quota unavailable", err)
	}

	details := map[string]any{
		"total_daily_limit": status.TotalDailyLimit,
		"used":              status.Used,
		"available":         status.Available,
	}
	used := float64(status.Used) / float64(status.TotalDailyLimit)

	switch {
	case status.Available <= 0:
		return Unhealthy("daily quota exhausted", nil).WithDetails(details)
	case used >= c.warnAt:
		return Degraded(fmt.Sprintf("daily quota %.0f%% used", used*100)).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("daily quota %.0f%% used", used*100)).WithDetails(details)
	}
}

// StoreChecker reports counter store reachability with a cheap read.
type StoreChecker struct {
	store quota.CounterStore
	now   func() time.Time
}

// NewStoreChecker creates a checker over the counter store.
func NewStoreChecker(store quota.CounterStore) *StoreChecker {
	return &StoreChecker{store: store, now: time.Now}
}

func (c *StoreChecker) Name() string { return "counter_store" }

func (c *StoreChecker) Check(ctx context.Context) Result {
	if _, _, err := c.store.Usage(ctx, quota.Day(c.now()), nil); err != nil {
		return Unhealthy("counter store unreachable", err)
	}
	return Healthy("counter store reachable")
}
