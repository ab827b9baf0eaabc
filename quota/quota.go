package quota

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrQuotaExceeded is the errors.Is target for every quota denial,
// including fail-safe denials caused by an unreachable counter store.
var ErrQuotaExceeded = errors.New("quota: daily quota exceeded")

// ErrUnknownEnvironment is returned for an environment with no allocation.
var ErrUnknownEnvironment = errors.New("quota: unknown environment")

// ExceededError reports a denied quota request with enough context for
// diagnosis.
type ExceededError struct {
	Environment string
	Requested   int64
	Used        int64 // environment's usage today
	Allocated   int64
	GlobalUsed  int64
	GlobalLimit int64

	// Spillover reports whether spillover capacity was considered, i.e.
	// the request was beyond the environment's own allocation.
	Spillover bool
}

func (e *ExceededError) Error() string {
	if e.Spillover {
		return fmt.Sprintf("quota: environment %q denied %d unit(s): allocation %d used %d, no spillover capacity (global %d/%d)",
			e.Environment, e.Requested, e.Allocated, e.Used, e.GlobalUsed, e.GlobalLimit)
	}
	return fmt.Sprintf("quota: environment %q denied %d unit(s): global ceiling %d/%d",
		e.Environment, e.Requested, e.GlobalUsed, e.GlobalLimit)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// EnvAllocation is one environment's share of the daily limit.
type EnvAllocation struct {
	// Allocated is the environment's guaranteed daily quota.
	Allocated int64 `yaml:"allocated"`

	// Priority ranks environments for spillover; 1 is highest.
	Priority int `yaml:"priority"`
}

// Allocation is the quota table for one metered subscription.
type Allocation struct {
	// TotalDailyLimit is the absolute ceiling across all environments.
	TotalDailyLimit int64 `yaml:"total_daily_limit"`

	// Environments maps environment name to its share.
	Environments map[string]EnvAllocation `yaml:"environments"`
}

// Validate checks the allocation invariants: at least one environment,
// positive limits and priorities, and Σ allocations ≤ total daily limit.
func (a Allocation) Validate() error {
	if a.TotalDailyLimit <= 0 {
		return errors.New("quota: total daily limit must be positive")
	}
	if len(a.Environments) == 0 {
		return errors.New("quota: at least one environment is required")
	}

	var sum int64
	for name, env := range a.Environments {
		if name == "" {
			return errors.New("quota: environment name must not be empty")
		}
		if env.Allocated < 0 {
			return fmt.Errorf("quota: environment %q has negative allocation", name)
		}
		if env.Priority < 1 {
			return fmt.Errorf("quota: environment %q has priority %d, want >= 1", name, env.Priority)
		}
		sum += env.Allocated
	}
	if sum > a.TotalDailyLimit {
		return fmt.Errorf("quota: allocations sum to %d, exceeding total daily limit %d", sum, a.TotalDailyLimit)
	}
	return nil
}

// EnvironmentNames returns the environment names, sorted.
func (a Allocation) EnvironmentNames() []string {
	names := make([]string, 0, len(a.Environments))
	for name := range a.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// clone returns a deep copy so per-day overrides never alias the base table.
func (a Allocation) clone() Allocation {
	envs := make(map[string]EnvAllocation, len(a.Environments))
	for k, v := range a.Environments {
		envs[k] = v
	}
	return Allocation{TotalDailyLimit: a.TotalDailyLimit, Environments: envs}
}

// EnvironmentStatus is a point-in-time view of one environment's usage.
type EnvironmentStatus struct {
	Environment string
	Allocated   int64
	Used        int64
	Priority    int

	// Available is Allocated − Used. Negative when spillover was consumed.
	Available int64
}

// GlobalStatus is a point-in-time view of the whole subscription.
type GlobalStatus struct {
	TotalDailyLimit int64
	Used            int64
	Available       int64
}

// Day formats a time as the UTC calendar-day counter scope, YYYYMMDD.
func Day(t time.Time) string {
	return t.UTC().Format("20060102")
}
