package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds one CheckAll pass.
const DefaultCheckTimeout = 10 * time.Second

// Aggregator combines multiple health checkers into a composite check.
// Checks run in parallel under a shared timeout.
type Aggregator struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
}

// NewAggregator creates an aggregator. A timeout of zero uses
// DefaultCheckTimeout.
func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Aggregator{
		timeout:  timeout,
		checkers: make(map[string]Checker),
	}
}

// Register adds a checker. Re-registering a name replaces the checker but
// keeps its original position.
func (a *Aggregator) Register(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := checker.Name()
	if _, exists := a.checkers[name]; !exists {
		a.order = append(a.order, name)
	}
	a.checkers[name] = checker
}

// CheckerNames returns the registered checker names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.order))
	copy(names, a.order)
	return names
}

// Check runs a single named health check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()

	if !ok {
		return Result{}, ErrCheckerNotFound
	}
	return a.run(ctx, checker), nil
}

// CheckAll runs every registered check in parallel and returns the results
// by checker name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	type named struct {
		name    string
		checker Checker
	}
	a.mu.RLock()
	snapshot := make([]named, 0, len(a.checkers))
	for name, checker := range a.checkers {
		snapshot = append(snapshot, named{name, checker})
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(snapshot))
	if len(snapshot) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		name   string
		result Result
	}
	out := make(chan outcome, len(snapshot))
	for _, nc := range snapshot {
		go func() {
			out <- outcome{nc.name, a.run(ctx, nc.checker)}
		}()
	}
	for range snapshot {
		o := <-out
		results[o.name] = o.result
	}
	return results
}

// OverallStatus folds a result set: unhealthy dominates, then degraded.
func OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// run executes one check on its own goroutine so a stuck checker cannot
// wedge the whole pass past the timeout.
func (a *Aggregator) run(ctx context.Context, checker Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		res := checker.Check(ctx)
		res.Duration = time.Since(start)
		if res.Timestamp.IsZero() {
			res.Timestamp = start
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		res := Unhealthy("check timed out", ErrCheckTimeout)
		res.Duration = time.Since(start)
		res.Timestamp = start
		return res
	}
}
