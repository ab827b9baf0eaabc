package quota

import "context"

// AdmitRequest asks a CounterStore to admit amount units for environment on
// the given day under the supplied allocation table.
type AdmitRequest struct {
	Day         string // UTC day, YYYYMMDD
	Environment string
	Amount      int64
	Allocation  Allocation
}

// AdmitResult reports an admission decision and the counters it observed.
// On approval the counters include the increment.
type AdmitResult struct {
	Approved   bool
	EnvUsed    int64
	GlobalUsed int64

	// Spillover reports whether the decision was made beyond the
	// environment's own allocation.
	Spillover bool
}

// CounterStore holds the shared per-day usage counters.
//
// Contract:
//   - Admit must evaluate the allocation policy and increment both the
//     per-environment and global counters as one atomic operation: no
//     interleaving of two Admit calls may jointly exceed a limit.
//   - Counters are scoped to a UTC day and expire on their own (TTL); Reset
//     exists for operator-triggered resets only.
//   - Implementations must be safe for concurrent use. The Redis store is
//     additionally safe across processes and hosts; the in-memory store
//     guarantees the ceiling only within one process and is meant for
//     single-process deployments.
type CounterStore interface {
	// Admit atomically decides and records one admission.
	Admit(ctx context.Context, req AdmitRequest) (AdmitResult, error)

	// Usage returns each named environment's used counter and the global
	// used counter for the day.
	Usage(ctx context.Context, day string, environments []string) (map[string]int64, int64, error)

	// Reset clears the day's counters for the named environments and the
	// global counter.
	Reset(ctx context.Context, day string, environments []string) error

	// SaveAllocation persists a per-day allocation override.
	SaveAllocation(ctx context.Context, day string, alloc Allocation) error

	// LoadAllocation returns the day's allocation override, if any.
	LoadAllocation(ctx context.Context, day string) (Allocation, bool, error)
}
