package quota

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process CounterStore.
//
// It upholds the atomic check-and-increment contract with a single mutex,
// so the global ceiling invariant holds only within one process. Use the
// Redis store for multi-environment deployments; MemoryStore is for
// single-process runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	days   map[string]*dayCounters
	allocs map[string]Allocation
}

type dayCounters struct {
	env    map[string]int64
	global int64
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		days:   make(map[string]*dayCounters),
		allocs: make(map[string]Allocation),
	}
}

// Admit atomically decides and records one admission.
func (s *MemoryStore) Admit(_ context.Context, req AdmitRequest) (AdmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.dayLocked(req.Day)
	d := decide(req.Allocation, req.Environment, req.Amount, day.env, day.global)
	if d.approved {
		day.env[req.Environment] += req.Amount
		day.global += req.Amount
	}
	s.pruneLocked(req.Day)

	return AdmitResult{
		Approved:   d.approved,
		EnvUsed:    day.env[req.Environment],
		GlobalUsed: day.global,
		Spillover:  d.spillover,
	}, nil
}

// Usage returns the day's per-environment and global used counters.
func (s *MemoryStore) Usage(_ context.Context, day string, environments []string) (map[string]int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dayLocked(day)
	used := make(map[string]int64, len(environments))
	for _, env := range environments {
		used[env] = d.env[env]
	}
	return used, d.global, nil
}

// Reset clears the day's counters.
func (s *MemoryStore) Reset(_ context.Context, day string, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.days, day)
	return nil
}

// SaveAllocation persists a per-day allocation override.
func (s *MemoryStore) SaveAllocation(_ context.Context, day string, alloc Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocs[day] = alloc.clone()
	return nil
}

// LoadAllocation returns the day's allocation override, if any.
func (s *MemoryStore) LoadAllocation(_ context.Context, day string) (Allocation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alloc, ok := s.allocs[day]
	if !ok {
		return Allocation{}, false, nil
	}
	return alloc.clone(), true, nil
}

func (s *MemoryStore) dayLocked(day string) *dayCounters {
	d, ok := s.days[day]
	if !ok {
		d = &dayCounters{env: make(map[string]int64)}
		s.days[day] = d
	}
	return d
}

// pruneLocked stands in for the Redis TTL: every day before the most
// recent previous day is dropped.
func (s *MemoryStore) pruneLocked(current string) {
	days := make([]string, 0, len(s.days))
	for day := range s.days {
		if day < current {
			days = append(days, day)
		}
	}
	if len(days) <= 1 {
		return
	}
	sort.Strings(days)
	for _, day := range days[:len(days)-1] {
		delete(s.days, day)
		delete(s.allocs, day)
	}
}
