package quota

// decision is the outcome of one policy evaluation, before any counter
// increment.
type decision struct {
	approved  bool
	spillover bool
}

// decide evaluates the allocation policy for one request against a
// consistent snapshot of today's counters. Callers must hold whatever lock
// makes the snapshot-and-increment atomic; the Redis store mirrors this
// logic in a Lua script for the same reason.
//
// Policy, in order:
//  1. The global ceiling is absolute: deny when globalUsed + amount would
//     exceed it, regardless of per-environment headroom.
//  2. Requests within the environment's own allocation always succeed.
//  3. Beyond the allocation, spillover capacity is the unallocated headroom
//     (total − Σ allocated) plus the unused allocation of strictly lower
//     priority environments. Unused allocation of equal or higher priority
//     environments is never lent, so a guaranteed allocation cannot be
//     starved by a lower-priority burst.
func decide(alloc Allocation, env string, amount int64, used map[string]int64, globalUsed int64) decision {
	if globalUsed+amount > alloc.TotalDailyLimit {
		return decision{approved: false, spillover: used[env]+amount > alloc.Environments[env].Allocated}
	}

	own := alloc.Environments[env]
	envUsed := used[env]
	if envUsed+amount <= own.Allocated {
		return decision{approved: true}
	}

	// Cumulative units beyond the environment's own allocation, counting
	// what it has already borrowed today. Comparing the cumulative excess
	// against the currently unused capacity bounds total borrowing, since
	// lending does not move the lender's own counter.
	need := envUsed + amount - own.Allocated

	var sumAllocated int64
	var borrowable int64
	for name, other := range alloc.Environments {
		sumAllocated += other.Allocated
		if name == env || other.Priority <= own.Priority {
			continue
		}
		if unused := other.Allocated - used[name]; unused > 0 {
			borrowable += unused
		}
	}
	borrowable += alloc.TotalDailyLimit - sumAllocated

	return decision{approved: borrowable >= need, spillover: true}
}
