// Package quota enforces a shared, finite daily request quota split across
// independently deployed environments that compete for the same metered
// subscription.
//
// A Manager answers one question per outbound request: may this environment
// spend N units of today's quota. Each environment holds a guaranteed
// allocation. Demand beyond the allocation is served from spillover, which
// is unallocated headroom plus the unused allocation of strictly lower
// priority environments. The global daily ceiling is absolute.
//
// Counters live in a CounterStore keyed by UTC calendar day with automatic
// expiry, so no reset job is required. The store's Admit operation is
// atomic (mutex in the in-memory store, a Lua script in the Redis store),
// which is what makes the global ceiling hold across processes and hosts:
// two concurrent callers can never both be approved for the last unit.
//
// When the counter store is unreachable the Manager fails safe: the
// request is denied and a warning is logged, never over-admitted.
package quota
