// Package redisstore provides a Redis-backed quota.CounterStore.
//
// All counters for one subscription share a Redis hash tag, so the store
// works unchanged against a cluster, and the admission decision runs as a
// Lua script so the policy check and the counter increments are one atomic
// operation across every process sharing the subscription.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feedgate/feedgate/quota"
)

// DefaultTTL keeps a day's counters for two days, so yesterday's usage
// stays readable for late status queries before Redis reclaims it.
const DefaultTTL = 48 * time.Hour

// admitScript mirrors the allocation policy: global ceiling first, then the
// environment's own allocation, then spillover from unallocated headroom and
// strictly lower priority environments. KEYS[1] is the global counter,
// KEYS[2..] the per-environment counters in ARGV order.
//
// ARGV: amount, total, index of the requesting environment, ttl seconds,
// then (allocated, priority) pairs per environment.
var admitScript = redis.NewScript(`
local amount = tonumber(ARGV[1])
local total = tonumber(ARGV[2])
local idx = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local n = (#ARGV - 4) / 2

local global = tonumber(redis.call('GET', KEYS[1]) or '0')
local used = {}
for i = 1, n do
	used[i] = tonumber(redis.call('GET', KEYS[1 + i]) or '0')
end

local own_alloc = tonumber(ARGV[3 + 2 * idx])
local own_prio = tonumber(ARGV[4 + 2 * idx])

local approved = false
local spillover = false

if global + amount > total then
	spillover = used[idx] + amount > own_alloc
elseif used[idx] + amount <= own_alloc then
	approved = true
else
	spillover = true
	local need = used[idx] + amount - own_alloc
	local sum_alloc = 0
	local borrowable = 0
	for i = 1, n do
		local alloc_i = tonumber(ARGV[3 + 2 * i])
		local prio_i = tonumber(ARGV[4 + 2 * i])
		sum_alloc = sum_alloc + alloc_i
		if i ~= idx and prio_i > own_prio then
			local unused = alloc_i - used[i]
			if unused > 0 then
				borrowable = borrowable + unused
			end
		end
	end
	borrowable = borrowable + (total - sum_alloc)
	approved = borrowable >= need
end

if approved then
	used[idx] = redis.call('INCRBY', KEYS[1 + idx], amount)
	global = redis.call('INCRBY', KEYS[1], amount)
	redis.call('EXPIRE', KEYS[1 + idx], ttl)
	redis.call('EXPIRE', KEYS[1], ttl)
end

local result = {0, 0, used[idx], global}
if approved then
	result[1] = 1
end
if spillover then
	result[2] = 1
end
return result
`)

// Config configures a Store.
type Config struct {
	// Subscription names the metered subscription; it scopes every key and
	// doubles as the cluster hash tag. Required.
	Subscription string

	// TTL bounds counter lifetime. Defaults to DefaultTTL.
	TTL time.Duration
}

// Store is a Redis-backed quota.CounterStore.
type Store struct {
	client       redis.UniversalClient
	subscription string
	ttl          time.Duration
}

// New creates a Store over an existing Redis client.
func New(client redis.UniversalClient, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("redisstore: redis client is required")
	}
	if cfg.Subscription == "" {
		return nil, errors.New("redisstore: subscription name is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, subscription: cfg.Subscription, ttl: ttl}, nil
}

func (s *Store) envKey(day, env string) string {
	return fmt.Sprintf("{%s}:quota:%s:%s:used", s.subscription, day, env)
}

func (s *Store) globalKey(day string) string {
	return fmt.Sprintf("{%s}:quota:%s:global:used", s.subscription, day)
}

func (s *Store) allocKey(day string) string {
	return fmt.Sprintf("{%s}:quota:%s:allocation", s.subscription, day)
}

// Admit atomically decides and records one admission via the Lua script.
func (s *Store) Admit(ctx context.Context, req quota.AdmitRequest) (quota.AdmitResult, error) {
	names := req.Allocation.EnvironmentNames()

	keys := make([]string, 0, len(names)+1)
	keys = append(keys, s.globalKey(req.Day))

	args := make([]interface{}, 0, 4+2*len(names))
	args = append(args,
		req.Amount,
		req.Allocation.TotalDailyLimit,
		0, // requesting environment index, filled below
		int64(s.ttl/time.Second),
	)
	idx := -1
	for i, name := range names {
		keys = append(keys, s.envKey(req.Day, name))
		env := req.Allocation.Environments[name]
		args = append(args, env.Allocated, env.Priority)
		if name == req.Environment {
			idx = i + 1 // Lua tables are 1-based
		}
	}
	if idx < 0 {
		return quota.AdmitResult{}, fmt.Errorf("redisstore: environment %q not in allocation", req.Environment)
	}
	args[2] = idx

	raw, err := admitScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return quota.AdmitResult{}, fmt.Errorf("redisstore: admit script: %w", err)
	}
	if len(raw) != 4 {
		return quota.AdmitResult{}, fmt.Errorf("redisstore: admit script returned %d values, want 4", len(raw))
	}

	vals := make([]int64, 4)
	for i, v := range raw {
		n, ok := v.(int64)
		if !ok {
			return quota.AdmitResult{}, fmt.Errorf("redisstore: admit script value %d is %T, want int64", i, v)
		}
		vals[i] = n
	}
	return quota.AdmitResult{
		Approved:   vals[0] == 1,
		Spillover:  vals[1] == 1,
		EnvUsed:    vals[2],
		GlobalUsed: vals[3],
	}, nil
}

// Usage reads the day's per-environment and global counters with one MGET.
func (s *Store) Usage(ctx context.Context, day string, environments []string) (map[string]int64, int64, error) {
	keys := make([]string, 0, len(environments)+1)
	keys = append(keys, s.globalKey(day))
	for _, env := range environments {
		keys = append(keys, s.envKey(day, env))
	}

	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redisstore: read counters: %w", err)
	}

	parse := func(v interface{}) (int64, error) {
		if v == nil {
			return 0, nil
		}
		str, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("redisstore: counter value is %T, want string", v)
		}
		var n int64
		if _, err := fmt.Sscan(str, &n); err != nil {
			return 0, fmt.Errorf("redisstore: parse counter %q: %w", str, err)
		}
		return n, nil
	}

	global, err := parse(raw[0])
	if err != nil {
		return nil, 0, err
	}
	used := make(map[string]int64, len(environments))
	for i, env := range environments {
		n, err := parse(raw[i+1])
		if err != nil {
			return nil, 0, err
		}
		used[env] = n
	}
	return used, global, nil
}

// Reset deletes the day's counters.
func (s *Store) Reset(ctx context.Context, day string, environments []string) error {
	keys := make([]string, 0, len(environments)+1)
	keys = append(keys, s.globalKey(day))
	for _, env := range environments {
		keys = append(keys, s.envKey(day, env))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisstore: reset counters: %w", err)
	}
	return nil
}

// SaveAllocation persists a per-day allocation override as JSON.
func (s *Store) SaveAllocation(ctx context.Context, day string, alloc quota.Allocation) error {
	payload, err := json.Marshal(alloc)
	if err != nil {
		return fmt.Errorf("redisstore: encode allocation: %w", err)
	}
	if err := s.client.Set(ctx, s.allocKey(day), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: save allocation: %w", err)
	}
	return nil
}

// LoadAllocation returns the day's allocation override, if any.
func (s *Store) LoadAllocation(ctx context.Context, day string) (quota.Allocation, bool, error) {
	payload, err := s.client.Get(ctx, s.allocKey(day)).Bytes()
	if errors.Is(err, redis.Nil) {
		return quota.Allocation{}, false, nil
	}
	if err != nil {
		return quota.Allocation{}, false, fmt.Errorf("redisstore: load allocation: %w", err)
	}
	var alloc quota.Allocation
	if err := json.Unmarshal(payload, &alloc); err != nil {
		return quota.Allocation{}, false, fmt.Errorf("redisstore: decode allocation: %w", err)
	}
	return alloc, true, nil
}
