package resilience

import (
	"sort"
	"sync"
)

// Registry addresses circuit breakers by resource name so every call site
// for the same logical resource shares one breaker. It is an explicit
// service object: construct it once at startup and inject it where needed.
type Registry struct {
	defaults BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
	configs  map[string]BreakerConfig
}

// NewRegistry creates a registry. Breakers created through Get use the
// default config unless a per-name config was set with Configure.
func NewRegistry(defaults BreakerConfig) *Registry {
	return &Registry{
		defaults: defaults.withDefaults(),
		breakers: make(map[string]*Breaker),
		configs:  make(map[string]BreakerConfig),
	}
}

// Configure sets a per-name config used when the named breaker is first
// created. It has no effect on a breaker that already exists.
func (r *Registry) Configure(name string, config BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = config.withDefaults()
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.defaults
	}
	b := NewBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

// Statuses returns a snapshot of every breaker, sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset forces every breaker back to closed.
func (r *Registry) Reset() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}
