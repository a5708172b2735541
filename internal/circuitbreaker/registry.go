package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry hands out one breaker per dependency name for the lifetime of
// the process. The first caller's configuration wins.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults Config
	opts     []Option
}

// NewRegistry creates a registry whose breakers use defaults unless a
// config is passed to GetOrCreate. opts are applied to every breaker.
func NewRegistry(defaults Config, opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		opts:     opts,
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// cfg (or the registry defaults when cfg is nil) and hc on first use.
func (r *Registry) GetOrCreate(name string, cfg *Config, hc HealthCheck) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	c := r.defaults
	if cfg != nil {
		c = *cfg
	}

	opts := append([]Option{}, r.opts...)
	if hc != nil {
		opts = append(opts, WithHealthCheck(hc))
	}

	cb = New(name, c, opts...)
	r.breakers[name] = cb
	return cb
}

// ListAll returns a snapshot of every breaker, ordered by name.
func (r *Registry) ListAll() []Stats {
	r.mutex.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.RUnlock()

	stats := make([]Stats, 0, len(breakers))
	for _, cb := range breakers {
		stats = append(stats, cb.Stats())
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Name < stats[j].Name
	})
	return stats
}

// Close stops the health polling of every breaker. Breakers stay
// registered and usable.
func (r *Registry) Close() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Destroy()
	}
}
