package resilience

import (
	"sync"
	"time"
)

// Registry lazily creates one Breaker per destination and keeps it for the
// life of the process.
type Registry struct {
	cfg    BreakerConfig
	now    func() time.Time
	onMove func(dest string, from, to State)

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

type RegistryOption func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithStateHook is called after every breaker state change, outside the breaker lock.
func WithStateHook(fn func(dest string, from, to State)) RegistryOption {
	return func(r *Registry) { r.onMove = fn }
}

func NewRegistry(cfg BreakerConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:      cfg,
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for dest, creating it on first use.
func (r *Registry) Get(dest string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[dest]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if b, ok := r.breakers[dest]; ok {
		return b
	}
	b = newBreaker(dest, r.cfg, r.now, r.onMove)
	r.breakers[dest] = b
	return b
}

// Snapshots copies the state of every known breaker.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for dest, b := range r.breakers {
		out[dest] = b.Snapshot()
	}
	return out
}
