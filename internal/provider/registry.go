package provider

import (
	"context"
	"sync"
	"time"
)

// Registry holds the configured source adapters keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[ProviderName]Provider
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[ProviderName]Provider),
	}
}

// Register adds a source to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a source by name, or nil if not registered.
func (r *Registry) Get(name ProviderName) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// All returns all registered sources in lookup order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []Provider
	for _, name := range AllProviderNames() {
		if p, ok := r.providers[name]; ok {
			result = append(result, p)
		}
	}
	return result
}

// CheckResult is the outcome of one connectivity check.
type CheckResult struct {
	Name    ProviderName  `json:"name"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// CheckAll runs TestConnection on every registered source that supports it,
// sequentially and in lookup order.
func (r *Registry) CheckAll(ctx context.Context) []CheckResult {
	var results []CheckResult
	for _, p := range r.All() {
		tp, ok := p.(TestableProvider)
		if !ok {
			continue
		}
		start := time.Now()
		err := tp.TestConnection(ctx)
		res := CheckResult{Name: p.Name(), OK: err == nil, Latency: time.Since(start)}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}
