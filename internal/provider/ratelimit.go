package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterMap holds one rate.Limiter per source, shared by every worker
// of every batch.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[ProviderName]*rate.Limiter
}

// NewRateLimiterMap creates a limiter for each source from its documented
// requests-per-second ceiling.
func NewRateLimiterMap() *RateLimiterMap {
	caps := ProviderCapabilities()
	m := &RateLimiterMap{
		limiters: make(map[ProviderName]*rate.Limiter, len(caps)),
	}
	for name, c := range caps {
		if c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
			continue
		}
		m.limiters[name] = rate.NewLimiter(rate.Limit(c.RateLimit.RequestsPerSecond), 1)
	}
	return m
}

// NewUnlimitedRateLimiterMap returns a map that never blocks. Used by tests
// and by sources pointed at a self-hosted endpoint.
func NewUnlimitedRateLimiterMap() *RateLimiterMap {
	return &RateLimiterMap{limiters: make(map[ProviderName]*rate.Limiter)}
}

// SetLimit replaces the ceiling for one source. A non-positive rps removes it.
func (m *RateLimiterMap) SetLimit(name ProviderName, rps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rps <= 0 {
		delete(m.limiters, name)
		return
	}
	m.limiters[name] = rate.NewLimiter(rate.Limit(rps), 1)
}

// Wait blocks until the rate limiter for the given source allows a request,
// or the context is canceled.
func (m *RateLimiterMap) Wait(ctx context.Context, name ProviderName) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
