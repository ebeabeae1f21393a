// Package ratecontrol throttles outbound capability calls so a burst of
// parallel workers cannot overrun the LLM or search services.
package ratecontrol

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter gates calls to one named capability.
type Limiter struct {
	name    string
	limiter *rate.Limiter
}

// NewLimiter creates a limiter admitting qps requests per second with the
// given burst. A non-positive qps disables throttling.
func NewLimiter(name string, qps float64, burst int) *Limiter {
	if qps <= 0 {
		return &Limiter{name: name, limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{name: name, limiter: rate.NewLimiter(rate.Limit(qps), burst)}
}

// Wait blocks until a slot is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.name, err)
	}
	return nil
}

// Allow reports whether a call may proceed right now without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Registry holds the limiters for all capabilities.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Register installs a limiter under name, replacing any previous one.
func (r *Registry) Register(name string, qps float64, burst int) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := NewLimiter(name, qps, burst)
	r.limiters[name] = l
	return l
}

// Get returns the limiter for name, or an unthrottled one if none was
// registered.
func (r *Registry) Get(name string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[name]
	r.mu.RUnlock()
	if ok {
		return l
	}
	return r.Register(name, 0, 0)
}
