// Package ratelimit wraps golang.org/x/time/rate for the HTTP surface's
// single shared token bucket, grounded on the teacher's internal/daemon's
// rate_limiter.go wrapping of the same library.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config mirrors the teacher's RateLimitConfig shape, narrowed to what the
// HTTP surface needs: a single global token bucket per daemon rather than
// per-peer (this spec has no peer/agent identity concept).
type Config struct {
	RequestsPerSecond float64
	Burst             int
	Enabled           bool
}

// DefaultConfig returns sane defaults for a single local daemon.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 50, Burst: 100, Enabled: true}
}

// Limiter is a single shared token bucket. The HTTP surface calls Allow
// once per request; when it returns false the route handler writes 429
// {code:"RATE_LIMITED"}.
type Limiter struct {
	mu  sync.Mutex
	lim *rate.Limiter
	cfg Config
}

// New constructs a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		lim: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg: cfg,
	}
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	if !l.cfg.Enabled {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lim.Allow()
}

// Reset replaces the underlying bucket, used by tests that want a clean
// rate limit window without waiting out the refill interval.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lim = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
}

// WaitDuration is a convenience for tests wanting to assert refill timing.
func WaitDuration(n int, rps float64) time.Duration {
	return time.Duration(float64(n) / rps * float64(time.Second))
}
