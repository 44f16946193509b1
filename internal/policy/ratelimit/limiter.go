// Package ratelimit implements the token bucket throttle that paces every
// request a crawl pass sends to a portal.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-host token buckets. A pass usually talks to a
// single portal host, but some platforms fan out to a secondary API
// domain; each host gets its own bucket at the portal's configured rate.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rateLim  rate.Limit
	burst    int
}

// Config holds the portal's requests-per-second ceiling. RPS <= 0 means
// unlimited.
type Config struct {
	RPS   float64
	Burst int
}

// New creates a Limiter for one portal's pass.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rateLim:  r,
		burst:    burst,
	}
}

// Wait blocks until a token is available for the host of rawURL,
// respecting the context. The wait is a non-busy suspension point.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.rateLim, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
