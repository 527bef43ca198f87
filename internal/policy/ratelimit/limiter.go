// Package ratelimit caps the total outbound request rate of one crawler,
// independent of the per-domain politeness delay.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained request rate. Zero or less disables limiting.
	RPS   float64
	Burst int
}

// Limiter is a token bucket shared by every worker of a crawl.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(r, burst)}
}

// Wait blocks until a token is available or ctx ends. It returns how long
// the caller was held back.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	return time.Since(start), nil
}
