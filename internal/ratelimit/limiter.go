// Package ratelimit throttles requests per caller.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrLimited is returned when a caller exceeds its request budget.
var ErrLimited = errors.New("ratelimit: rate limit exceeded")

// Store holds the per-key limiter state.
// MemoryStore serves single-instance deployments.
type Store interface {
	// Reserve consumes one token for key and reports whether the request may proceed,
	// with the tokens left afterwards.
	Reserve(ctx context.Context, key string, limit rate.Limit, burst int) (allowed bool, remaining float64, err error)

	// Reset forgets the state for key.
	Reset(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// Limiter applies one token-bucket budget per caller key.
type Limiter struct {
	store Store
	limit rate.Limit
	burst int
}

// Config holds configuration for the rate limiter.
type Config struct {
	// Store defaults to a MemoryStore.
	Store Store

	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 5, Burst: 20}
}

// NewLimiter creates a limiter. A non-positive rate disables limiting.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		store: store,
		limit: rate.Limit(cfg.RequestsPerSecond),
		burst: cfg.Burst,
	}
}

// Enabled reports whether the limiter rejects anything.
func (l *Limiter) Enabled() bool { return l != nil && l.limit > 0 }

// Allow consumes one token for key. It returns ErrLimited when the budget is spent.
func (l *Limiter) Allow(ctx context.Context, key string) (float64, error) {
	if !l.Enabled() || key == "" {
		return float64(l.burstOrZero()), nil
	}
	allowed, remaining, err := l.store.Reserve(ctx, key, l.limit, l.burst)
	if err != nil {
		// fail open
		return float64(l.burst), nil
	}
	if !allowed {
		return remaining, ErrLimited
	}
	return remaining, nil
}

// Burst returns the bucket capacity.
func (l *Limiter) Burst() int { return l.burstOrZero() }

func (l *Limiter) burstOrZero() int {
	if l == nil {
		return 0
	}
	return l.burst
}

// RetryAfter estimates how long until one token is available again.
func (l *Limiter) RetryAfter(remaining float64) time.Duration {
	if !l.Enabled() || remaining >= 1 {
		return 0
	}
	return time.Duration((1 - remaining) / float64(l.limit) * float64(time.Second))
}

// Reset clears the budget for key.
func (l *Limiter) Reset(key string) error {
	return l.store.Reset(context.Background(), key)
}

// Close stops the limiter and releases resources.
func (l *Limiter) Close() error {
	return l.store.Close()
}
