// Package ratelimit provides distributed rate limiting over a shared counter
// store. It supports fixed window, sliding window, token bucket, and leaky
// bucket algorithms.
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow checks if a single request is allowed for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// AllowN checks if n requests are allowed for the given key.
	AllowN(ctx context.Context, key string, n int) (*Result, error)

	// GetLimit returns the limit configuration for the given key.
	GetLimit(key string) *Limit

	// Reset resets the rate limit state for the given key.
	Reset(ctx context.Context, key string) error
}

// Limit represents rate limit configuration.
type Limit struct {
	// Requests is the maximum number of requests allowed in the window.
	Requests int

	// Window is the time window for the rate limit.
	Window time.Duration

	// Burst is the maximum burst size (token bucket and leaky bucket).
	Burst int
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAfter is the duration until the rate limit resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration
}

// Algorithm represents the rate limiting algorithm type.
type Algorithm string

const (
	// AlgorithmFixedWindow uses the fixed window algorithm.
	AlgorithmFixedWindow Algorithm = "fixed_window"

	// AlgorithmSlidingWindow uses the weighted two-window sliding algorithm.
	AlgorithmSlidingWindow Algorithm = "sliding_window"

	// AlgorithmTokenBucket uses the token bucket algorithm.
	AlgorithmTokenBucket Algorithm = "token_bucket"

	// AlgorithmLeakyBucket uses the leaky bucket algorithm.
	AlgorithmLeakyBucket Algorithm = "leaky_bucket"
)

// Valid returns true if the algorithm is one of the supported types.
func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow, AlgorithmTokenBucket, AlgorithmLeakyBucket:
		return true
	default:
		return false
	}
}

// Config holds configuration for creating a rate limiter.
type Config struct {
	// Algorithm is the rate limiting algorithm to use.
	Algorithm Algorithm

	// Requests is the maximum number of requests allowed in the window.
	Requests int

	// Window is the time window for the rate limit.
	Window time.Duration

	// Burst is the maximum burst size (token bucket and leaky bucket).
	// Defaults to Requests when zero.
	Burst int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: AlgorithmFixedWindow,
		Requests:  100,
		Window:    time.Minute,
		Burst:     0,
	}
}

// EffectiveBurst returns the burst size, defaulting to Requests.
func (c *Config) EffectiveBurst() int {
	if c.Burst > 0 {
		return c.Burst
	}
	return c.Requests
}

// NoopLimiter is a rate limiter that always allows requests.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return &Result{
		Allowed:    true,
		Limit:      0,
		Remaining:  0,
		ResetAfter: 0,
		RetryAfter: 0,
	}, nil
}

// AllowN implements Limiter.
func (l *NoopLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	return l.Allow(ctx, key)
}

// GetLimit implements Limiter.
func (l *NoopLimiter) GetLimit(key string) *Limit {
	return nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(ctx context.Context, key string) error {
	return nil
}
