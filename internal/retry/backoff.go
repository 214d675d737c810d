package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff defines the interface for backoff strategies.
type Backoff interface {
	// Next returns the duration to wait before the next retry attempt.
	Next(attempt int) time.Duration

	// Reset resets the backoff state.
	Reset()
}

// ExponentialBackoff implements exponential backoff with optional jitter.
type ExponentialBackoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	jitter  float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewExponentialBackoff creates a new exponential backoff.
func NewExponentialBackoff(initial, max time.Duration, factor, jitter float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		initial: initial,
		max:     max,
		factor:  factor,
		jitter:  jitter,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}
}

// Next implements Backoff.
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoff := float64(b.initial) * math.Pow(b.factor, float64(attempt))

	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	if b.jitter > 0 {
		b.mu.Lock()
		jitterRange := backoff * b.jitter
		backoff += (b.rand.Float64() * 2 * jitterRange) - jitterRange
		b.mu.Unlock()
	}

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// Reset implements Backoff.
func (b *ExponentialBackoff) Reset() {
	// stateless
}

// DecorrelatedJitterBackoff implements AWS-style decorrelated jitter backoff.
// Recommended for reconnecting to shared infrastructure, where many gateway
// instances may retry at the same time.
type DecorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration

	mu      sync.Mutex
	rand    *rand.Rand
	current time.Duration
}

// NewDecorrelatedJitterBackoff creates a new decorrelated jitter backoff.
func NewDecorrelatedJitterBackoff(initial, max time.Duration) *DecorrelatedJitterBackoff {
	return &DecorrelatedJitterBackoff{
		initial: initial,
		max:     max,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
		current: initial,
	}
}

// Next implements Backoff.
// sleep = min(cap, random_between(base, sleep * 3))
func (b *DecorrelatedJitterBackoff) Next(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	minBackoff := float64(b.initial)
	maxBackoff := float64(b.current) * 3

	backoff := minBackoff + b.rand.Float64()*(maxBackoff-minBackoff)

	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	b.current = time.Duration(backoff)
	return b.current
}

// Reset implements Backoff.
func (b *DecorrelatedJitterBackoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
}

// ConstantBackoff implements constant backoff. Used by the scheduled cache
// warmer between failed refresh rounds.
type ConstantBackoff struct {
	interval time.Duration
}

// NewConstantBackoff creates a new constant backoff.
func NewConstantBackoff(interval time.Duration) *ConstantBackoff {
	return &ConstantBackoff{interval: interval}
}

// Next implements Backoff.
func (b *ConstantBackoff) Next(attempt int) time.Duration {
	return b.interval
}

// Reset implements Backoff.
func (b *ConstantBackoff) Reset() {
	// stateless
}
