// Package circuitbreaker guards the shared counter store and cache backend
// against cascading failures when the remote store degrades.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int

	// Timeout is the duration the circuit stays open before transitioning to half-open.
	Timeout time.Duration

	// HalfOpenMax is the maximum number of requests allowed in half-open state.
	HalfOpenMax int

	// SuccessThreshold is the number of successes needed to close the circuit
	// from half-open state.
	SuccessThreshold int

	// IsSuccessful determines if an error counts as a success.
	// If nil, all non-nil errors are counted as failures.
	IsSuccessful func(err error) bool

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from, to State)

	// FailureRatio is an alternative ratio-based trigger (0.0 to 1.0).
	// If set, the circuit opens when the failure ratio exceeds this threshold.
	FailureRatio float64

	// MinRequests is the minimum number of requests before the failure ratio
	// is evaluated.
	MinRequests int

	// SamplingDuration is the window over which failures are counted.
	SamplingDuration time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMax:      3,
		SuccessThreshold: 2,
		FailureRatio:     0,
		MinRequests:      10,
		SamplingDuration: time.Minute,
	}
}

// Validate normalizes out-of-range values to their defaults.
func (c *Config) Validate() error {
	if c.MaxFailures < 1 {
		c.MaxFailures = 5
	}
	if c.Timeout < time.Millisecond {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenMax < 1 {
		c.HalfOpenMax = 3
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 2
	}
	if c.FailureRatio < 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0
	}
	if c.MinRequests < 1 {
		c.MinRequests = 10
	}
	if c.SamplingDuration < time.Second {
		c.SamplingDuration = time.Minute
	}
	return nil
}

// WithMaxFailures sets the maximum failures.
func (c *Config) WithMaxFailures(n int) *Config {
	c.MaxFailures = n
	return c
}

// WithTimeout sets the timeout duration.
func (c *Config) WithTimeout(d time.Duration) *Config {
	c.Timeout = d
	return c
}

// WithSuccessThreshold sets the success threshold.
func (c *Config) WithSuccessThreshold(n int) *Config {
	c.SuccessThreshold = n
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}
