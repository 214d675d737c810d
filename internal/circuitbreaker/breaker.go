package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is testing if the backend is healthy.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when too many requests are made in half-open state.
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	name   string
	config *Config
	logger *zap.Logger

	mu    sync.RWMutex
	state State

	failures         int
	successes        int
	consecutiveFails int
	totalRequests    int
	halfOpenRequests int

	lastFailure     time.Time
	lastStateChange time.Time
	samplingStart   time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()

	if logger == nil {
		logger = zap.NewNop()
	}

	now := time.Now()
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: now,
		samplingStart:   now,
	}
}

// Execute runs the given function with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	err := fn()

	if cb.isSuccessful(err) {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}

	return err
}

// ExecuteWithFallback runs the function, invoking fallback when the circuit
// rejects the call.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func() error, fallback func(error) error) error {
	err := cb.Execute(ctx, fn)
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
		return fallback(err)
	}
	return err
}

// Allow checks if a request is allowed through the circuit breaker.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	var allowed bool

	switch cb.state {
	case StateClosed:
		allowed = true

	case StateOpen:
		if now.Sub(cb.lastStateChange) >= cb.config.Timeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenRequests = 1
			allowed = true
		} else {
			allowed = false
		}

	case StateHalfOpen:
		if cb.halfOpenRequests < cb.config.HalfOpenMax {
			cb.halfOpenRequests++
			allowed = true
		} else {
			allowed = false
		}

	default:
		allowed = false
	}

	recordRequest(cb.name, allowed)

	return allowed
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.consecutiveFails = 0
	cb.totalRequests++

	recordSuccess(cb.name)

	switch cb.state {
	case StateHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}

	case StateClosed:
		if time.Since(cb.samplingStart) >= cb.config.SamplingDuration {
			cb.resetCounters()
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.consecutiveFails++
	cb.totalRequests++
	cb.lastFailure = time.Now()

	recordFailure(cb.name)

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// Any failure in half-open state opens the circuit
		cb.transitionTo(StateOpen)
	}
}

// shouldOpen determines if the circuit should open.
func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.consecutiveFails >= cb.config.MaxFailures {
		return true
	}

	if cb.config.FailureRatio > 0 && cb.totalRequests >= cb.config.MinRequests {
		ratio := float64(cb.failures) / float64(cb.totalRequests)
		if ratio >= cb.config.FailureRatio {
			return true
		}
	}

	return false
}

// transitionTo moves the circuit breaker to a new state.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	cb.resetCounters()

	recordStateChange(cb.name, newState)

	cb.logger.Info("circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// resetCounters resets the failure and success counters.
func (cb *CircuitBreaker) resetCounters() {
	cb.failures = 0
	cb.successes = 0
	cb.consecutiveFails = 0
	cb.totalRequests = 0
	cb.halfOpenRequests = 0
	cb.samplingStart = time.Now()
}

// isSuccessful determines if the error should be counted as a success.
func (cb *CircuitBreaker) isSuccessful(err error) bool {
	if cb.config.IsSuccessful != nil {
		return cb.config.IsSuccessful(err)
	}
	return err == nil
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.resetCounters()
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker reset",
		zap.String("name", cb.name),
	)
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:            cb.state,
		Failures:         cb.failures,
		Successes:        cb.successes,
		ConsecutiveFails: cb.consecutiveFails,
		TotalRequests:    cb.totalRequests,
		LastFailure:      cb.lastFailure,
		LastStateChange:  cb.lastStateChange,
	}
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State            State
	Failures         int
	Successes        int
	ConsecutiveFails int
	TotalRequests    int
	LastFailure      time.Time
	LastStateChange  time.Time
}

// FailureRatio returns the current failure ratio.
func (s Stats) FailureRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.TotalRequests)
}
