package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgegate/edgegate/internal/circuitbreaker"
	"github.com/edgegate/edgegate/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	_ Limiter   = (*RedisRateLimiter)(nil)
	_ io.Closer = (*RedisRateLimiter)(nil)
)

// ErrStoreUnavailable indicates the shared counter store is not reachable
// and no fallback limiter is configured.
var ErrStoreUnavailable = errors.New("counter store is unavailable")

// RedisRateLimiterConfig holds configuration for the Redis rate limiter.
type RedisRateLimiterConfig struct {
	// Algorithm is the rate limiting algorithm to use.
	Algorithm Algorithm

	// Requests is the maximum number of requests allowed in the window.
	Requests int

	// Window is the time window for the rate limit.
	Window time.Duration

	// Burst is the maximum burst size (token bucket and leaky bucket).
	Burst int

	// RedisConfig configures the shared counter store connection.
	RedisConfig *store.RedisConfig

	// CircuitBreakerConfig configures the breaker guarding store access.
	CircuitBreakerConfig *circuitbreaker.Config

	// FallbackEnabled enables a local in-memory limiter when the store is
	// unavailable. With the fallback disabled, store failures surface as
	// errors and callers decide the degradation policy.
	FallbackEnabled bool

	// HealthCheckInterval is the interval for store health checks.
	HealthCheckInterval time.Duration

	// Logger for the rate limiter.
	Logger *zap.Logger
}

// DefaultRedisRateLimiterConfig returns a config with default values.
func DefaultRedisRateLimiterConfig() *RedisRateLimiterConfig {
	return &RedisRateLimiterConfig{
		Algorithm:            AlgorithmFixedWindow,
		Requests:             100,
		Window:               time.Minute,
		Burst:                0,
		RedisConfig:          store.DefaultRedisConfig(),
		CircuitBreakerConfig: circuitbreaker.DefaultConfig(),
		FallbackEnabled:      true,
		HealthCheckInterval:  5 * time.Second,
	}
}

// EffectiveBurst returns the burst size, defaulting to Requests.
func (c *RedisRateLimiterConfig) EffectiveBurst() int {
	if c.Burst > 0 {
		return c.Burst
	}
	return c.Requests
}

// Prometheus metrics for distributed rate limit operations.
var (
	rateLimitOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_operations_total",
			Help: "Total number of distributed rate limit operations",
		},
		[]string{"operation", "status"},
	)

	rateLimitOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratelimit_operation_duration_seconds",
			Help:    "Duration of distributed rate limit operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation", "algorithm"},
	)

	rateLimitFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_fallback_total",
			Help: "Total number of times the local fallback limiter was used",
		},
	)

	rateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total number of rate limit decisions by outcome",
		},
		[]string{"algorithm", "allowed"},
	)

	rateLimitStoreHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_store_healthy",
			Help: "Whether the counter store is healthy (1) or not (0)",
		},
	)
)

// RedisRateLimiter implements distributed rate limiting over the shared
// counter store using atomic Lua scripts, so the check and the increment
// can never be separated by another gateway instance. Store access runs
// under a circuit breaker with an optional local fallback limiter.
type RedisRateLimiter struct {
	config          *RedisRateLimiterConfig
	redisStore      *store.RedisStore
	ownsStore       bool
	circuitBreaker  *circuitbreaker.CircuitBreaker
	fallbackLimiter Limiter
	logger          *zap.Logger

	healthy         atomic.Bool
	stopHealthCheck chan struct{}
	healthCheckOnce sync.Once
}

// NewRedisRateLimiter creates a new distributed rate limiter.
func NewRedisRateLimiter(config *RedisRateLimiterConfig) (*RedisRateLimiter, error) {
	if config == nil {
		config = DefaultRedisRateLimiterConfig()
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if config.RedisConfig == nil {
		config.RedisConfig = store.DefaultRedisConfig()
	}

	redisStore, err := store.NewRedisStoreWithConfig(config.RedisConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter store: %w", err)
	}

	limiter, err := NewRedisRateLimiterWithStore(config, redisStore)
	if err != nil {
		_ = redisStore.Close()
		return nil, err
	}
	limiter.ownsStore = true
	return limiter, nil
}

// NewRedisRateLimiterWithStore creates a distributed rate limiter on an
// existing counter store, allowing multiple limiters to share a connection.
func NewRedisRateLimiterWithStore(config *RedisRateLimiterConfig, redisStore *store.RedisStore) (*RedisRateLimiter, error) {
	if config == nil {
		config = DefaultRedisRateLimiterConfig()
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if config.RedisConfig == nil {
		config.RedisConfig = store.DefaultRedisConfig()
	}

	if redisStore == nil {
		return nil, errors.New("counter store is required")
	}

	cbConfig := config.CircuitBreakerConfig
	if cbConfig == nil {
		cbConfig = circuitbreaker.DefaultConfig()
	}
	if cbConfig.IsSuccessful == nil {
		breakerCfg := *cbConfig
		breakerCfg.IsSuccessful = storeCallHealthy
		cbConfig = &breakerCfg
	}
	cb := circuitbreaker.NewCircuitBreaker("ratelimit-store", cbConfig, config.Logger)

	limiter := &RedisRateLimiter{
		config:          config,
		redisStore:      redisStore,
		circuitBreaker:  cb,
		logger:          config.Logger,
		stopHealthCheck: make(chan struct{}),
	}

	limiter.healthy.Store(true)
	rateLimitStoreHealthy.Set(1)

	if config.FallbackEnabled {
		limiter.fallbackLimiter = limiter.createFallbackLimiter()
	}

	if config.HealthCheckInterval > 0 {
		go limiter.startHealthCheck()
	}

	config.Logger.Info("distributed rate limiter created",
		zap.String("algorithm", string(config.Algorithm)),
		zap.Int("requests", config.Requests),
		zap.Duration("window", config.Window),
		zap.Int("burst", config.EffectiveBurst()),
		zap.Bool("fallback_enabled", config.FallbackEnabled),
	)

	return limiter, nil
}

// createFallbackLimiter creates a local in-memory fallback limiter matching
// the configured algorithm.
func (r *RedisRateLimiter) createFallbackLimiter() Limiter {
	switch r.config.Algorithm {
	case AlgorithmTokenBucket:
		rate := float64(r.config.Requests) / r.config.Window.Seconds()
		return NewTokenBucketLimiter(nil, rate, r.config.EffectiveBurst(), r.logger)
	case AlgorithmLeakyBucket:
		leakRate := float64(r.config.Requests) / r.config.Window.Seconds()
		return NewLeakyBucketLimiter(nil, leakRate, r.config.EffectiveBurst(), r.logger)
	case AlgorithmSlidingWindow:
		return NewSlidingWindowLimiter(nil, r.config.Requests, r.config.Window, r.logger)
	case AlgorithmFixedWindow:
		return NewFixedWindowLimiter(nil, r.config.Requests, r.config.Window, r.logger)
	default:
		return NewFixedWindowLimiter(nil, r.config.Requests, r.config.Window, r.logger)
	}
}

// startHealthCheck runs periodic health checks on the store connection.
func (r *RedisRateLimiter) startHealthCheck() {
	ticker := time.NewTicker(r.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.checkHealth()
		case <-r.stopHealthCheck:
			return
		}
	}
}

// checkHealth pings the counter store and records the transition.
func (r *RedisRateLimiter) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := r.redisStore.Client().Ping(ctx).Err()
	wasHealthy := r.healthy.Load()

	if err != nil {
		r.healthy.Store(false)
		rateLimitStoreHealthy.Set(0)

		if wasHealthy {
			r.logger.Warn("counter store health check failed", zap.Error(err))
		}
	} else {
		r.healthy.Store(true)
		rateLimitStoreHealthy.Set(1)

		if !wasHealthy {
			r.logger.Info("counter store recovered")
		}
	}
}

// IsHealthy returns whether the store connection is healthy.
func (r *RedisRateLimiter) IsHealthy() bool {
	return r.healthy.Load()
}

// Allow implements Limiter.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (r *RedisRateLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	start := time.Now()

	var result *Result
	var err error

	cbErr := r.circuitBreaker.Execute(ctx, func() error {
		result, err = r.allowStore(ctx, key, n)
		return err
	})

	duration := time.Since(start)

	if cbErr != nil || err != nil {
		actualErr := cbErr
		if actualErr == nil {
			actualErr = err
		}

		rateLimitOperationsTotal.WithLabelValues("allow", "error").Inc()
		rateLimitOperationDuration.WithLabelValues("allow", string(r.config.Algorithm)).Observe(duration.Seconds())

		if r.config.FallbackEnabled && r.fallbackLimiter != nil {
			r.logger.Debug("using local fallback limiter",
				zap.String("key", key),
				zap.Error(actualErr),
			)
			rateLimitFallbackTotal.Inc()
			return r.fallbackLimiter.AllowN(ctx, key, n)
		}

		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, actualErr)
	}

	rateLimitOperationsTotal.WithLabelValues("allow", "success").Inc()
	rateLimitOperationDuration.WithLabelValues("allow", string(r.config.Algorithm)).Observe(duration.Seconds())

	allowedLabel := "false"
	if result.Allowed {
		allowedLabel = "true"
	}
	rateLimitDecisionsTotal.WithLabelValues(string(r.config.Algorithm), allowedLabel).Inc()

	return result, nil
}

// allowStore runs the per-algorithm Lua script against the counter store.
func (r *RedisRateLimiter) allowStore(ctx context.Context, key string, n int) (*Result, error) {
	switch r.config.Algorithm {
	case AlgorithmTokenBucket:
		return r.tokenBucketAllow(ctx, key, n)
	case AlgorithmLeakyBucket:
		return r.leakyBucketAllow(ctx, key, n)
	case AlgorithmSlidingWindow:
		return r.slidingWindowAllow(ctx, key, n)
	case AlgorithmFixedWindow:
		return r.fixedWindowAllow(ctx, key, n)
	default:
		return r.fixedWindowAllow(ctx, key, n)
	}
}

// fixedWindowAllow performs fixed window rate limiting on the store.
func (r *RedisRateLimiter) fixedWindowAllow(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now().UnixMilli()
	windowMs := r.config.Window.Milliseconds()

	result, err := store.FixedWindowScript.Run(ctx, r.redisStore.Client(),
		[]string{r.prefixKey(key)},
		r.config.Requests,
		windowMs,
		now,
		n,
	).Result()

	if err != nil {
		return nil, fmt.Errorf("fixed window script error: %w", err)
	}

	return r.parseScriptResult(result, r.config.Requests)
}

// slidingWindowAllow performs weighted two-window rate limiting on the store.
func (r *RedisRateLimiter) slidingWindowAllow(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now().UnixMilli()
	windowMs := r.config.Window.Milliseconds()

	result, err := store.SlidingWindowScript.Run(ctx, r.redisStore.Client(),
		[]string{r.prefixKey(key)},
		r.config.Requests,
		windowMs,
		now,
		n,
	).Result()

	if err != nil {
		return nil, fmt.Errorf("sliding window script error: %w", err)
	}

	return r.parseScriptResult(result, r.config.Requests)
}

// tokenBucketAllow performs token bucket rate limiting on the store.
func (r *RedisRateLimiter) tokenBucketAllow(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now().UnixMilli()
	rate := float64(r.config.Requests) / r.config.Window.Seconds()

	result, err := store.TokenBucketScript.Run(ctx, r.redisStore.Client(),
		[]string{r.prefixKey(key)},
		rate,
		r.config.EffectiveBurst(),
		now,
		n,
	).Result()

	if err != nil {
		return nil, fmt.Errorf("token bucket script error: %w", err)
	}

	return r.parseScriptResult(result, r.config.EffectiveBurst())
}

// leakyBucketAllow performs leaky bucket rate limiting on the store.
func (r *RedisRateLimiter) leakyBucketAllow(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now().UnixMilli()
	leakRate := float64(r.config.Requests) / r.config.Window.Seconds()

	result, err := store.LeakyBucketScript.Run(ctx, r.redisStore.Client(),
		[]string{r.prefixKey(key)},
		r.config.EffectiveBurst(),
		leakRate,
		now,
		n,
	).Result()

	if err != nil {
		return nil, fmt.Errorf("leaky bucket script error: %w", err)
	}

	return r.parseScriptResult(result, r.config.EffectiveBurst())
}

// parseScriptResult parses the result from the Lua scripts.
// All scripts return: [allowed (0 or 1), remaining, reset_ms]
func (r *RedisRateLimiter) parseScriptResult(result interface{}, limit int) (*Result, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) < 3 {
		return nil, fmt.Errorf("unexpected script result format: %v", result)
	}

	allowed := false
	if v, ok := values[0].(int64); ok && v == 1 {
		allowed = true
	}

	remaining := 0
	if v, ok := values[1].(int64); ok {
		remaining = int(v)
		if remaining < 0 {
			remaining = 0
		}
	}

	resetMs := int64(0)
	if v, ok := values[2].(int64); ok {
		resetMs = v
	}

	resetAfter := time.Duration(resetMs) * time.Millisecond
	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// storeCallHealthy classifies store errors for the circuit breaker. A
// canceled or expired caller context says nothing about store health and
// must not push the breaker toward open.
func storeCallHealthy(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// prefixKey adds the store's namespace prefix to the key, matching the
// keys the store methods themselves would write.
func (r *RedisRateLimiter) prefixKey(key string) string {
	return r.redisStore.Prefix() + key
}

// GetLimit implements Limiter.
func (r *RedisRateLimiter) GetLimit(key string) *Limit {
	return &Limit{
		Requests: r.config.Requests,
		Window:   r.config.Window,
		Burst:    r.config.EffectiveBurst(),
	}
}

// resetKeys lists the store keys holding state for the given identifier.
// The window algorithms count under per-window subkeys, so both the
// current and previous window counters must go; the bucket algorithms
// keep all state under the base key.
func (r *RedisRateLimiter) resetKeys(key string) []string {
	switch r.config.Algorithm {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow:
		windowMs := r.config.Window.Milliseconds()
		currStart := time.Now().UnixMilli() / windowMs * windowMs
		prevStart := currStart - windowMs
		return []string{
			fmt.Sprintf("%s:%d", key, currStart),
			fmt.Sprintf("%s:%d", key, prevStart),
		}
	default:
		return []string{key}
	}
}

// Reset implements Limiter.
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	start := time.Now()

	err := r.circuitBreaker.Execute(ctx, func() error {
		// The store applies the namespace prefix itself
		for _, stateKey := range r.resetKeys(key) {
			if err := r.redisStore.Delete(ctx, stateKey); err != nil {
				return err
			}
		}
		return nil
	})

	duration := time.Since(start)

	if r.fallbackLimiter != nil {
		_ = r.fallbackLimiter.Reset(ctx, key)
	}

	if err != nil {
		rateLimitOperationsTotal.WithLabelValues("reset", "error").Inc()
		rateLimitOperationDuration.WithLabelValues("reset", string(r.config.Algorithm)).Observe(duration.Seconds())
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}

	rateLimitOperationsTotal.WithLabelValues("reset", "success").Inc()
	rateLimitOperationDuration.WithLabelValues("reset", string(r.config.Algorithm)).Observe(duration.Seconds())

	return nil
}

// Close implements io.Closer.
func (r *RedisRateLimiter) Close() error {
	r.healthCheckOnce.Do(func() {
		close(r.stopHealthCheck)
	})

	if closer, ok := r.fallbackLimiter.(io.Closer); ok {
		_ = closer.Close()
	}

	// A store handed in from outside is shared with other limiters and
	// stays open.
	if r.ownsStore && r.redisStore != nil {
		return r.redisStore.Close()
	}

	return nil
}

// CircuitBreakerState returns the current circuit breaker state.
func (r *RedisRateLimiter) CircuitBreakerState() circuitbreaker.State {
	return r.circuitBreaker.State()
}

// CircuitBreakerStats returns the circuit breaker statistics.
func (r *RedisRateLimiter) CircuitBreakerStats() circuitbreaker.Stats {
	return r.circuitBreaker.Stats()
}

// ResetCircuitBreaker resets the circuit breaker to closed state.
func (r *RedisRateLimiter) ResetCircuitBreaker() {
	r.circuitBreaker.Reset()
}
