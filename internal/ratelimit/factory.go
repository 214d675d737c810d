package ratelimit

import (
	"fmt"

	"github.com/edgegate/edgegate/internal/store"
	"go.uber.org/zap"
)

// ValidateConfig checks a limiter configuration. Invalid configuration is a
// startup error, never a silent fallback.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("rate limit config is required")
	}
	if !cfg.Algorithm.Valid() {
		return fmt.Errorf("unknown rate limit algorithm: %q", cfg.Algorithm)
	}
	if cfg.Requests <= 0 {
		return fmt.Errorf("rate limit requests must be positive, got %d", cfg.Requests)
	}
	if cfg.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", cfg.Window)
	}
	if cfg.Burst < 0 {
		return fmt.Errorf("rate limit burst must not be negative, got %d", cfg.Burst)
	}
	return nil
}

// New creates a limiter for the given configuration backed by the given
// store. A nil store gives a purely local limiter; a Redis-backed store
// gets the script-backed limiter so the check and increment stay atomic
// across gateway instances. The algorithm is fixed at construction time;
// switching algorithms means building a new limiter.
func New(cfg *Config, s store.Store, logger *zap.Logger) (Limiter, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	if rs, ok := s.(*store.RedisStore); ok {
		// No local fallback here: callers handle store failures with
		// their own degradation policy.
		return NewDistributed(cfg, rs, false, logger)
	}

	switch cfg.Algorithm {
	case AlgorithmFixedWindow:
		return NewFixedWindowLimiter(s, cfg.Requests, cfg.Window, logger), nil
	case AlgorithmSlidingWindow:
		return NewSlidingWindowLimiter(s, cfg.Requests, cfg.Window, logger), nil
	case AlgorithmTokenBucket:
		rate := float64(cfg.Requests) / cfg.Window.Seconds()
		return NewTokenBucketLimiter(s, rate, cfg.EffectiveBurst(), logger), nil
	case AlgorithmLeakyBucket:
		leakRate := float64(cfg.Requests) / cfg.Window.Seconds()
		return NewLeakyBucketLimiter(s, leakRate, cfg.EffectiveBurst(), logger), nil
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm: %q", cfg.Algorithm)
	}
}

// NewDistributed creates a RedisRateLimiter from a limiter Config and an
// existing counter store connection.
func NewDistributed(
	cfg *Config,
	redisStore *store.RedisStore,
	fallbackEnabled bool,
	logger *zap.Logger,
) (*RedisRateLimiter, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	rlConfig := DefaultRedisRateLimiterConfig()
	rlConfig.Algorithm = cfg.Algorithm
	rlConfig.Requests = cfg.Requests
	rlConfig.Window = cfg.Window
	rlConfig.Burst = cfg.Burst
	rlConfig.FallbackEnabled = fallbackEnabled
	rlConfig.Logger = logger

	return NewRedisRateLimiterWithStore(rlConfig, redisStore)
}

// ScaledConfig returns a copy of cfg with its limit scaled for the role.
// Role resolution happens before the limiter is consulted, so algorithms
// never see roles.
func ScaledConfig(cfg *Config, roles *RoleTable, role string) *Config {
	if roles == nil {
		return cfg
	}

	scaled := *cfg
	scaled.Requests = roles.ScaleLimit(cfg.Requests, role)
	if scaled.Burst > 0 {
		scaled.Burst = roles.ScaleLimit(cfg.Burst, role)
	}
	return &scaled
}
