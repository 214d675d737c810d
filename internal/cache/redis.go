package cache

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/observability"
	"github.com/edgegate/edgegate/internal/retry"
)

// redisRetryConfig returns the retry configuration for Redis operations.
func redisRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// isRetryableRedisError checks if the error is retryable (network/connection errors).
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	// Don't retry on cache miss or context errors
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// redisCache implements a Redis-based cache.
type redisCache struct {
	logger     observability.Logger
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	ttlJitter  float64
	hashKeys   bool

	hits   int64
	misses int64
}

// applyTTLJitter adds random jitter to a TTL value to prevent thundering herd.
// The jitterFactor controls the maximum percentage of variation (0.0 to 1.0).
// For example, a jitterFactor of 0.1 means the TTL will vary by ±10%.
func applyTTLJitter(ttl time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || ttl <= 0 {
		return ttl
	}
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	//nolint:gosec // G404: TTL jitter does not require cryptographic randomness
	jitter := time.Duration(float64(ttl) * jitterFactor * (2*rand.Float64() - 1))
	result := ttl + jitter
	if result <= 0 {
		return ttl
	}
	return result
}

// resolveKey applies key prefix and optional SHA256 hashing.
func (c *redisCache) resolveKey(key string) string {
	if c.hashKeys {
		return c.keyPrefix + HashKey(key)
	}
	return c.keyPrefix + key
}

// newRedisCache creates a new Redis cache from the URL in the configuration.
func newRedisCache(cfg *config.CacheConfig, logger observability.Logger) (*redisCache, error) {
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, errors.New("invalid redis URL: " + err.Error())
	}

	applyRedisPoolOptions(opts, cfg.Redis)

	client := redis.NewClient(opts)

	if err := pingRedis(client); err != nil {
		_ = client.Close()
		return nil, errors.New("redis connection failed: " + err.Error())
	}

	keyPrefix := resolveKeyPrefix(cfg.Redis.KeyPrefix)

	c := &redisCache{
		logger:     logger,
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: cfg.TTL.Duration(),
		ttlJitter:  cfg.Redis.TTLJitter,
		hashKeys:   cfg.Redis.HashKeys,
	}

	logger.Info("redis cache initialized",
		observability.String("keyPrefix", keyPrefix),
		observability.Duration("defaultTTL", c.defaultTTL),
		observability.Float64("ttlJitter", c.ttlJitter),
		observability.Bool("hashKeys", c.hashKeys))

	return c, nil
}

// applyRedisPoolOptions applies pool and timeout configuration overrides to Redis options.
func applyRedisPoolOptions(opts *redis.Options, redisCfg *config.RedisCacheConfig) {
	if redisCfg.PoolSize > 0 {
		opts.PoolSize = redisCfg.PoolSize
	}
	if redisCfg.ConnectTimeout > 0 {
		opts.DialTimeout = redisCfg.ConnectTimeout.Duration()
	}
	if redisCfg.ReadTimeout > 0 {
		opts.ReadTimeout = redisCfg.ReadTimeout.Duration()
	}
	if redisCfg.WriteTimeout > 0 {
		opts.WriteTimeout = redisCfg.WriteTimeout.Duration()
	}
}

// pingRedis tests the Redis connection with a timeout.
func pingRedis(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// resolveKeyPrefix returns the key prefix, defaulting to "edgegate:" if empty.
func resolveKeyPrefix(prefix string) string {
	if prefix == "" {
		return "edgegate:"
	}
	return prefix
}

// Get retrieves a value from the cache with exponential backoff retry.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "get",
		).Observe(time.Since(start).Seconds())
	}()

	fullKey := c.resolveKey(key)

	var result []byte

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		val, getErr := c.client.Get(ctx, fullKey).Bytes()
		if getErr == nil {
			result = val
			return nil
		}
		return getErr
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis get",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		atomic.AddInt64(&c.hits, 1)
		GetCacheMetrics().hitsTotal.WithLabelValues("redis").Inc()
		span.SetAttributes(
			attribute.Bool("cache.hit", true),
			attribute.Int("cache.value_size", len(result)),
		)
		c.logger.Debug("cache hit",
			observability.String("key", key),
			observability.Int("size", len(result)))
		return result, nil
	}

	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues("redis").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	GetCacheMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error("redis get failed",
		observability.String("key", key),
		observability.Error(err))
	return nil, err
}

// Set stores a value in the cache with exponential backoff retry.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "set",
		).Observe(time.Since(start).Seconds())
	}()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	// Jitter spreads expirations to avoid a thundering herd
	ttl = applyTTLJitter(ttl, c.ttlJitter)

	fullKey := c.resolveKey(key)

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		return c.client.Set(ctx, fullKey, value, ttl).Err()
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis set",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		c.logger.Debug("cache set",
			observability.String("key", key),
			observability.Duration("ttl", ttl),
			observability.Int("size", len(value)))
		return nil
	}

	GetCacheMetrics().errorsTotal.WithLabelValues("redis", "set").Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error("redis set failed",
		observability.String("key", key),
		observability.Error(err))
	return err
}

// Delete removes a value from the cache with exponential backoff retry.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Delete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "delete",
		).Observe(time.Since(start).Seconds())
	}()

	fullKey := c.resolveKey(key)

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		return c.client.Del(ctx, fullKey).Err()
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis delete",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		c.logger.Debug("cache deleted",
			observability.String("key", key))
		return nil
	}

	GetCacheMetrics().errorsTotal.WithLabelValues("redis", "delete").Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error("redis delete failed",
		observability.String("key", key),
		observability.Error(err))
	return err
}

// Exists checks if a key exists in the cache with exponential backoff retry.
func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Exists",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "exists",
		).Observe(time.Since(start).Seconds())
	}()

	fullKey := c.resolveKey(key)

	var result int64

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		var existsErr error
		result, existsErr = c.client.Exists(ctx, fullKey).Result()
		return existsErr
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis exists",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		span.SetAttributes(attribute.Bool("cache.exists", result > 0))
		return result > 0, nil
	}

	GetCacheMetrics().errorsTotal.WithLabelValues("redis", "exists").Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error("redis exists failed",
		observability.String("key", key),
		observability.Error(err))
	return false, err
}

// GetWithTTL retrieves a value and its remaining TTL in one round trip.
func (c *redisCache) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.GetWithTTL",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	fullKey := c.resolveKey(key)

	var value []byte
	var ttl time.Duration

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		pipe := c.client.Pipeline()
		getCmd := pipe.Get(ctx, fullKey)
		ttlCmd := pipe.TTL(ctx, fullKey)

		_, pipeErr := pipe.Exec(ctx)
		if pipeErr != nil && !errors.Is(pipeErr, redis.Nil) {
			return pipeErr
		}

		val, getErr := getCmd.Bytes()
		if getErr != nil {
			return getErr
		}

		value = val
		ttl = ttlCmd.Val()
		if ttl < 0 {
			ttl = 0
		}
		return nil
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis getWithTTL",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		atomic.AddInt64(&c.hits, 1)
		span.SetAttributes(
			attribute.Bool("cache.hit", true),
			attribute.Int("cache.value_size", len(value)),
		)
		return value, ttl, nil
	}

	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.misses, 1)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, 0, ErrCacheMiss
	}

	c.logger.Error("redis getWithTTL failed",
		observability.String("key", key),
		observability.Error(err))
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	return nil, 0, err
}

// SetNX sets a value only if the key does not exist, with retry.
func (c *redisCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.SetNX",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	ttl = applyTTLJitter(ttl, c.ttlJitter)

	fullKey := c.resolveKey(key)

	var result bool

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		var setErr error
		result, setErr = c.client.SetNX(ctx, fullKey, value, ttl).Result()
		return setErr
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis setnx",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err != nil {
		c.logger.Error("redis setnx failed",
			observability.String("key", key),
			observability.Error(err))
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return false, err
	}

	span.SetAttributes(attribute.Bool("cache.setnx_acquired", result))
	return result, nil
}

// Expire updates the TTL of an existing key with retry.
func (c *redisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Expire",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	fullKey := c.resolveKey(key)

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		return c.client.Expire(ctx, fullKey, ttl).Err()
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis expire",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err != nil {
		c.logger.Error("redis expire failed",
			observability.String("key", key),
			observability.Error(err))
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return err
	}

	return nil
}

// Scan lists unprefixed keys matching the glob pattern via incremental SCAN.
// The walk stops when the limit is reached or the time budget is spent, so a
// broad pattern can never stall the caller. Not usable when keys are hashed.
func (c *redisCache) Scan(
	ctx context.Context, pattern string, limit int, budget time.Duration,
) ([]string, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Scan",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.pattern", pattern),
		),
	)
	defer span.End()

	if c.hashKeys {
		return nil, errors.New("key scanning is unavailable when hashKeys is enabled")
	}

	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	var keys []string
	iter := c.client.Scan(ctx, 0, c.keyPrefix+pattern, 100).Iterator()

	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), c.keyPrefix))
		if limit > 0 && len(keys) >= limit {
			break
		}
	}

	if err := iter.Err(); err != nil {
		// A spent budget returns the keys collected so far
		if errors.Is(err, context.DeadlineExceeded) {
			span.SetAttributes(attribute.Bool("cache.scan_truncated", true))
			return keys, nil
		}
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("cache.scan_count", len(keys)))
	return keys, nil
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	c.logger.Info("redis cache closing")
	return c.client.Close()
}

// Stats returns cache statistics.
func (c *redisCache) Stats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
