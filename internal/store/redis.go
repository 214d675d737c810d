package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Prometheus metrics for counter store operations.
var (
	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counter_store_operations_total",
			Help: "Total number of counter store operations",
		},
		[]string{"operation", "status"},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "counter_store_operation_duration_seconds",
			Help:    "Duration of counter store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	storeConnectionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "counter_store_connection_retries_total",
			Help: "Total number of counter store connection retry attempts",
		},
	)

	storeConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "counter_store_connection_errors_total",
			Help: "Total number of counter store connection errors",
		},
	)
)

// incrementWithExpiryScript atomically increments a key and sets the
// expiration when the increment created it.
// KEYS[1] = key, ARGV[1] = delta, ARGV[2] = expiration in seconds
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	closed bool
	mu     sync.Mutex
}

// RedisConfig holds configuration for the Redis counter store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	// Connection pool settings
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// InitialBackoff is the initial backoff duration for connection retries.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration for connection retries.
	MaxBackoff time.Duration

	// ConnectionRetries is the number of connection retry attempts.
	ConnectionRetries int

	// Logger for the Redis store.
	Logger *zap.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:           "localhost:6379",
		Password:          "",
		DB:                0,
		Prefix:            "ratelimit:",
		PoolSize:          10,
		MinIdleConns:      2,
		MaxRetries:        3,
		DialTimeout:       5 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      3 * time.Second,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		ConnectionRetries: 5,
	}
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	config := DefaultRedisConfig()
	config.Address = addr
	config.Password = password
	config.DB = db
	if prefix != "" {
		config.Prefix = prefix
	}

	return NewRedisStoreWithConfig(config)
}

// NewRedisStoreWithConfig creates a new Redis store with custom configuration.
// Uses exponential backoff with decorrelated jitter for connection retries to
// prevent thundering herd problems.
func NewRedisStoreWithConfig(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	store, err := connectWithRetry(client, config, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// connectWithRetry attempts to connect to Redis with backoff between attempts.
func connectWithRetry(client *redis.Client, config *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	maxRetries := config.ConnectionRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	initialBackoff := config.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 100 * time.Millisecond
	}

	maxBackoff := config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}

	totalTimeout := time.Duration(maxRetries+1) * config.DialTimeout
	if totalTimeout > 2*time.Minute {
		totalTimeout = 2 * time.Minute
	}

	backoff := newDecorrelatedJitterBackoff(initialBackoff, maxBackoff)

	overallCtx, overallCancel := context.WithTimeout(context.Background(), totalTimeout)
	defer overallCancel()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := overallCtx.Err(); err != nil {
			return nil, fmt.Errorf("connection timeout exceeded: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(overallCtx, config.DialTimeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			if attempt > 0 {
				logger.Info("counter store connection established after retry",
					zap.String("address", config.Address),
					zap.Int("attempt", attempt+1),
				)
			}
			return &RedisStore{
				client: client,
				prefix: config.Prefix,
				logger: logger,
			}, nil
		}

		storeConnectionErrors.Inc()

		if attempt >= maxRetries {
			break
		}

		wait := backoff.next(attempt)
		logger.Debug("counter store connection failed, retrying",
			zap.String("address", config.Address),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)
		storeConnectionRetries.Inc()

		select {
		case <-overallCtx.Done():
			return nil, fmt.Errorf("connection timeout exceeded during backoff: %w", overallCtx.Err())
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("failed to connect to counter store after %d attempts: %w", maxRetries+1, lastErr)
}

// decorrelatedJitterBackoff implements AWS-style decorrelated jitter backoff.
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// newDecorrelatedJitterBackoff creates a new decorrelated jitter backoff.
func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	return &decorrelatedJitterBackoff{
		initial: initial,
		max:     maxDuration,
		current: initial,
	}
}

// next returns the next backoff duration using decorrelated jitter.
// Formula: sleep = min(cap, random_between(base, sleep * 3))
func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	minBackoff := float64(b.initial)
	maxBackoff := float64(b.current) * 3

	//nolint:gosec // weak random is acceptable for jitter
	backoff := minBackoff + float64(time.Now().UnixNano()%1000)/1000.0*(maxBackoff-minBackoff)

	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	b.current = time.Duration(backoff)
	return b.current
}

// prefixKey adds the prefix to the key.
func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis get: %w", err)
	}

	val, err := s.client.Get(ctx, s.prefixKey(key)).Result()

	storeOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err == redis.Nil {
		storeOperationsTotal.WithLabelValues("get", "not_found").Inc()
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		storeOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("redis get error: %w", err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		storeOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("failed to parse value: %w", err)
	}

	storeOperationsTotal.WithLabelValues("get", "success").Inc()
	return n, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis set: %w", err)
	}

	err := s.client.Set(ctx, s.prefixKey(key), value, expiration).Err()

	storeOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())

	if err != nil {
		storeOperationsTotal.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("redis set error: %w", err)
	}

	storeOperationsTotal.WithLabelValues("set", "success").Inc()
	return nil
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis incr: %w", err)
	}

	val, err := s.client.IncrBy(ctx, s.prefixKey(key), delta).Result()

	storeOperationDuration.WithLabelValues("increment").Observe(time.Since(start).Seconds())

	if err != nil {
		storeOperationsTotal.WithLabelValues("increment", "error").Inc()
		return 0, fmt.Errorf("redis incr error: %w", err)
	}

	storeOperationsTotal.WithLabelValues("increment", "success").Inc()
	return val, nil
}

// IncrementWithExpiry implements Store using a Lua script for atomicity.
func (s *RedisStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis incr with expiry: %w", err)
	}

	prefixedKey := s.prefixKey(key)
	expirationSecs := int64(expiration.Seconds())
	if expirationSecs < 1 {
		expirationSecs = 1
	}

	result, err := incrementWithExpiryScript.Run(ctx, s.client, []string{prefixedKey}, delta, expirationSecs).Result()

	storeOperationDuration.WithLabelValues("increment_with_expiry").Observe(time.Since(start).Seconds())

	if err != nil {
		storeOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis script error: %w", err)
	}

	val, ok := result.(int64)
	if !ok {
		storeOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis script returned unexpected type: %T", result)
	}

	storeOperationsTotal.WithLabelValues("increment_with_expiry", "success").Inc()
	return val, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis del: %w", err)
	}

	err := s.client.Del(ctx, s.prefixKey(key)).Err()

	storeOperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	if err != nil {
		storeOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis del error: %w", err)
	}

	storeOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// Close implements Store. Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Prefix returns the key namespace prefix applied by the store.
func (s *RedisStore) Prefix() string {
	return s.prefix
}

// FixedWindowScript performs atomic check-and-increment for fixed window
// rate limiting. The counter is only incremented when the request fits under
// the limit, eliminating check/increment races between concurrent callers.
// Returns: allowed (0 or 1), remaining count, reset time in ms
var FixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local window_start = math.floor(now / window_ms) * window_ms
	local window_key = key .. ':' .. window_start

	local count = tonumber(redis.call('GET', window_key) or '0')

	local allowed = 0
	if count + requested <= limit then
		count = redis.call('INCRBY', window_key, requested)
		-- Set expiry on first request in window
		if count == requested then
			redis.call('PEXPIRE', window_key, window_ms)
		end
		allowed = 1
	end

	local reset_ms = window_start + window_ms - now

	return {allowed, limit - count, reset_ms}
`)

// SlidingWindowScript performs rate limiting using the weighted two-window
// approximation: the previous fixed window is weighted by the unelapsed
// fraction of the current window and added to the current count. When no
// previous window exists this degrades to fixed-window semantics.
// Returns: allowed (0 or 1), remaining count, reset time in ms
var SlidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local curr_start = math.floor(now / window_ms) * window_ms
	local prev_start = curr_start - window_ms
	local curr_key = key .. ':' .. curr_start
	local prev_key = key .. ':' .. prev_start

	local curr = tonumber(redis.call('GET', curr_key) or '0')
	local prev = tonumber(redis.call('GET', prev_key) or '0')

	local elapsed = (now - curr_start) / window_ms
	local weighted = math.floor(prev * (1 - elapsed) + 0.5) + curr

	local allowed = 0
	if weighted + requested <= limit then
		curr = redis.call('INCRBY', curr_key, requested)
		-- Keep the counter around long enough to serve as the previous window
		if curr == requested then
			redis.call('PEXPIRE', curr_key, window_ms * 2)
		end
		weighted = weighted + requested
		allowed = 1
	end

	local remaining = limit - weighted
	if remaining < 0 then
		remaining = 0
	end

	local reset_ms = curr_start + window_ms - now

	return {allowed, remaining, reset_ms}
`)

// TokenBucketScript performs token bucket rate limiting. Tokens refill
// lazily from the elapsed-time delta, capped at burst.
// Returns: allowed (0 or 1), remaining tokens, reset time in ms
var TokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1])
	local last_update = tonumber(data[2])

	if tokens == nil then
		tokens = burst
		last_update = now
	end

	local elapsed = (now - last_update) / 1000.0
	tokens = math.min(burst, tokens + (elapsed * rate))

	local allowed = 0
	if tokens >= requested then
		tokens = tokens - requested
		allowed = 1
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, math.ceil(burst / rate) + 1)

	local reset_ms = math.ceil((burst - tokens) / rate * 1000)

	return {allowed, math.floor(tokens), reset_ms}
`)

// LeakyBucketScript performs leaky bucket admission shaping. The bucket
// fills on arrival and leaks at a fixed rate; requests are blocked while
// the bucket is at capacity.
// Returns: allowed (0 or 1), remaining capacity, reset time in ms
var LeakyBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local leak_rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local data = redis.call('HMGET', key, 'level', 'last_leak')
	local level = tonumber(data[1])
	local last_leak = tonumber(data[2])

	if level == nil then
		level = 0
		last_leak = now
	end

	local elapsed = (now - last_leak) / 1000.0
	level = math.max(0, level - (elapsed * leak_rate))

	local allowed = 0
	if level + requested <= capacity then
		level = level + requested
		allowed = 1
	end

	redis.call('HMSET', key, 'level', level, 'last_leak', now)
	redis.call('EXPIRE', key, math.ceil(capacity / leak_rate) + 1)

	local reset_ms = math.ceil(level / leak_rate * 1000)

	return {allowed, math.floor(capacity - level), reset_ms}
`)
