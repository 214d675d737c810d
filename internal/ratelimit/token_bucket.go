package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/store"
	"go.uber.org/zap"
)

var _ io.Closer = (*TokenBucketLimiter)(nil)

// TokenBucketLimiter implements the token bucket rate limiting algorithm.
// Tokens refill lazily at a fixed rate and each request consumes tokens.
// Implements io.Closer; call Close when done to stop the cleanup goroutine.
type TokenBucketLimiter struct {
	store  store.Store
	rate   float64 // tokens per second
	burst  int     // maximum bucket size
	logger *zap.Logger

	// In-memory state for local rate limiting
	buckets sync.Map

	// Per-key locks serializing store access. Redis-backed stores go
	// through RedisRateLimiter and its server-side scripts instead, so
	// the store here is process-local and the lock is authoritative.
	distLocks sync.Map

	cleanupInterval time.Duration
	bucketTTL       time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// tokenBucket holds the refill state for a single key.
type tokenBucket struct {
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewTokenBucketLimiter creates a new token bucket rate limiter. A nil store
// gives a purely local limiter. A background goroutine evicts stale buckets.
func NewTokenBucketLimiter(s store.Store, rate float64, burst int, logger *zap.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &TokenBucketLimiter{
		store:           s,
		rate:            rate,
		burst:           burst,
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		bucketTTL:       10 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go l.startCleanupLoop()

	return l
}

// startCleanupLoop runs the periodic eviction of stale buckets.
func (l *TokenBucketLimiter) startCleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup(l.bucketTTL)
		case <-l.stopCleanup:
			return
		}
	}
}

// Close implements io.Closer. Safe to call multiple times.
func (l *TokenBucketLimiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if l.store == nil {
		return l.allowLocal(key, n)
	}

	return l.allowDistributed(ctx, key, n)
}

// allowLocal performs rate limiting using in-memory storage.
func (l *TokenBucketLimiter) allowLocal(key string, n int) (*Result, error) {
	now := time.Now()

	value, _ := l.buckets.LoadOrStore(key, &tokenBucket{
		tokens:     float64(l.burst),
		lastUpdate: now,
	})
	b := value.(*tokenBucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastUpdate = now

	allowed := b.tokens >= float64(n)
	if allowed {
		b.tokens -= float64(n)
	}

	remaining := int(b.tokens)
	if remaining < 0 {
		remaining = 0
	}

	// Time until bucket is full
	tokensNeeded := float64(l.burst) - b.tokens
	resetAfter := time.Duration(tokensNeeded / l.rate * float64(time.Second))

	var retryAfter time.Duration
	if !allowed {
		deficit := float64(n) - b.tokens
		retryAfter = time.Duration(deficit / l.rate * float64(time.Second))
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.burst,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// keyLock returns the per-key lock for store operations.
func (l *TokenBucketLimiter) keyLock(key string) *sync.Mutex {
	v, _ := l.distLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// allowDistributed performs rate limiting using the counter store.
// Token count and last update time are kept as two counters; token counts
// are stored in thousandths for precision.
func (l *TokenBucketLimiter) allowDistributed(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	nowMs := now.UnixMilli()

	mu := l.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	stateKey := "tb:" + key
	tokens := float64(l.burst)
	lastUpdate := nowMs

	currentTokens, err := l.store.Get(ctx, stateKey+":tokens")
	if err == nil {
		tokens = float64(currentTokens) / 1000.0
	} else if !store.IsKeyNotFound(err) {
		return nil, err
	}

	lastUpdateVal, err := l.store.Get(ctx, stateKey+":time")
	if err == nil {
		lastUpdate = lastUpdateVal
	} else if !store.IsKeyNotFound(err) {
		return nil, err
	}

	elapsed := float64(nowMs-lastUpdate) / 1000.0
	tokens += elapsed * l.rate
	if tokens > float64(l.burst) {
		tokens = float64(l.burst)
	}

	allowed := tokens >= float64(n)
	if allowed {
		tokens -= float64(n)
	}

	expiration := time.Duration(float64(l.burst)/l.rate+1) * time.Second
	if err := l.store.Set(ctx, stateKey+":tokens", int64(tokens*1000), expiration); err != nil {
		l.logger.Warn("failed to store tokens", zap.Error(err))
	}
	if err := l.store.Set(ctx, stateKey+":time", nowMs, expiration); err != nil {
		l.logger.Warn("failed to store update time", zap.Error(err))
	}

	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	tokensNeeded := float64(l.burst) - tokens
	resetAfter := time.Duration(tokensNeeded / l.rate * float64(time.Second))

	var retryAfter time.Duration
	if !allowed {
		deficit := float64(n) - tokens
		retryAfter = time.Duration(deficit / l.rate * float64(time.Second))
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.burst,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// GetLimit implements Limiter.
func (l *TokenBucketLimiter) GetLimit(key string) *Limit {
	return &Limit{
		Requests: int(l.rate),
		Window:   time.Second,
		Burst:    l.burst,
	}
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.buckets.Delete(key)

	if l.store != nil {
		stateKey := "tb:" + key
		if err := l.store.Delete(ctx, stateKey+":tokens"); err != nil {
			return err
		}
		if err := l.store.Delete(ctx, stateKey+":time"); err != nil {
			return err
		}
	}

	return nil
}

// Cleanup removes stale buckets from memory.
func (l *TokenBucketLimiter) Cleanup(maxAge time.Duration) {
	now := time.Now()

	l.buckets.Range(func(key, value interface{}) bool {
		b := value.(*tokenBucket)
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > maxAge {
			l.buckets.Delete(key)
		}
		b.mu.Unlock()
		return true
	})
}
