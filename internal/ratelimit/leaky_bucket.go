package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/store"
	"go.uber.org/zap"
)

var _ io.Closer = (*LeakyBucketLimiter)(nil)

// LeakyBucketLimiter implements the leaky bucket rate limiting algorithm.
// The bucket fills by one unit per accepted request and drains at a constant
// leak rate; requests arriving against a full bucket are blocked. Unlike the
// token bucket there is no burst credit beyond the bucket capacity, which
// smooths admission to a near-constant rate.
// Implements io.Closer; call Close when done to stop the cleanup goroutine.
type LeakyBucketLimiter struct {
	store    store.Store
	leakRate float64 // units per second
	capacity int
	logger   *zap.Logger

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

// leakyBucket holds the fill level for a single key.
type leakyBucket struct {
	level    float64
	lastLeak time.Time
	mu       sync.Mutex
}

// NewLeakyBucketLimiter creates a new leaky bucket rate limiter. A nil store
// gives a purely local limiter. A background goroutine evicts drained buckets.
func NewLeakyBucketLimiter(s store.Store, leakRate float64, capacity int, logger *zap.Logger) *LeakyBucketLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &LeakyBucketLimiter{
		store:           s,
		leakRate:        leakRate,
		capacity:        capacity,
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		bucketTTL:       10 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go l.startCleanupLoop()

	return l
}

// startCleanupLoop runs the periodic eviction of stale buckets.
func (l *LeakyBucketLimiter) startCleanupLoop() {
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
func (l *LeakyBucketLimiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

// Allow implements Limiter.
func (l *LeakyBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *LeakyBucketLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if l.store == nil {
		return l.allowLocal(key, n)
	}

	return l.allowDistributed(ctx, key, n)
}

// allowLocal performs rate limiting using in-memory storage.
func (l *LeakyBucketLimiter) allowLocal(key string, n int) (*Result, error) {
	now := time.Now()

	value, _ := l.buckets.LoadOrStore(key, &leakyBucket{
		lastLeak: now,
	})
	b := value.(*leakyBucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastLeak).Seconds()
	b.level -= elapsed * l.leakRate
	if b.level < 0 {
		b.level = 0
	}
	b.lastLeak = now

	allowed := b.level+float64(n) <= float64(l.capacity)
	if allowed {
		b.level += float64(n)
	}

	return l.buildResult(allowed, b.level, n), nil
}

// keyLock returns the per-key lock for store operations.
func (l *LeakyBucketLimiter) keyLock(key string) *sync.Mutex {
	v, _ := l.distLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// allowDistributed performs rate limiting using the counter store.
// Fill levels are stored in thousandths for precision.
func (l *LeakyBucketLimiter) allowDistributed(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	nowMs := now.UnixMilli()

	mu := l.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	stateKey := "lb:" + key
	level := 0.0
	lastLeak := nowMs

	currentLevel, err := l.store.Get(ctx, stateKey+":level")
	if err == nil {
		level = float64(currentLevel) / 1000.0
	} else if !store.IsKeyNotFound(err) {
		return nil, err
	}

	lastLeakVal, err := l.store.Get(ctx, stateKey+":time")
	if err == nil {
		lastLeak = lastLeakVal
	} else if !store.IsKeyNotFound(err) {
		return nil, err
	}

	elapsed := float64(nowMs-lastLeak) / 1000.0
	level -= elapsed * l.leakRate
	if level < 0 {
		level = 0
	}

	allowed := level+float64(n) <= float64(l.capacity)
	if allowed {
		level += float64(n)
	}

	expiration := time.Duration(float64(l.capacity)/l.leakRate+1) * time.Second
	if err := l.store.Set(ctx, stateKey+":level", int64(level*1000), expiration); err != nil {
		l.logger.Warn("failed to store bucket level", zap.Error(err))
	}
	if err := l.store.Set(ctx, stateKey+":time", nowMs, expiration); err != nil {
		l.logger.Warn("failed to store leak time", zap.Error(err))
	}

	return l.buildResult(allowed, level, n), nil
}

// buildResult derives the limiter result from the post-decision fill level.
func (l *LeakyBucketLimiter) buildResult(allowed bool, level float64, n int) *Result {
	remaining := l.capacity - int(level)
	if remaining < 0 {
		remaining = 0
	}

	// Time until the bucket fully drains
	resetAfter := time.Duration(level / l.leakRate * float64(time.Second))

	var retryAfter time.Duration
	if !allowed {
		// Time until enough capacity has leaked for n units
		overflow := level + float64(n) - float64(l.capacity)
		retryAfter = time.Duration(overflow / l.leakRate * float64(time.Second))
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.capacity,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}
}

// GetLimit implements Limiter.
func (l *LeakyBucketLimiter) GetLimit(key string) *Limit {
	return &Limit{
		Requests: int(l.leakRate),
		Window:   time.Second,
		Burst:    l.capacity,
	}
}

// Reset implements Limiter.
func (l *LeakyBucketLimiter) Reset(ctx context.Context, key string) error {
	l.buckets.Delete(key)

	if l.store != nil {
		stateKey := "lb:" + key
		if err := l.store.Delete(ctx, stateKey+":level"); err != nil {
			return err
		}
		if err := l.store.Delete(ctx, stateKey+":time"); err != nil {
			return err
		}
	}

	return nil
}

// Cleanup removes stale buckets from memory.
func (l *LeakyBucketLimiter) Cleanup(maxAge time.Duration) {
	now := time.Now()

	l.buckets.Range(func(key, value interface{}) bool {
		b := value.(*leakyBucket)
		b.mu.Lock()
		if now.Sub(b.lastLeak) > maxAge {
			l.buckets.Delete(key)
		}
		b.mu.Unlock()
		return true
	})
}
