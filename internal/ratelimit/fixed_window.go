package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/store"
	"go.uber.org/zap"
)

// FixedWindowLimiter implements the fixed window rate limiting algorithm.
// Time is divided into fixed windows and requests are counted within each.
type FixedWindowLimiter struct {
	store  store.Store
	limit  int
	window time.Duration
	logger *zap.Logger

	// In-memory state for local rate limiting
	counters sync.Map

	// Per-key locks serializing store access. Redis-backed stores go
	// through RedisRateLimiter and its server-side scripts instead, so
	// the store here is process-local and the lock is authoritative.
	distLocks sync.Map
}

// windowCounter holds the count for a single fixed window.
type windowCounter struct {
	count       int
	windowStart time.Time
	mu          sync.Mutex
}

// NewFixedWindowLimiter creates a new fixed window rate limiter. A nil store
// gives a purely local limiter.
func NewFixedWindowLimiter(s store.Store, limit int, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FixedWindowLimiter{
		store:  s,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if l.store == nil {
		return l.allowLocal(key, n)
	}

	return l.allowDistributed(ctx, key, n)
}

// windowStart returns the start time of the window containing t.
func (l *FixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// allowLocal performs rate limiting using in-memory storage.
func (l *FixedWindowLimiter) allowLocal(key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now)

	value, _ := l.counters.LoadOrStore(key, &windowCounter{
		windowStart: windowStart,
	})
	wc := value.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if !wc.windowStart.Equal(windowStart) {
		wc.count = 0
		wc.windowStart = windowStart
	}

	allowed := wc.count+n <= l.limit
	if allowed {
		wc.count += n
	}

	remaining := l.limit - wc.count
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// keyLock returns the per-key lock for store operations.
func (l *FixedWindowLimiter) keyLock(key string) *sync.Mutex {
	v, _ := l.distLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// allowDistributed performs rate limiting using the counter store. The
// counter only moves when the request fits under the limit, so blocked
// requests never consume quota.
func (l *FixedWindowLimiter) allowDistributed(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now)

	windowKey := fmt.Sprintf("%s:fw:%d", key, windowStart.UnixNano())

	mu := l.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	count, err := l.store.Get(ctx, windowKey)
	if err != nil && !store.IsKeyNotFound(err) {
		return nil, err
	}

	allowed := int(count)+n <= l.limit
	if allowed {
		// Buffer for clock skew between instances
		expiration := l.window + time.Second
		count, err = l.store.IncrementWithExpiry(ctx, windowKey, int64(n), expiration)
		if err != nil {
			return nil, err
		}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// GetLimit implements Limiter.
func (l *FixedWindowLimiter) GetLimit(key string) *Limit {
	return &Limit{
		Requests: l.limit,
		Window:   l.window,
		Burst:    l.limit,
	}
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	l.counters.Delete(key)

	if l.store != nil {
		now := time.Now()
		windowStart := l.windowStart(now)
		windowKey := fmt.Sprintf("%s:fw:%d", key, windowStart.UnixNano())
		if err := l.store.Delete(ctx, windowKey); err != nil {
			l.logger.Warn("failed to delete window counter", zap.Error(err))
		}
	}

	return nil
}

// Cleanup removes stale counters from memory.
func (l *FixedWindowLimiter) Cleanup() {
	now := time.Now()
	windowStart := l.windowStart(now)

	l.counters.Range(func(key, value interface{}) bool {
		wc := value.(*windowCounter)
		wc.mu.Lock()
		if wc.windowStart.Before(windowStart) {
			l.counters.Delete(key)
		}
		wc.mu.Unlock()
		return true
	})
}
