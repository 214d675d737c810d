package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/store"
	"go.uber.org/zap"
)

// SlidingWindowLimiter implements the weighted two-window sliding algorithm.
// The previous fixed window's count is weighted by the unelapsed fraction of
// the current window and added to the current count:
//
//	count = prev*(1 - elapsed/window) + curr
//
// With an empty previous window this degrades to fixed-window behavior. The
// approximation assumes a uniform request distribution inside the previous
// window, trading exactness for O(1) state per identifier.
type SlidingWindowLimiter struct {
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

// slidingCounter holds the current and previous window counts for a key.
type slidingCounter struct {
	curr        int
	prev        int
	windowStart time.Time
	mu          sync.Mutex
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter. A nil
// store gives a purely local limiter.
func NewSlidingWindowLimiter(s store.Store, limit int, window time.Duration, logger *zap.Logger) *SlidingWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SlidingWindowLimiter{
		store:  s,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *SlidingWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if l.store == nil {
		return l.allowLocal(key, n)
	}

	return l.allowDistributed(ctx, key, n)
}

// windowStart returns the start time of the window containing t.
func (l *SlidingWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// weightedCount computes the sliding count from the previous and current
// window counts at the given point inside the current window.
func (l *SlidingWindowLimiter) weightedCount(prev, curr int, elapsed float64) int {
	return int(math.Floor(float64(prev)*(1-elapsed)+0.5)) + curr
}

// allowLocal performs rate limiting using in-memory storage.
func (l *SlidingWindowLimiter) allowLocal(key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now)

	value, _ := l.counters.LoadOrStore(key, &slidingCounter{
		windowStart: windowStart,
	})
	sc := value.(*slidingCounter)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.windowStart.Equal(windowStart) {
		if sc.windowStart.Equal(windowStart.Add(-l.window)) {
			sc.prev = sc.curr
		} else {
			// More than a full window idle, nothing carries over
			sc.prev = 0
		}
		sc.curr = 0
		sc.windowStart = windowStart
	}

	elapsed := now.Sub(windowStart).Seconds() / l.window.Seconds()
	weighted := l.weightedCount(sc.prev, sc.curr, elapsed)

	allowed := weighted+n <= l.limit
	if allowed {
		sc.curr += n
		weighted += n
	}

	remaining := l.limit - weighted
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
func (l *SlidingWindowLimiter) keyLock(key string) *sync.Mutex {
	v, _ := l.distLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// allowDistributed performs rate limiting using the counter store,
// reading the previous and current window counters and incrementing the
// current one when allowed.
func (l *SlidingWindowLimiter) allowDistributed(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now)
	prevStart := windowStart.Add(-l.window)

	currKey := fmt.Sprintf("%s:sw:%d", key, windowStart.UnixNano())
	prevKey := fmt.Sprintf("%s:sw:%d", key, prevStart.UnixNano())

	mu := l.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	curr, err := l.store.Get(ctx, currKey)
	if err != nil && !store.IsKeyNotFound(err) {
		return nil, err
	}

	prev, err := l.store.Get(ctx, prevKey)
	if err != nil && !store.IsKeyNotFound(err) {
		return nil, err
	}

	elapsed := now.Sub(windowStart).Seconds() / l.window.Seconds()
	weighted := l.weightedCount(int(prev), int(curr), elapsed)

	allowed := weighted+n <= l.limit
	if allowed {
		// The counter must outlive its own window to serve as the
		// previous window of the next one
		expiration := 2*l.window + time.Second
		if _, err := l.store.IncrementWithExpiry(ctx, currKey, int64(n), expiration); err != nil {
			l.logger.Warn("failed to increment window counter", zap.Error(err))
		}
		weighted += n
	}

	remaining := l.limit - weighted
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
func (l *SlidingWindowLimiter) GetLimit(key string) *Limit {
	return &Limit{
		Requests: l.limit,
		Window:   l.window,
		Burst:    l.limit,
	}
}

// Reset implements Limiter.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	l.counters.Delete(key)

	if l.store != nil {
		now := time.Now()
		windowStart := l.windowStart(now)
		prevStart := windowStart.Add(-l.window)

		currKey := fmt.Sprintf("%s:sw:%d", key, windowStart.UnixNano())
		prevKey := fmt.Sprintf("%s:sw:%d", key, prevStart.UnixNano())

		if err := l.store.Delete(ctx, currKey); err != nil {
			l.logger.Warn("failed to delete current window counter", zap.Error(err))
		}
		if err := l.store.Delete(ctx, prevKey); err != nil {
			l.logger.Warn("failed to delete previous window counter", zap.Error(err))
		}
	}

	return nil
}

// Cleanup removes counters whose windows have fully expired.
func (l *SlidingWindowLimiter) Cleanup() {
	now := time.Now()
	windowStart := l.windowStart(now)
	prevStart := windowStart.Add(-l.window)

	l.counters.Range(func(key, value interface{}) bool {
		sc := value.(*slidingCounter)
		sc.mu.Lock()
		if sc.windowStart.Before(prevStart) {
			l.counters.Delete(key)
		}
		sc.mu.Unlock()
		return true
	})
}
