package store

import (
	"context"
	"sync"
	"time"
)

// maxCASRetries is the maximum number of CAS retry attempts to prevent
// infinite spinning under high contention.
const maxCASRetries = 100

// entry represents a stored value with expiration.
type entry struct {
	value      int64
	expiration time.Time
	mu         sync.Mutex
}

// MemoryStore implements Store using in-memory storage. It is used as the
// local fallback when the remote store is unreachable, and in tests.
type MemoryStore struct {
	data    sync.Map
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a new in-memory store with a
// custom cleanup interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.C:
			s.removeExpired()
		case <-s.done:
			return
		}
	}
}

// removeExpired deletes all entries past their expiration time.
func (s *MemoryStore) removeExpired() {
	now := time.Now()
	s.data.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		e.mu.Lock()
		expired := !e.expiration.IsZero() && now.After(e.expiration)
		e.mu.Unlock()
		if expired {
			s.data.Delete(key)
		}
		return true
	})
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	value, ok := s.data.Load(key)
	if !ok {
		return 0, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.expiration.IsZero() && time.Now().After(e.expiration) {
		s.data.Delete(key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return e.value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	s.data.Store(key, &entry{
		value:      value,
		expiration: exp,
	})

	return nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.IncrementWithExpiry(ctx, key, delta, 0)
}

// IncrementWithExpiry implements Store. The expiration only applies when the
// increment creates the key, matching the Redis script semantics.
func (s *MemoryStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	for retries := 0; retries < maxCASRetries; retries++ {
		value, ok := s.data.Load(key)
		if !ok {
			newEntry := &entry{value: delta}
			if expiration > 0 {
				newEntry.expiration = time.Now().Add(expiration)
			}
			if actual, loaded := s.data.LoadOrStore(key, newEntry); loaded {
				value = actual
			} else {
				return delta, nil
			}
		}

		e := value.(*entry)
		e.mu.Lock()
		if !e.expiration.IsZero() && time.Now().After(e.expiration) {
			// Expired: treat as a fresh key on the next retry.
			e.mu.Unlock()
			s.data.Delete(key)
			continue
		}
		e.value += delta
		result := e.value
		e.mu.Unlock()
		return result, nil
	}

	return 0, context.DeadlineExceeded
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.data.Delete(key)
	return nil
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cleanup.Stop()
	close(s.done)
	return nil
}
