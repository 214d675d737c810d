package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/audit"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/ratelimit"
	"github.com/edgegate/edgegate/internal/store"
)

func testPolicy(requests int) *config.RateLimitPolicy {
	return &config.RateLimitPolicy{
		Algorithm: string(ratelimit.AlgorithmFixedWindow),
		Requests:  requests,
		Window:    config.Duration(time.Minute),
	}
}

func newTestRateLimitMiddleware(
	t *testing.T,
	policy *config.RateLimitPolicy,
	s store.Store,
	roles *ratelimit.RoleTable,
) *RateLimitMiddleware {
	t.Helper()

	m, err := NewRateLimitMiddleware("orders", policy, s, roles)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func serveLimited(m *RateLimitMiddleware, mutate func(*http.Request)) *httptest.ResponseRecorder {
	handler := m.Handler()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	if mutate != nil {
		mutate(req)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitMiddleware_AllowsAndSetsHeaders(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	m := newTestRateLimitMiddleware(t, testPolicy(5), s, nil)

	rec := serveLimited(m, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get(HeaderXRateLimitLimit))
	assert.Equal(t, "4", rec.Header().Get(HeaderXRateLimitRemaining))
	assert.NotEmpty(t, rec.Header().Get(HeaderXRateLimitReset))
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	m := newTestRateLimitMiddleware(t, testPolicy(2), s, nil)

	assert.Equal(t, http.StatusOK, serveLimited(m, nil).Code)
	assert.Equal(t, http.StatusOK, serveLimited(m, nil).Code)

	rec := serveLimited(m, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ContentTypeJSON, rec.Header().Get(HeaderContentType))
	assert.NotEmpty(t, rec.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "0", rec.Header().Get(HeaderXRateLimitRemaining))
	assert.JSONEq(t, ErrRateLimitExceeded, rec.Body.String())
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	m := newTestRateLimitMiddleware(t, testPolicy(1), s, nil)

	assert.Equal(t, http.StatusOK, serveLimited(m, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveLimited(m, nil).Code)

	// A different client IP has its own counter
	rec := serveLimited(m, func(r *http.Request) {
		r.RemoteAddr = "198.51.100.4:1234"
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_ByUserIdentifier(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	policy := testPolicy(1)
	policy.ByUser = true
	m := newTestRateLimitMiddleware(t, policy, s, nil)

	asUser := func(subject string) func(*http.Request) {
		return func(r *http.Request) {
			r.Header.Set(HeaderXClientSubject, subject)
		}
	}

	assert.Equal(t, http.StatusOK, serveLimited(m, asUser("alice")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveLimited(m, asUser("alice")).Code)

	// Same IP, different subject: separate quota
	assert.Equal(t, http.StatusOK, serveLimited(m, asUser("bob")).Code)
}

func TestRateLimitMiddleware_RoleScaling(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	roles := ratelimit.NewRoleTable(map[string]float64{
		"default": 1.0,
		"premium": 3.0,
	})
	m := newTestRateLimitMiddleware(t, testPolicy(1), s, roles)

	asPremium := func(r *http.Request) {
		r.Header.Set(HeaderXClientRole, "premium")
		r.RemoteAddr = "198.51.100.9:1"
	}

	// Default role: one request
	assert.Equal(t, http.StatusOK, serveLimited(m, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveLimited(m, nil).Code)

	// Premium role: three requests
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serveLimited(m, asPremium).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serveLimited(m, asPremium).Code)
}

func TestRateLimitMiddleware_ReplaceRoles(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	roles := ratelimit.NewRoleTable(map[string]float64{"default": 1.0})
	m := newTestRateLimitMiddleware(t, testPolicy(1), s, roles)

	assert.Equal(t, http.StatusOK, serveLimited(m, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveLimited(m, nil).Code)

	// Raising the multiplier takes effect without restart; the counter
	// key is unchanged so prior usage still counts against the new limit.
	m.ReplaceRoles(map[string]float64{"default": 5.0})
	assert.Equal(t, http.StatusOK, serveLimited(m, nil).Code)
}

type unavailableStore struct{}

func (s *unavailableStore) Get(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func (s *unavailableStore) Set(context.Context, string, int64, time.Duration) error {
	return errors.New("connection refused")
}

func (s *unavailableStore) Increment(context.Context, string, int64) (int64, error) {
	return 0, errors.New("connection refused")
}

func (s *unavailableStore) IncrementWithExpiry(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func (s *unavailableStore) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func (s *unavailableStore) Close() error { return nil }

func TestRateLimitMiddleware_FailsOpenOnStoreFailure(t *testing.T) {
	m := newTestRateLimitMiddleware(t, testPolicy(100), &unavailableStore{}, nil)

	// The store is down but requests are still served
	rec := serveLimited(m, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_FallbackStillLimits(t *testing.T) {
	// One request per minute with burst 1: the local fallback bucket
	// admits a single request before rejecting.
	m := newTestRateLimitMiddleware(t, testPolicy(1), &unavailableStore{}, nil)

	assert.Equal(t, http.StatusOK, serveLimited(m, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveLimited(m, nil).Code)
}

func TestRateLimitMiddleware_FallbackRejectCarriesQuotaHeaders(t *testing.T) {
	m := newTestRateLimitMiddleware(t, testPolicy(1), &unavailableStore{}, nil)

	assert.Equal(t, http.StatusOK, serveLimited(m, nil).Code)

	// Degraded rejections still tell the client its quota
	rec := serveLimited(m, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderXRateLimitLimit))
	assert.Equal(t, "0", rec.Header().Get(HeaderXRateLimitRemaining))
	assert.NotEmpty(t, rec.Header().Get(HeaderXRateLimitReset))
	assert.NotEmpty(t, rec.Header().Get(HeaderRetryAfter))
}

func TestRateLimitMiddleware_RecordsOperationalCounters(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	recorder := audit.NewRecorder(nil, s)
	m, err := NewRateLimitMiddleware("orders", testPolicy(1), s, nil,
		WithRateLimitRecorder(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, http.StatusOK, serveLimited(m, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveLimited(m, nil).Code)

	ctx := context.Background()
	total, err := s.Get(ctx, "metrics:orders:"+audit.MetricRequestsTotal)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	blocked, err := s.Get(ctx, "metrics:orders:"+audit.MetricRequestsBlocked)
	require.NoError(t, err)
	assert.Equal(t, int64(1), blocked)

	hits, err := s.Get(ctx, "metrics:orders:"+audit.MetricRateLimitHit)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)
}

func TestNewRateLimitMiddleware_RejectsInvalidPolicy(t *testing.T) {
	_, err := NewRateLimitMiddleware("orders", testPolicy(0), store.NewMemoryStore(), nil)
	assert.Error(t, err)

	bad := testPolicy(10)
	bad.Algorithm = "sliding_log"
	_, err = NewRateLimitMiddleware("orders", bad, store.NewMemoryStore(), nil)
	assert.Error(t, err)
}

func TestLocalRateLimiter(t *testing.T) {
	rl := NewLocalRateLimiter(&ratelimit.Config{
		Algorithm: ratelimit.AlgorithmFixedWindow,
		Requests:  2,
		Window:    time.Minute,
	})
	defer rl.Stop()

	assert.True(t, rl.Allow("client-a"))
	assert.True(t, rl.Allow("client-a"))
	assert.False(t, rl.Allow("client-a"))

	// Independent bucket per identifier
	assert.True(t, rl.Allow("client-b"))
}

func TestLocalRateLimiter_Cleanup(t *testing.T) {
	rl := NewLocalRateLimiter(&ratelimit.Config{
		Algorithm: ratelimit.AlgorithmFixedWindow,
		Requests:  1,
		Window:    time.Minute,
	})
	defer rl.Stop()

	rl.Allow("client-a")
	rl.CleanupOldClients(0)

	rl.mu.Lock()
	remaining := len(rl.clients)
	rl.mu.Unlock()
	assert.Zero(t, remaining)
}
