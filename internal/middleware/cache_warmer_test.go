package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/cache"
)

func TestCacheWarmer_StartupWarmingServesHits(t *testing.T) {
	m, coordinator := newTestCacheMiddleware(t)
	var calls atomic.Int32
	origin := upstreamCounter(&calls, http.StatusOK, `{"orders":[]}`)

	warmer := NewCacheWarmer(coordinator, origin, time.Minute)

	report, err := warmer.WarmStartup(context.Background(), []string{"/api/orders?page=1"})
	require.NoError(t, err)
	require.Len(t, report.Populated, 1)
	assert.Empty(t, report.Failed)
	assert.Equal(t, int32(1), calls.Load())

	// The warmed entry is indistinguishable from one stored on a miss
	handler := m.Handler()(origin)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders?page=1", nil))

	assert.Equal(t, "HIT", rec.Header().Get(HeaderXCache))
	assert.Equal(t, `{"orders":[]}`, rec.Body.String())
	assert.Equal(t, ContentTypeJSON, rec.Header().Get(HeaderContentType))
	assert.Equal(t, int32(1), calls.Load(), "warming already loaded the entry")
}

func TestCacheWarmer_UpstreamFailureReportedAsFailed(t *testing.T) {
	_, coordinator := newTestCacheMiddleware(t)
	var calls atomic.Int32
	origin := upstreamCounter(&calls, http.StatusBadGateway, "upstream down")

	warmer := NewCacheWarmer(coordinator, origin, time.Minute)

	report, err := warmer.WarmStartup(context.Background(), []string{"/api/orders"})
	require.NoError(t, err)
	assert.Empty(t, report.Populated)
	assert.Len(t, report.Failed, 1)
}

func TestCacheWarmer_UnknownKeyFailsLoad(t *testing.T) {
	_, coordinator := newTestCacheMiddleware(t)
	warmer := NewCacheWarmer(coordinator, http.NotFoundHandler(), time.Minute)

	_, _, err := warmer.load(context.Background(), "nope")
	assert.Error(t, err)
}

func TestCacheWarmer_PredictiveReloadsObservedRequests(t *testing.T) {
	_, coordinator := newTestCacheMiddleware(t)
	var calls atomic.Int32
	origin := upstreamCounter(&calls, http.StatusOK, "ok")

	warmer := NewCacheWarmer(coordinator, origin, time.Minute)
	m := NewCacheMiddleware(coordinator, WithCacheKeyObserver(warmer.Observe))
	handler := m.Handler()(origin)

	// Live traffic teaches the warmer which request backs the key
	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	}
	require.Equal(t, int32(1), calls.Load())

	key := cacheKeyForURI("/api/orders")
	require.NoError(t, coordinator.Delete(context.Background(), key))

	report, err := coordinator.Warm(context.Background(), cache.WarmRequest{
		Strategy: cache.WarmPredictive,
		TopN:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{key}, report.Populated)

	lookup, err := coordinator.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, lookup.Hit)
}

func TestCacheWarmer_ScheduleRewarms(t *testing.T) {
	_, coordinator := newTestCacheMiddleware(t)
	var calls atomic.Int32
	origin := upstreamCounter(&calls, http.StatusOK, "ok")

	warmer := NewCacheWarmer(coordinator, origin, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := warmer.Schedule(ctx, 20*time.Millisecond, []string{"/api/orders"})
	defer stop()

	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	lookup, err := coordinator.Get(ctx, cacheKeyForURI("/api/orders"))
	require.NoError(t, err)
	assert.True(t, lookup.Hit)
}
