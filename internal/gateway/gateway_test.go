package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/cache"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/observability"
	"github.com/edgegate/edgegate/internal/ratelimit"
	"github.com/edgegate/edgegate/internal/store"
)

func boolPtr(b bool) *bool { return &b }

func newBackend(t *testing.T, body string) *httptest.Server {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(backend.Close)
	return backend
}

func testConfig(routes ...config.RouteConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.RateLimit = config.RateLimitPolicy{
		Enabled:   boolPtr(false),
		Algorithm: string(ratelimit.AlgorithmFixedWindow),
		Requests:  100,
		Window:    config.Duration(time.Minute),
	}
	cfg.Routes = routes
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config, opts ...Option) *Gateway {
	t.Helper()

	g, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(g.closeRoutes)
	return g
}

func serveGateway(g *Gateway, method, path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.7:1234"
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGateway_RoutesByLongestPrefix(t *testing.T) {
	orders := newBackend(t, `{"service":"orders"}`)
	users := newBackend(t, `{"service":"users"}`)

	g := newTestGateway(t, testConfig(
		config.RouteConfig{Name: "orders", PathPrefix: "/api/orders", Upstream: orders.URL},
		config.RouteConfig{Name: "users", PathPrefix: "/api", Upstream: users.URL},
	))

	rec := serveGateway(g, http.MethodGet, "/api/orders/42", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"service":"orders"}`, rec.Body.String())

	rec = serveGateway(g, http.MethodGet, "/api/users/7", nil)
	assert.Equal(t, `{"service":"users"}`, rec.Body.String())

	rec = serveGateway(g, http.MethodGet, "/elsewhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_EchoesCorrelationID(t *testing.T) {
	backend := newBackend(t, "ok")
	g := newTestGateway(t, testConfig(
		config.RouteConfig{Name: "orders", PathPrefix: "/", Upstream: backend.URL},
	))

	rec := serveGateway(g, http.MethodGet, "/", func(r *http.Request) {
		r.Header.Set("X-Correlation-ID", "corr-123")
	})
	assert.Equal(t, "corr-123", rec.Header().Get("X-Correlation-ID"))

	// Generated when absent
	rec = serveGateway(g, http.MethodGet, "/", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestGateway_SecurityHeaders(t *testing.T) {
	backend := newBackend(t, "ok")
	cfg := testConfig(config.RouteConfig{Name: "orders", PathPrefix: "/", Upstream: backend.URL})
	cfg.Security.HeadersEnabled = true

	g := newTestGateway(t, cfg)

	rec := serveGateway(g, http.MethodGet, "/", nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestGateway_CORS(t *testing.T) {
	backend := newBackend(t, "ok")
	cfg := testConfig(config.RouteConfig{Name: "orders", PathPrefix: "/", Upstream: backend.URL})
	cfg.Security.CORS = &config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}

	g := newTestGateway(t, cfg)

	rec := serveGateway(g, http.MethodGet, "/", func(r *http.Request) {
		r.Header.Set("Origin", "https://app.example.com")
	})
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGateway_PerRouteRateLimit(t *testing.T) {
	backend := newBackend(t, "ok")
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	limited := config.RouteConfig{
		Name:       "orders",
		PathPrefix: "/api/orders",
		Upstream:   backend.URL,
		RateLimit: &config.RateLimitPolicy{
			Algorithm: string(ratelimit.AlgorithmFixedWindow),
			Requests:  2,
			Window:    config.Duration(time.Minute),
		},
	}
	open := config.RouteConfig{Name: "users", PathPrefix: "/api/users", Upstream: backend.URL}

	g := newTestGateway(t, testConfig(limited, open), WithStore(s))

	assert.Equal(t, http.StatusOK, serveGateway(g, http.MethodGet, "/api/orders", nil).Code)
	assert.Equal(t, http.StatusOK, serveGateway(g, http.MethodGet, "/api/orders", nil).Code)

	rec := serveGateway(g, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// The unlimited route is unaffected
	assert.Equal(t, http.StatusOK, serveGateway(g, http.MethodGet, "/api/users", nil).Code)
}

func TestGateway_ReloadSwapsRoleMultipliers(t *testing.T) {
	backend := newBackend(t, "ok")
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	route := config.RouteConfig{
		Name:       "orders",
		PathPrefix: "/",
		Upstream:   backend.URL,
		RateLimit: &config.RateLimitPolicy{
			Algorithm: string(ratelimit.AlgorithmFixedWindow),
			Requests:  1,
			Window:    config.Duration(time.Minute),
		},
	}
	cfg := testConfig(route)
	cfg.Roles = map[string]float64{"default": 1.0, "premium": 1.0}

	g := newTestGateway(t, cfg, WithStore(s))

	asPremium := func(r *http.Request) {
		r.Header.Set("X-Client-Role", "premium")
	}

	assert.Equal(t, http.StatusOK, serveGateway(g, http.MethodGet, "/", asPremium).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveGateway(g, http.MethodGet, "/", asPremium).Code)

	reloaded := *cfg
	reloaded.Roles = map[string]float64{"default": 1.0, "premium": 5.0}
	g.Reload(context.Background(), &reloaded)

	// The raised multiplier takes effect without restart
	assert.Equal(t, http.StatusOK, serveGateway(g, http.MethodGet, "/", asPremium).Code)
}

func TestGateway_RouteCache(t *testing.T) {
	backend, err := cache.New(&config.CacheConfig{
		Enabled:    true,
		Type:       config.CacheTypeMemory,
		TTL:        config.Duration(time.Minute),
		MaxEntries: 100,
	}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = fmt.Fprint(w, "payload")
	}))
	t.Cleanup(upstream.Close)

	route := config.RouteConfig{
		Name:       "orders",
		PathPrefix: "/",
		Upstream:   upstream.URL,
		Cache:      &config.RouteCacheConfig{Enabled: true},
	}

	g := newTestGateway(t, testConfig(route), WithCacheBackend(backend))

	first := serveGateway(g, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serveGateway(g, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "payload", second.Body.String())
	assert.Equal(t, 1, calls)

	// The coordinator is scoped to the route's partition
	require.NotNil(t, g.Router().Routes()[0].Coordinator())
	assert.Equal(t, "orders", g.Router().Routes()[0].Coordinator().Partition().Key)
}

func TestGateway_StartupCacheWarming(t *testing.T) {
	backend, err := cache.New(&config.CacheConfig{
		Enabled:    true,
		Type:       config.CacheTypeMemory,
		TTL:        config.Duration(time.Minute),
		MaxEntries: 100,
	}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = fmt.Fprint(w, "payload")
	}))
	t.Cleanup(upstream.Close)

	route := config.RouteConfig{
		Name:       "orders",
		PathPrefix: "/",
		Upstream:   upstream.URL,
		Cache:      &config.RouteCacheConfig{Enabled: true},
	}
	cfg := testConfig(route)
	cfg.Cache.Warming = &config.WarmingConfig{
		Startup: []config.WarmKey{{Partition: "orders", Key: "/api/orders"}},
	}

	g := newTestGateway(t, cfg, WithCacheBackend(backend))

	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	t.Cleanup(func() { _ = g.Stop(ctx) })

	// The configured key was loaded before the listener opened
	assert.Equal(t, 1, calls)

	rec := serveGateway(g, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "payload", rec.Body.String())
	assert.Equal(t, 1, calls, "the first live request is served from the warmed cache")
}

func TestGateway_ScheduledCacheWarming(t *testing.T) {
	backend, err := cache.New(&config.CacheConfig{
		Enabled:    true,
		Type:       config.CacheTypeMemory,
		TTL:        config.Duration(time.Minute),
		MaxEntries: 100,
	}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = fmt.Fprint(w, "payload")
	}))
	t.Cleanup(upstream.Close)

	route := config.RouteConfig{
		Name:       "orders",
		PathPrefix: "/",
		Upstream:   upstream.URL,
		Cache:      &config.RouteCacheConfig{Enabled: true},
	}
	cfg := testConfig(route)
	cfg.Cache.Warming = &config.WarmingConfig{
		Startup:          []config.WarmKey{{Partition: "orders", Key: "/api/orders"}},
		ScheduleInterval: config.Duration(20 * time.Millisecond),
	}

	g := newTestGateway(t, cfg, WithCacheBackend(backend))

	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	t.Cleanup(func() { _ = g.Stop(ctx) })

	// The entry is re-loaded on the schedule, not just at startup
	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_RouteTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)

	route := config.RouteConfig{
		Name:       "orders",
		PathPrefix: "/",
		Upstream:   slow.URL,
		Timeout:    config.Duration(30 * time.Millisecond),
	}

	g := newTestGateway(t, testConfig(route))

	rec := serveGateway(g, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestGateway_OperationalEndpoints(t *testing.T) {
	backend := newBackend(t, "ok")
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	g := newTestGateway(t, testConfig(
		config.RouteConfig{Name: "orders", PathPrefix: "/api", Upstream: backend.URL},
	), WithStore(s))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := serveGateway(g, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestGateway_InvalidUpstreamRejected(t *testing.T) {
	_, err := New(testConfig(
		config.RouteConfig{Name: "orders", PathPrefix: "/api", Upstream: "not-a-url"},
	))
	assert.Error(t, err)
}

func TestGateway_StartAndStop(t *testing.T) {
	backend := newBackend(t, `{"ok":true}`)

	g := newTestGateway(t, testConfig(
		config.RouteConfig{Name: "orders", PathPrefix: "/", Upstream: backend.URL},
	))

	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	assert.Equal(t, StateRunning, g.State())

	// Starting twice is rejected
	assert.Error(t, g.Start(ctx))

	resp, err := http.Get("http://" + g.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(body))

	require.NoError(t, g.Stop(ctx))
	assert.Equal(t, StateStopped, g.State())
	assert.Error(t, g.Stop(ctx))
}
