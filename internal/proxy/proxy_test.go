package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUpstream(t *testing.T, target string, opts ...UpstreamOption) *Upstream {
	t.Helper()

	opts = append(opts, WithUpstreamMetrics(NewMetricsWithRegisterer(prometheus.NewRegistry())))
	u, err := NewUpstream("orders", target, opts...)
	require.NoError(t, err)
	return u
}

func TestNewUpstream_RejectsInvalidTargets(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"empty", ""},
		{"no scheme", "backend:9000"},
		{"bad scheme", "ftp://backend:9000"},
		{"no host", "http://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUpstream("orders", tt.target)
			assert.ErrorIs(t, err, ErrInvalidTarget)
		})
	}
}

func TestUpstream_ForwardsRequestAndResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders", r.URL.Path)
		assert.Equal(t, "page=2", r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"o-1"}`))
	}))
	defer backend.Close()

	u := newTestUpstream(t, backend.URL)

	rec := httptest.NewRecorder()
	u.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders?page=2", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id":"o-1"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestUpstream_SetsForwardedHeaders(t *testing.T) {
	var got http.Header
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	u := newTestUpstream(t, backend.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.RemoteAddr = "203.0.113.7:4312"
	req.Host = "gateway.example.com"
	u.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", got.Get("X-Forwarded-For"))
	assert.Equal(t, "http", got.Get("X-Forwarded-Proto"))
	assert.Equal(t, "gateway.example.com", got.Get("X-Forwarded-Host"))
}

func TestUpstream_StripsHopHeaders(t *testing.T) {
	var got http.Header
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	u := newTestUpstream(t, backend.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Proxy-Connection", "keep-alive")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("X-Request-Source", "test")
	u.ServeHTTP(httptest.NewRecorder(), req)

	assert.Empty(t, got.Get("Proxy-Connection"))
	assert.Empty(t, got.Get("Keep-Alive"))
	assert.Equal(t, "test", got.Get("X-Request-Source"))
}

func TestUpstream_StripPrefix(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	u := newTestUpstream(t, backend.URL, WithStripPrefix("/api/orders"))

	u.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))
	assert.Equal(t, "/42", gotPath)

	u.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, "/", gotPath)
}

func TestUpstream_PassesUpstreamErrorsUnmodified(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer backend.Close()

	u := newTestUpstream(t, backend.URL)

	rec := httptest.NewRecorder()
	u.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	// A response from a reachable upstream is not rewritten to 502
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "maintenance", rec.Body.String())
}

func TestUpstream_BadGatewayWhenUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	backend.Close() // nothing is listening anymore

	u := newTestUpstream(t, backend.URL)

	rec := httptest.NewRecorder()
	u.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"bad gateway","message":"failed to reach upstream"}`, rec.Body.String())
}

func TestUpstream_GatewayTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	u := newTestUpstream(t, backend.URL, WithTransport(&http.Transport{
		ResponseHeaderTimeout: 20 * time.Millisecond,
	}))

	rec := httptest.NewRecorder()
	u.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.JSONEq(t, `{"error":"gateway timeout","message":"upstream did not respond in time"}`, rec.Body.String())
}

func TestUpstreamError(t *testing.T) {
	cause := ErrUpstreamUnavailable
	err := NewUpstreamError("orders", "http://backend:9000", cause)

	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.True(t, IsUpstreamError(err))
	assert.Contains(t, err.Error(), "route=orders")
	assert.Contains(t, err.Error(), "http://backend:9000")

	assert.False(t, IsUpstreamError(cause))
}
