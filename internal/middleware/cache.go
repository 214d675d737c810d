package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/edgegate/edgegate/internal/cache"
	"github.com/edgegate/edgegate/internal/observability"
	"github.com/edgegate/edgegate/internal/util"
)

// maxCacheBodySize is the maximum response body size that will be
// buffered for caching. Responses exceeding this limit are still
// forwarded to the client but are not stored.
const maxCacheBodySize = 10 << 20 // 10MB

// cachedResponse holds a serialized HTTP response for cache storage.
type cachedResponse struct {
	StatusCode int                 `json:"statusCode"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// CacheMiddleware serves GET responses from a partition coordinator
// and stores fresh 2xx responses back into it. Coordinator failures
// never fail the request: on any cache error the request proceeds to
// the upstream.
type CacheMiddleware struct {
	coordinator       *cache.Coordinator
	logger            observability.Logger
	ttl               time.Duration
	honorCacheControl bool
	observeKey        func(key, uri string)
}

// CacheMiddlewareOption is a functional option for the cache middleware.
type CacheMiddlewareOption func(*CacheMiddleware)

// WithCacheLogger sets the logger.
func WithCacheLogger(logger observability.Logger) CacheMiddlewareOption {
	return func(m *CacheMiddleware) {
		m.logger = logger
	}
}

// WithCacheTTL sets the TTL for stored responses. Zero falls through
// to the coordinator default.
func WithCacheTTL(ttl time.Duration) CacheMiddlewareOption {
	return func(m *CacheMiddleware) {
		m.ttl = ttl
	}
}

// WithHonorCacheControl controls whether request Cache-Control
// directives no-store and no-cache bypass the cache.
func WithHonorCacheControl(honor bool) CacheMiddlewareOption {
	return func(m *CacheMiddleware) {
		m.honorCacheControl = honor
	}
}

// WithCacheKeyObserver registers a callback invoked with each cacheable
// request's cache key and URI. Used by the cache warmer to map keys the
// coordinator saw traffic for back to replayable requests.
func WithCacheKeyObserver(observe func(key, uri string)) CacheMiddlewareOption {
	return func(m *CacheMiddleware) {
		m.observeKey = observe
	}
}

// NewCacheMiddleware creates a caching middleware backed by the given
// coordinator.
func NewCacheMiddleware(coordinator *cache.Coordinator, opts ...CacheMiddlewareOption) *CacheMiddleware {
	m := &CacheMiddleware{
		coordinator:       coordinator,
		logger:            observability.NopLogger(),
		honorCacheControl: true,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Handler returns the HTTP middleware. A nil coordinator yields a
// passthrough.
func (m *CacheMiddleware) Handler() func(http.Handler) http.Handler {
	if m.coordinator == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.isCacheable(r) {
				next.ServeHTTP(w, r)
				return
			}

			// Request keys contain the partition separator, so they are
			// hashed before entering the coordinator. Entries are tagged
			// with the request path to keep them invalidatable.
			key := cache.HashKey(cache.RequestKey(r.Method, r.URL.Path, r.URL.Query()))

			if m.observeKey != nil {
				m.observeKey(key, r.URL.RequestURI())
			}

			if m.serveCachedResponse(w, r, key) {
				return
			}

			GetMiddlewareMetrics().cacheServed.WithLabelValues(m.routeLabel(r), "miss").Inc()
			m.captureAndCache(w, r, next, key)
		})
	}
}

// isCacheable returns true if the request is eligible for caching.
func (m *CacheMiddleware) isCacheable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if !m.honorCacheControl {
		return true
	}
	cc := r.Header.Get("Cache-Control")
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "no-cache")
}

// serveCachedResponse attempts to serve a response from cache.
// Returns true if a cached response was served.
func (m *CacheMiddleware) serveCachedResponse(w http.ResponseWriter, r *http.Request, key string) bool {
	lookup, err := m.coordinator.Get(r.Context(), key)
	if err != nil {
		m.logger.Warn("cache lookup failed, bypassing cache",
			observability.String("key", key),
			observability.Error(err),
		)
		return false
	}
	if !lookup.Hit {
		return false
	}

	var cached cachedResponse
	if jsonErr := json.Unmarshal(lookup.Value, &cached); jsonErr != nil {
		m.logger.Debug("cache deserialization failed, treating as miss",
			observability.String("key", key),
		)
		return false
	}

	writeCachedResponse(w, &cached)
	m.logger.Debug("cache hit",
		observability.String("key", key),
		observability.String("path", r.URL.Path),
	)

	GetMiddlewareMetrics().cacheServed.WithLabelValues(m.routeLabel(r), "hit").Inc()
	return true
}

// writeCachedResponse writes a cached response to the ResponseWriter.
func writeCachedResponse(w http.ResponseWriter, cached *cachedResponse) {
	for k, vals := range cached.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderXCache, "HIT")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

// captureAndCache wraps the handler to capture the response and store
// it in the coordinator.
func (m *CacheMiddleware) captureAndCache(
	w http.ResponseWriter,
	r *http.Request,
	next http.Handler,
	key string,
) {
	w.Header().Set(HeaderXCache, "MISS")

	recorder := &cacheResponseRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}

	next.ServeHTTP(recorder, r)

	// Only cache 2xx responses
	if recorder.statusCode < http.StatusOK || recorder.statusCode >= http.StatusMultipleChoices {
		return
	}

	if recorder.bufferExceeded {
		m.logger.Debug("response body exceeded max cache body size, skipping cache",
			observability.String("key", key),
			observability.String("path", r.URL.Path),
		)
		return
	}

	m.storeResponse(r, key, recorder)
}

// storeResponse serializes and stores the captured response.
func (m *CacheMiddleware) storeResponse(
	r *http.Request,
	key string,
	recorder *cacheResponseRecorder,
) {
	cached := cachedResponse{
		StatusCode: recorder.statusCode,
		Headers:    cloneHeaders(recorder.Header()),
		Body:       recorder.body.Bytes(),
	}

	serialized, err := json.Marshal(cached)
	if err != nil {
		return
	}

	if setErr := m.coordinator.Set(r.Context(), key, serialized, m.ttl, r.URL.Path); setErr != nil {
		m.logger.Warn("failed to store response in cache",
			observability.String("key", key),
			observability.Error(setErr),
		)
	} else {
		m.logger.Debug("cached response",
			observability.String("key", key),
			observability.String("path", r.URL.Path),
		)
	}
}

func (m *CacheMiddleware) routeLabel(r *http.Request) string {
	if route := util.RouteFromContext(r.Context()); route != "" {
		return route
	}
	return unknownRoute
}

// cloneHeaders creates a deep copy of HTTP headers.
func cloneHeaders(h http.Header) map[string][]string {
	clone := make(map[string][]string, len(h))
	for k, v := range h {
		vc := make([]string, len(v))
		copy(vc, v)
		clone[k] = vc
	}
	return clone
}

// cacheResponseRecorder captures the response for caching while also
// writing it to the underlying ResponseWriter.
type cacheResponseRecorder struct {
	http.ResponseWriter
	statusCode     int
	body           *bytes.Buffer
	headerWritten  bool
	bufferExceeded bool
}

// WriteHeader captures the status code and forwards it exactly once.
func (r *cacheResponseRecorder) WriteHeader(code int) {
	if !r.headerWritten {
		r.statusCode = code
		r.headerWritten = true
		r.ResponseWriter.WriteHeader(code)
	}
}

// Write captures the body for caching and writes it through to the
// client. If the accumulated body exceeds maxCacheBodySize, buffering
// stops but the data is still forwarded.
func (r *cacheResponseRecorder) Write(b []byte) (int, error) {
	if !r.headerWritten {
		r.statusCode = http.StatusOK
		r.headerWritten = true
		r.ResponseWriter.WriteHeader(http.StatusOK)
	}

	if !r.bufferExceeded {
		if int64(r.body.Len())+int64(len(b)) > maxCacheBodySize {
			r.bufferExceeded = true
			r.body.Reset()
		} else {
			r.body.Write(b)
		}
	}

	return r.ResponseWriter.Write(b)
}

// Flush implements http.Flusher for streaming support.
func (r *cacheResponseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
