package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/cache"
	"github.com/edgegate/edgegate/internal/observability"
)

// maxObservedKeys bounds the key-to-request map fed by live traffic.
// Registered warm keys are never evicted by the cap.
const maxObservedKeys = 4096

// CacheWarmer populates a route's response cache by replaying synthetic
// GET requests through the route's own upstream handler chain, the same
// path a live miss would take minus the cache lookup itself. It installs
// itself as the coordinator's loader, so the coordinator's warming
// strategies all resolve keys through it.
type CacheWarmer struct {
	coordinator *cache.Coordinator
	origin      http.Handler
	ttl         time.Duration
	logger      observability.Logger

	mu       sync.RWMutex
	requests map[string]string // cache key -> request URI
}

// CacheWarmerOption is a functional option for the warmer.
type CacheWarmerOption func(*CacheWarmer)

// WithCacheWarmerLogger sets the logger.
func WithCacheWarmerLogger(logger observability.Logger) CacheWarmerOption {
	return func(cw *CacheWarmer) {
		cw.logger = logger
	}
}

// NewCacheWarmer creates a warmer for the coordinator. The origin handler
// must be the route's handler chain below the cache middleware, so warmed
// responses are exactly what a cache miss would have stored.
func NewCacheWarmer(
	coordinator *cache.Coordinator,
	origin http.Handler,
	ttl time.Duration,
	opts ...CacheWarmerOption,
) *CacheWarmer {
	cw := &CacheWarmer{
		coordinator: coordinator,
		origin:      origin,
		ttl:         ttl,
		logger:      observability.NopLogger(),
		requests:    make(map[string]string),
	}

	for _, opt := range opts {
		opt(cw)
	}

	coordinator.SetLoader(cw.load)
	return cw
}

// Register maps request URIs to their cache keys and returns the keys in
// the same order. URIs may carry a query string.
func (cw *CacheWarmer) Register(uris []string) []string {
	keys := make([]string, 0, len(uris))

	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, uri := range uris {
		key := cacheKeyForURI(uri)
		cw.requests[key] = uri
		keys = append(keys, key)
	}
	return keys
}

// Observe records the key-to-request mapping for a live request, so
// predictive warming can re-load entries the coordinator saw traffic for.
func (cw *CacheWarmer) Observe(key, uri string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if _, ok := cw.requests[key]; ok {
		return
	}
	if len(cw.requests) >= maxObservedKeys {
		return
	}
	cw.requests[key] = uri
}

// WarmStartup populates the given request URIs once.
func (cw *CacheWarmer) WarmStartup(ctx context.Context, uris []string) (*cache.WarmReport, error) {
	keys := cw.Register(uris)
	return cw.coordinator.Warm(ctx, cache.WarmRequest{
		Strategy: cache.WarmStartup,
		Keys:     keys,
	})
}

// Schedule re-warms the given request URIs on a fixed interval until the
// context is cancelled or the returned stop function is called.
func (cw *CacheWarmer) Schedule(
	ctx context.Context, interval time.Duration, uris []string,
) (stop func()) {
	keys := cw.Register(uris)
	return cw.coordinator.ScheduleWarming(ctx, interval, keys)
}

// SchedulePredictive re-warms the most frequently read entries on a fixed
// interval. Keys without an observed request cannot be re-loaded and are
// reported as failed by the coordinator.
func (cw *CacheWarmer) SchedulePredictive(
	ctx context.Context, interval time.Duration, topN int,
) (stop func()) {
	stopCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if _, err := cw.coordinator.Warm(ctx, cache.WarmRequest{
					Strategy: cache.WarmPredictive,
					TopN:     topN,
				}); err != nil && ctx.Err() == nil {
					cw.logger.Warn("predictive cache warming failed",
						observability.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
	}
}

// load resolves a cache key back to its request, replays it against the
// origin handler, and returns the serialized response the cache
// middleware would have stored on a miss.
func (cw *CacheWarmer) load(ctx context.Context, key string) ([]byte, time.Duration, error) {
	cw.mu.RLock()
	uri, ok := cw.requests[key]
	cw.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("no request known for cache key %s", key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, 0, err
	}

	rec := newWarmRecorder()
	cw.origin.ServeHTTP(rec, req)

	if rec.status < http.StatusOK || rec.status >= http.StatusMultipleChoices {
		return nil, 0, fmt.Errorf("upstream returned status %d for %s", rec.status, uri)
	}

	payload, err := json.Marshal(cachedResponse{
		StatusCode: rec.status,
		Headers:    cloneHeaders(rec.header),
		Body:       rec.body.Bytes(),
	})
	if err != nil {
		return nil, 0, err
	}

	return payload, cw.ttl, nil
}

// cacheKeyForURI derives the cache key the cache middleware would use for
// a GET of the given request URI.
func cacheKeyForURI(uri string) string {
	path := uri
	var query url.Values
	if u, err := url.Parse(uri); err == nil {
		path = u.Path
		query = u.Query()
	}
	return cache.HashKey(cache.RequestKey(http.MethodGet, path, query))
}

// warmRecorder captures a replayed response in memory.
type warmRecorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newWarmRecorder() *warmRecorder {
	return &warmRecorder{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

// Header implements http.ResponseWriter.
func (r *warmRecorder) Header() http.Header {
	return r.header
}

// WriteHeader implements http.ResponseWriter.
func (r *warmRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
}

// Write implements http.ResponseWriter.
func (r *warmRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.body.Write(b)
}
