package middleware

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/edgegate/edgegate/internal/audit"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/observability"
	"github.com/edgegate/edgegate/internal/ratelimit"
	"github.com/edgegate/edgegate/internal/store"
	"github.com/edgegate/edgegate/internal/util"
)

// Local fallback limiter configuration constants.
const (
	// DefaultClientTTL is the default TTL for per-client fallback entries.
	DefaultClientTTL = 10 * time.Minute

	// MinCleanupInterval is the minimum interval for cleanup operations.
	MinCleanupInterval = 10 * time.Second

	// MaxCleanupInterval is the maximum interval for cleanup operations.
	MaxCleanupInterval = time.Minute
)

// RateLimitMiddleware applies the distributed rate limiter to requests.
// Quotas are scaled by client role before the limiter is consulted, so
// a multiplier change never requires resetting counters. When the
// counter store is unreachable the middleware fails open through a
// local in-process limiter and marks the decision degraded.
type RateLimitMiddleware struct {
	scope      string
	byUser     bool
	base       *ratelimit.Config
	store      store.Store
	roles      *ratelimit.RoleTable
	logger     observability.Logger
	limiterLog *zap.Logger
	recorder   *audit.Recorder

	mu       sync.RWMutex
	limiters map[string]ratelimit.Limiter

	fallback *LocalRateLimiter
}

// RateLimitMiddlewareOption is a functional option for the middleware.
type RateLimitMiddlewareOption func(*RateLimitMiddleware)

// WithRateLimitLogger sets the logger.
func WithRateLimitLogger(logger observability.Logger) RateLimitMiddlewareOption {
	return func(m *RateLimitMiddleware) {
		m.logger = logger
	}
}

// WithRateLimitZapLogger sets the zap logger handed to limiter
// instances.
func WithRateLimitZapLogger(logger *zap.Logger) RateLimitMiddlewareOption {
	return func(m *RateLimitMiddleware) {
		m.limiterLog = logger
	}
}

// WithRateLimitRecorder sets the audit recorder for decisions.
func WithRateLimitRecorder(recorder *audit.Recorder) RateLimitMiddlewareOption {
	return func(m *RateLimitMiddleware) {
		m.recorder = recorder
	}
}

// NewRateLimitMiddleware creates a rate-limit middleware for the given
// scope (typically the route name) from a resolved policy.
func NewRateLimitMiddleware(
	scope string,
	policy *config.RateLimitPolicy,
	s store.Store,
	roles *ratelimit.RoleTable,
	opts ...RateLimitMiddlewareOption,
) (*RateLimitMiddleware, error) {
	base := &ratelimit.Config{
		Algorithm: ratelimit.Algorithm(policy.Algorithm),
		Requests:  policy.Requests,
		Window:    policy.Window.Duration(),
		Burst:     policy.Burst,
	}
	if err := ratelimit.ValidateConfig(base); err != nil {
		return nil, err
	}

	if roles == nil {
		roles = ratelimit.DefaultRoleTable()
	}

	m := &RateLimitMiddleware{
		scope:      scope,
		byUser:     policy.ByUser,
		base:       base,
		store:      s,
		roles:      roles,
		logger:     observability.NopLogger(),
		limiterLog: zap.NewNop(),
		limiters:   make(map[string]ratelimit.Limiter),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.fallback = NewLocalRateLimiter(base, WithLocalRateLimiterLogger(m.logger))
	m.fallback.StartAutoCleanup()

	return m, nil
}

// ReplaceRoles swaps the role multiplier table and drops the cached
// per-role limiters so new multipliers take effect immediately.
func (m *RateLimitMiddleware) ReplaceRoles(multipliers map[string]float64) {
	m.roles.Replace(multipliers)

	m.mu.Lock()
	old := m.limiters
	m.limiters = make(map[string]ratelimit.Limiter)
	m.mu.Unlock()

	closeLimiters(old)
}

// closeLimiters releases limiters that carry background goroutines or
// health checks.
func closeLimiters(limiters map[string]ratelimit.Limiter) {
	for _, l := range limiters {
		if closer, ok := l.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}

// limiterFor returns the limiter for the given role, creating it from
// the role-scaled config on first use.
func (m *RateLimitMiddleware) limiterFor(role string) (ratelimit.Limiter, error) {
	m.mu.RLock()
	l, ok := m.limiters[role]
	m.mu.RUnlock()
	if ok {
		return l, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok = m.limiters[role]; ok {
		return l, nil
	}

	scaled := ratelimit.ScaledConfig(m.base, m.roles, role)
	l, err := ratelimit.New(scaled, m.store, m.limiterLog)
	if err != nil {
		return nil, err
	}
	m.limiters[role] = l
	return l, nil
}

// identify resolves the rate-limit identifier for the request.
func (m *RateLimitMiddleware) identify(r *http.Request) string {
	if m.byUser {
		if subject := r.Header.Get(HeaderXClientSubject); subject != "" {
			return ratelimit.UserIdentifier(subject)
		}
	}
	return ratelimit.IPIdentifier(getClientIP(r))
}

// Handler returns the HTTP middleware.
func (m *RateLimitMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := m.identify(r)
			role := r.Header.Get(HeaderXClientRole)

			ctx := observability.ContextWithIdentifier(r.Context(), identifier)
			r = r.WithContext(ctx)

			limiter, err := m.limiterFor(role)
			if err != nil {
				m.degraded(w, r, next, identifier, err)
				return
			}

			key := ratelimit.Key(m.scope, identifier)
			result, err := limiter.Allow(ctx, key)
			if err != nil {
				m.degraded(w, r, next, identifier, err)
				return
			}

			setRateLimitHeaders(w, result)
			m.metric(r, audit.MetricRequestsTotal)

			if !result.Allowed {
				m.reject(w, r, identifier, role, result)
				return
			}

			GetMiddlewareMetrics().rateLimitAllowed.WithLabelValues(m.routeLabel(r)).Inc()
			m.record(r, audit.DecisionEvent(true, identifier, m.scope).
				WithRole(role).
				WithRemaining(int64(result.Remaining)))

			next.ServeHTTP(w, r)
		})
	}
}

// degraded handles a store failure: the decision falls back to the
// local in-process limiter and the request is allowed with a warning
// unless the fallback itself rejects it.
func (m *RateLimitMiddleware) degraded(
	w http.ResponseWriter,
	r *http.Request,
	next http.Handler,
	identifier string,
	cause error,
) {
	m.logger.Warn("counter store unavailable, serving in degraded mode",
		observability.String("scope", m.scope),
		observability.String("identifier", identifier),
		observability.Error(cause),
	)
	GetMiddlewareMetrics().rateLimitDegraded.WithLabelValues(m.routeLabel(r)).Inc()
	m.metric(r, audit.MetricRequestsTotal)

	if !m.fallback.Allow(identifier) {
		role := r.Header.Get(HeaderXClientRole)
		setRateLimitHeaders(w, &ratelimit.Result{
			Limit:      m.roles.ScaleLimit(m.base.Requests, role),
			Remaining:  0,
			ResetAfter: m.base.Window,
		})
		w.Header().Set(HeaderContentType, ContentTypeJSON)
		w.Header().Set(HeaderRetryAfter, "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, ErrRateLimitExceeded)

		m.metric(r, audit.MetricRequestsBlocked)
		m.metric(r, audit.MetricRateLimitHit)
		m.record(r, audit.DecisionEvent(false, identifier, m.scope).
			WithReason("local fallback limit exceeded"))
		return
	}

	m.record(r, audit.DegradedDecisionEvent(identifier, m.scope, cause.Error()))
	next.ServeHTTP(w, r)
}

func (m *RateLimitMiddleware) reject(
	w http.ResponseWriter,
	r *http.Request,
	identifier, role string,
	result *ratelimit.Result,
) {
	m.logger.Warn("rate limit exceeded",
		observability.String("scope", m.scope),
		observability.String("identifier", identifier),
		observability.String("path", r.URL.Path),
	)
	GetMiddlewareMetrics().rateLimitRejected.WithLabelValues(m.routeLabel(r)).Inc()

	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.Header().Set(HeaderRetryAfter, retryAfterSeconds(result.RetryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = io.WriteString(w, ErrRateLimitExceeded)

	m.metric(r, audit.MetricRequestsBlocked)
	m.metric(r, audit.MetricRateLimitHit)
	m.record(r, audit.DecisionEvent(false, identifier, m.scope).
		WithRole(role).
		WithRemaining(int64(result.Remaining)))
}

// metric bumps a per-scope operational counter in the shared store,
// best-effort.
func (m *RateLimitMiddleware) metric(r *http.Request, name string) {
	if m.recorder == nil {
		return
	}
	m.recorder.IncrementMetric(r.Context(), m.scope, name)
}

func (m *RateLimitMiddleware) record(r *http.Request, event *audit.Event) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(r.Context(), event)
}

func (m *RateLimitMiddleware) routeLabel(r *http.Request) string {
	if route := util.RouteFromContext(r.Context()); route != "" {
		return route
	}
	if m.scope != "" {
		return m.scope
	}
	return unknownRoute
}

// Close stops the fallback limiter cleanup goroutine and releases the
// cached per-role limiters.
func (m *RateLimitMiddleware) Close() error {
	m.fallback.Stop()

	m.mu.Lock()
	old := m.limiters
	m.limiters = make(map[string]ratelimit.Limiter)
	m.mu.Unlock()

	closeLimiters(old)
	return nil
}

// setRateLimitHeaders writes the quota headers for an evaluated
// decision, allowed or not.
func setRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	w.Header().Set(HeaderXRateLimitLimit, strconv.Itoa(result.Limit))
	w.Header().Set(HeaderXRateLimitRemaining, strconv.Itoa(result.Remaining))
	w.Header().Set(HeaderXRateLimitReset, ceilSeconds(result.ResetAfter))
}

func retryAfterSeconds(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	return ceilSeconds(d)
}

func ceilSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 0 {
		secs = 0
	}
	return strconv.Itoa(secs)
}

// clientEntry holds a limiter and its last access time for TTL-based
// cleanup.
type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LocalRateLimiter is the in-process per-client limiter used when the
// counter store is unreachable. It approximates the configured quota
// with a token bucket per identifier.
type LocalRateLimiter struct {
	rate      rate.Limit
	burst     int
	clients   map[string]*clientEntry
	mu        sync.Mutex
	logger    observability.Logger
	clientTTL time.Duration
	stopCh    chan struct{}
	stopped   bool
}

// LocalRateLimiterOption is a functional option for the local limiter.
type LocalRateLimiterOption func(*LocalRateLimiter)

// WithLocalRateLimiterLogger sets the logger.
func WithLocalRateLimiterLogger(logger observability.Logger) LocalRateLimiterOption {
	return func(rl *LocalRateLimiter) {
		rl.logger = logger
	}
}

// NewLocalRateLimiter creates a local limiter matching the given
// config: the refill rate is requests per window and the burst is the
// effective burst size.
func NewLocalRateLimiter(cfg *ratelimit.Config, opts ...LocalRateLimiterOption) *LocalRateLimiter {
	perSecond := float64(cfg.Requests) / cfg.Window.Seconds()

	rl := &LocalRateLimiter{
		rate:      rate.Limit(perSecond),
		burst:     cfg.EffectiveBurst(),
		clients:   make(map[string]*clientEntry),
		logger:    observability.NopLogger(),
		clientTTL: DefaultClientTTL,
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(rl)
	}

	return rl
}

// Allow checks if a request is allowed for the given identifier.
func (rl *LocalRateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	entry, exists := rl.clients[identifier]
	if !exists {
		entry = &clientEntry{
			limiter:    rate.NewLimiter(rl.rate, rl.burst),
			lastAccess: now,
		}
		rl.clients[identifier] = entry
	} else {
		entry.lastAccess = now
	}
	limiter := entry.limiter
	rl.mu.Unlock()

	// Allow() is thread-safe on the limiter itself
	return limiter.Allow()
}

// CleanupOldClients removes entries that have not been accessed within
// the TTL period.
func (rl *LocalRateLimiter) CleanupOldClients(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	for identifier, entry := range rl.clients {
		if now.Sub(entry.lastAccess) > maxAge {
			delete(rl.clients, identifier)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("cleaned up expired fallback limiter entries",
			observability.Int("removed", removed),
			observability.Int("remaining", len(rl.clients)),
		)
	}
}

// StartAutoCleanup starts TTL-based cleanup in a background goroutine.
func (rl *LocalRateLimiter) StartAutoCleanup() {
	rl.mu.Lock()
	if rl.stopped {
		rl.mu.Unlock()
		return
	}
	rl.mu.Unlock()

	go func() {
		cleanupInterval := rl.clientTTL / 2
		if cleanupInterval > MaxCleanupInterval {
			cleanupInterval = MaxCleanupInterval
		}
		if cleanupInterval < MinCleanupInterval {
			cleanupInterval = MinCleanupInterval
		}

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.CleanupOldClients(rl.clientTTL)
			case <-rl.stopCh:
				return
			}
		}
	}()
}

// Stop stops the cleanup goroutine.
func (rl *LocalRateLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.stopped {
		rl.stopped = true
		close(rl.stopCh)
	}
}

// SetClientTTL sets the TTL for client entries.
func (rl *LocalRateLimiter) SetClientTTL(ttl time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.clientTTL = ttl
}
