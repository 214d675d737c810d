package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgegate/edgegate/internal/audit"
	"github.com/edgegate/edgegate/internal/cache"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/health"
	"github.com/edgegate/edgegate/internal/middleware"
	"github.com/edgegate/edgegate/internal/observability"
	"github.com/edgegate/edgegate/internal/proxy"
	"github.com/edgegate/edgegate/internal/ratelimit"
	"github.com/edgegate/edgegate/internal/security"
	"github.com/edgegate/edgegate/internal/store"
	"github.com/edgegate/edgegate/internal/timeout"
)

// State represents the gateway lifecycle state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// responseCacheDomain is the partition domain all route coordinators
// live under. Routes are separated by partition key.
const responseCacheDomain = "responses"

// Gateway wires the route table, middleware chain, and operational
// endpoints into one HTTP handler and runs the server for it.
type Gateway struct {
	cfg      *config.Config
	logger   observability.Logger
	store    store.Store
	backend  cache.Cache
	recorder *audit.Recorder
	roles    *ratelimit.RoleTable
	version  string

	router  *Router
	handler http.Handler
	probes  *health.Handler

	state     atomic.Int32
	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	warmStops []func()

	shutdownTimeout time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithStore sets the shared counter store used for rate limiting and
// audit counters.
func WithStore(s store.Store) Option {
	return func(g *Gateway) {
		g.store = s
	}
}

// WithCacheBackend sets the response cache backend.
func WithCacheBackend(backend cache.Cache) Option {
	return func(g *Gateway) {
		g.backend = backend
	}
}

// WithRecorder sets the audit recorder.
func WithRecorder(recorder *audit.Recorder) Option {
	return func(g *Gateway) {
		g.recorder = recorder
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// New builds a gateway from the given configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	g := &Gateway{
		cfg:             cfg,
		logger:          observability.NopLogger(),
		version:         "dev",
		shutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}
	if g.shutdownTimeout <= 0 {
		g.shutdownTimeout = config.DefaultShutdownTimeout
	}

	for _, opt := range opts {
		opt(g)
	}

	g.roles = ratelimit.NewRoleTable(cfg.Roles)

	routes, err := g.buildRoutes()
	if err != nil {
		return nil, err
	}
	g.router = NewRouter(routes, g.logger)

	g.probes = health.NewHandler(g.version, health.WithHandlerLogger(g.logger))
	if g.store != nil {
		g.probes.AddCheck(health.StoreCheck("store", g.store))
	}
	if g.backend != nil {
		g.probes.AddCheck(health.CacheCheck("cache", g.backend))
	}

	g.handler = g.buildHandler()
	g.state.Store(int32(StateStopped))

	return g, nil
}

// buildRoutes compiles the route table. Each route gets its own
// upstream proxy, wrapped by the route's cache and rate-limit
// middleware.
func (g *Gateway) buildRoutes() ([]*Route, error) {
	routes := make([]*Route, 0, len(g.cfg.Routes))

	for _, rc := range g.cfg.Routes {
		upstream, err := proxy.NewUpstream(rc.Name, rc.Upstream,
			proxy.WithUpstreamLogger(g.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.Name, err)
		}

		route := &Route{Config: rc}
		handler := timeout.Handler(rc.Timeout.Duration())(upstream)

		if rc.Cache != nil && rc.Cache.Enabled && g.backend != nil {
			coordinator, err := g.buildCoordinator(&rc)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", rc.Name, err)
			}
			route.coordinator = coordinator

			// The warmer replays requests through the pre-cache handler
			// chain, so a warmed entry is exactly what a miss would store.
			warmer := middleware.NewCacheWarmer(coordinator, handler, g.routeTTL(&rc),
				middleware.WithCacheWarmerLogger(g.logger),
			)
			route.warmer = warmer

			cm := middleware.NewCacheMiddleware(coordinator,
				middleware.WithCacheLogger(g.logger),
				middleware.WithCacheTTL(g.routeTTL(&rc)),
				middleware.WithHonorCacheControl(g.cfg.Cache.HonorCacheControl),
				middleware.WithCacheKeyObserver(warmer.Observe),
			)
			handler = cm.Handler()(handler)
		}

		policy := rc.EffectivePolicy(&g.cfg.RateLimit)
		if policy.IsEnabled() {
			limiter, err := middleware.NewRateLimitMiddleware(rc.Name, policy, g.store, g.roles,
				middleware.WithRateLimitLogger(g.logger),
				middleware.WithRateLimitRecorder(g.recorder),
			)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", rc.Name, err)
			}
			route.limiter = limiter
			handler = limiter.Handler()(handler)
		}

		route.handler = handler
		routes = append(routes, route)
	}

	return routes, nil
}

func (g *Gateway) buildCoordinator(rc *config.RouteConfig) (*cache.Coordinator, error) {
	partition := cache.Partition{
		Domain: responseCacheDomain,
		Key:    rc.CachePartition(),
	}
	return cache.NewCoordinator(g.backend, partition, g.routeTTL(rc),
		cache.WithCoordinatorLogger(g.logger),
	)
}

func (g *Gateway) routeTTL(rc *config.RouteConfig) time.Duration {
	if rc.Cache != nil && rc.Cache.TTL.Duration() > 0 {
		return rc.Cache.TTL.Duration()
	}
	if ttl := g.cfg.Cache.TTL.Duration(); ttl > 0 {
		return ttl
	}
	return config.DefaultCacheTTL
}

// buildHandler assembles the shared middleware chain around the route
// table and operational endpoints.
func (g *Gateway) buildHandler() http.Handler {
	mux := http.NewServeMux()
	g.probes.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", g.router)

	var handler http.Handler = mux

	if g.cfg.Security.CORS != nil {
		handler = middleware.CORSFromConfig(g.cfg.Security.CORS)(handler)
	}
	if g.cfg.Security.HeadersEnabled {
		headers := security.NewHeadersMiddleware(nil,
			security.WithHeadersLogger(g.logger),
		)
		handler = headers.Handler()(handler)
	}

	handler = middleware.Logging(g.logger)(handler)
	handler = middleware.Correlation()(handler)
	handler = middleware.Recovery(g.logger)(handler)

	return handler
}

// Handler returns the assembled HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Router returns the compiled route table.
func (g *Gateway) Router() *Router {
	return g.router
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// Addr returns the bound listen address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Start binds the listener and serves in a background goroutine.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	// Startup warming runs before the listener opens so warmed routes
	// never serve their first requests cold.
	g.warmCaches(ctx)

	addr := g.cfg.Server.ListenAddress
	if addr == "" {
		addr = config.DefaultListenAddress
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           g.handler,
		ReadTimeout:       g.cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:      g.cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:       g.cfg.Server.IdleTimeout.Duration(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.mu.Lock()
	g.server = server
	g.listener = listener
	g.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server failed", observability.Error(err))
		}
	}()

	g.state.Store(int32(StateRunning))
	g.logger.Info("gateway started",
		observability.String("address", listener.Addr().String()),
		observability.Int("routes", len(g.router.Routes())),
	)

	return nil
}

// Stop drains the server and releases route resources.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("gateway is not running")
	}
	defer g.state.Store(int32(StateStopped))

	g.logger.Info("stopping gateway")

	shutdownCtx, cancel := context.WithTimeout(ctx, g.shutdownTimeout)
	defer cancel()

	g.mu.RLock()
	server := g.server
	g.mu.RUnlock()

	var firstErr error
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("server shutdown: %w", err)
		}
	}

	g.closeRoutes()

	return firstErr
}

func (g *Gateway) closeRoutes() {
	g.mu.Lock()
	stops := g.warmStops
	g.warmStops = nil
	g.mu.Unlock()
	for _, stop := range stops {
		stop()
	}

	for _, route := range g.router.Routes() {
		if route.limiter != nil {
			_ = route.limiter.Close()
		}
	}
}

// warmCaches runs startup warming for every cached route with warm keys
// configured and starts the scheduled and predictive re-warm loops.
func (g *Gateway) warmCaches(ctx context.Context) {
	warming := g.cfg.Cache.Warming
	if warming == nil {
		return
	}

	interval := warming.ScheduleInterval.Duration()
	var stops []func()

	for _, route := range g.router.Routes() {
		if route.warmer == nil {
			continue
		}

		uris := warmKeysFor(&route.Config, warming.Startup)
		if len(uris) > 0 {
			report, err := route.warmer.WarmStartup(ctx, uris)
			if err != nil {
				g.logger.Warn("startup cache warming failed",
					observability.String("route", route.Name()),
					observability.Error(err),
				)
			} else {
				g.logger.Info("startup cache warming completed",
					observability.String("route", route.Name()),
					observability.Int("requested", len(report.Requested)),
					observability.Int("populated", len(report.Populated)),
					observability.Int("failed", len(report.Failed)),
				)
			}

			if interval > 0 {
				stops = append(stops, route.warmer.Schedule(ctx, interval, uris))
			}
		}

		if warming.Predictive && interval > 0 {
			stops = append(stops, route.warmer.SchedulePredictive(ctx, interval, 0))
		}
	}

	g.mu.Lock()
	g.warmStops = append(g.warmStops, stops...)
	g.mu.Unlock()
}

// warmKeysFor selects the startup warm keys addressed to the route's
// cache partition.
func warmKeysFor(rc *config.RouteConfig, keys []config.WarmKey) []string {
	var uris []string
	for _, wk := range keys {
		if wk.Partition == rc.CachePartition() {
			uris = append(uris, wk.Key)
		}
	}
	return uris
}

// Reload applies a new configuration to the running gateway. Only the
// role multiplier table is swapped; route, server, and store changes
// require a restart.
func (g *Gateway) Reload(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}

	for _, route := range g.router.Routes() {
		if route.limiter != nil {
			route.limiter.ReplaceRoles(cfg.Roles)
		}
	}

	g.logger.Info("configuration reloaded",
		observability.Int("roles", len(cfg.Roles)),
	)

	if g.recorder != nil {
		g.recorder.Record(ctx, audit.NewEvent(audit.ActionReload, audit.OutcomeSuccess).
			WithScope("gateway").
			WithMetadata("roles", len(cfg.Roles)))
	}
}
