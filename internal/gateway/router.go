package gateway

import (
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/edgegate/edgegate/internal/cache"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/middleware"
	"github.com/edgegate/edgegate/internal/observability"
	"github.com/edgegate/edgegate/internal/util"
)

// Route is one compiled entry of the route table.
type Route struct {
	Config  config.RouteConfig
	handler http.Handler

	limiter     *middleware.RateLimitMiddleware
	coordinator *cache.Coordinator
	warmer      *middleware.CacheWarmer
}

// Name returns the route name.
func (r *Route) Name() string {
	return r.Config.Name
}

// Coordinator returns the route's cache coordinator, or nil when the
// route is uncached.
func (r *Route) Coordinator() *cache.Coordinator {
	return r.coordinator
}

// Router matches requests against the route table by path prefix. The
// longest matching prefix wins. A prefix matches on segment boundaries
// only: "/api" matches "/api" and "/api/orders" but not "/apiv2".
type Router struct {
	routes   []*Route
	logger   observability.Logger
	notFound http.Handler
}

// NewRouter compiles a route table. Routes are ordered by descending
// prefix length so the first match is the longest one.
func NewRouter(routes []*Route, logger observability.Logger) *Router {
	if logger == nil {
		logger = observability.NopLogger()
	}

	sorted := make([]*Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Config.PathPrefix) > len(sorted[j].Config.PathPrefix)
	})

	r := &Router{
		routes: sorted,
		logger: logger,
	}
	r.notFound = http.HandlerFunc(r.handleNotFound)
	return r
}

// Match returns the route for the given path, or nil when no prefix
// matches.
func (r *Router) Match(path string) *Route {
	for _, route := range r.routes {
		if prefixMatches(path, route.Config.PathPrefix) {
			return route
		}
	}
	return nil
}

// Routes returns the compiled routes in match order.
func (r *Router) Routes() []*Route {
	return r.routes
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	route := r.Match(req.URL.Path)
	if route == nil {
		r.notFound.ServeHTTP(w, req)
		return
	}

	ctx := util.ContextWithRoute(req.Context(), route.Config.Name)
	route.handler.ServeHTTP(w, req.WithContext(ctx))
}

func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	r.logger.Debug("no matching route",
		observability.String("path", req.URL.Path),
		observability.String("method", req.Method),
	)

	w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeJSON)
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, `{"error":"not found","message":"no matching route"}`)
}

// prefixMatches reports whether path falls under prefix on a segment
// boundary.
func prefixMatches(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}

	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
