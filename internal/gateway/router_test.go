package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/util"
)

func namedRoute(name, prefix string) *Route {
	return &Route{
		Config: config.RouteConfig{Name: name, PathPrefix: prefix},
		handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Route", util.RouteFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}),
	}
}

func TestRouter_LongestPrefixWins(t *testing.T) {
	router := NewRouter([]*Route{
		namedRoute("api", "/api"),
		namedRoute("orders", "/api/orders"),
		namedRoute("root", "/"),
	}, nil)

	tests := []struct {
		path string
		want string
	}{
		{"/api/orders", "orders"},
		{"/api/orders/42", "orders"},
		{"/api/users", "api"},
		{"/api", "api"},
		{"/health-page", "root"},
		{"/", "root"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			route := router.Match(tt.path)
			if assert.NotNil(t, route) {
				assert.Equal(t, tt.want, route.Name())
			}
		})
	}
}

func TestRouter_MatchesOnSegmentBoundaries(t *testing.T) {
	router := NewRouter([]*Route{namedRoute("api", "/api")}, nil)

	assert.Nil(t, router.Match("/apiv2/orders"))
	assert.NotNil(t, router.Match("/api/orders"))
	assert.NotNil(t, router.Match("/api"))
}

func TestRouter_TrailingSlashPrefix(t *testing.T) {
	router := NewRouter([]*Route{namedRoute("api", "/api/")}, nil)

	assert.NotNil(t, router.Match("/api/orders"))
	assert.NotNil(t, router.Match("/api"))
	assert.Nil(t, router.Match("/apiv2"))
}

func TestRouter_SetsRouteInContext(t *testing.T) {
	router := NewRouter([]*Route{namedRoute("orders", "/api/orders")}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "orders", rec.Header().Get("X-Route"))
}

func TestRouter_NotFound(t *testing.T) {
	router := NewRouter([]*Route{namedRoute("orders", "/api/orders")}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found","message":"no matching route"}`, rec.Body.String())
}
