// Package timeout applies upstream deadlines to proxied requests.
//
// The deadline travels through the request context, so the proxy
// transport observes it and reports expiry as a gateway timeout.
package timeout

import (
	"context"
	"net/http"
	"time"
)

// DefaultUpstreamTimeout is used when a route enables a timeout
// without naming one.
const DefaultUpstreamTimeout = 30 * time.Second

// Handler wraps downstream handlers with a per-request deadline. A
// non-positive duration disables the deadline.
func Handler(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
