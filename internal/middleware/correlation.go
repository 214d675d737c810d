package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/edgegate/edgegate/internal/observability"
)

// Correlation returns a middleware that attaches a correlation ID to
// each request. An inbound X-Correlation-ID is echoed back unchanged;
// otherwise a new UUID is generated. The ID is stored in the request
// context and set on the response.
func Correlation() func(http.Handler) http.Handler {
	return CorrelationWithGenerator(func() string {
		return uuid.New().String()
	})
}

// CorrelationWithGenerator returns a correlation middleware that uses a
// custom ID generator.
func CorrelationWithGenerator(generator func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(HeaderXCorrelationID)
			if correlationID == "" {
				correlationID = generator()
			}

			ctx := observability.ContextWithCorrelationID(r.Context(), correlationID)
			r = r.WithContext(ctx)

			w.Header().Set(HeaderXCorrelationID, correlationID)

			next.ServeHTTP(w, r)
		})
	}
}
