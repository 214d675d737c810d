package security

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/edgegate/edgegate/internal/observability"
)

// HeadersMiddleware adds security headers to HTTP responses.
type HeadersMiddleware struct {
	config  *Config
	logger  observability.Logger
	metrics *Metrics
}

// HeadersMiddlewareOption is a functional option for the headers middleware.
type HeadersMiddlewareOption func(*HeadersMiddleware)

// WithHeadersLogger sets the logger.
func WithHeadersLogger(logger observability.Logger) HeadersMiddlewareOption {
	return func(m *HeadersMiddleware) {
		m.logger = logger
	}
}

// WithHeadersMetrics sets the metrics.
func WithHeadersMetrics(metrics *Metrics) HeadersMiddlewareOption {
	return func(m *HeadersMiddleware) {
		m.metrics = metrics
	}
}

// NewHeadersMiddleware creates a new headers middleware.
func NewHeadersMiddleware(config *Config, opts ...HeadersMiddlewareOption) *HeadersMiddleware {
	if config == nil {
		config = DefaultConfig()
	}

	m := &HeadersMiddleware{
		config: config,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.metrics == nil {
		m.metrics = GetSecurityMetrics()
	}

	return m
}

// Handler returns an HTTP middleware that adds security headers.
func (m *HeadersMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.addSecurityHeaders(w, r)

			// Header removal has to happen after the upstream response
			// headers are set, right before the status line is written.
			wrapped := &headerRemovingResponseWriter{
				ResponseWriter: w,
				removeHeaders:  m.headersToRemove(),
			}

			next.ServeHTTP(wrapped, r)
		})
	}
}

func (m *HeadersMiddleware) addSecurityHeaders(w http.ResponseWriter, r *http.Request) {
	if !m.config.Enabled {
		return
	}

	if m.config.IsHeadersEnabled() {
		m.addBasicSecurityHeaders(w)
	}

	// HSTS is only meaningful over HTTPS
	if m.config.IsHSTSEnabled() && isSecureRequest(r) {
		m.addHSTSHeader(w)
	}

	if m.config.ReferrerPolicy != "" {
		w.Header().Set("Referrer-Policy", m.config.ReferrerPolicy)
		m.metrics.RecordHeaderApplied("Referrer-Policy")
	}
}

func (m *HeadersMiddleware) addBasicSecurityHeaders(w http.ResponseWriter) {
	headers := m.config.Headers

	if headers.XFrameOptions != "" {
		w.Header().Set("X-Frame-Options", headers.XFrameOptions)
		m.metrics.RecordHeaderApplied("X-Frame-Options")
	}

	if headers.XContentTypeOptions != "" {
		w.Header().Set("X-Content-Type-Options", headers.XContentTypeOptions)
		m.metrics.RecordHeaderApplied("X-Content-Type-Options")
	}

	if headers.XXSSProtection != "" {
		w.Header().Set("X-XSS-Protection", headers.XXSSProtection)
		m.metrics.RecordHeaderApplied("X-XSS-Protection")
	}

	for name, value := range headers.CustomHeaders {
		w.Header().Set(name, value)
	}
}

func (m *HeadersMiddleware) addHSTSHeader(w http.ResponseWriter) {
	hsts := m.config.HSTS

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("max-age=%d", hsts.MaxAge))

	if hsts.IncludeSubDomains {
		builder.WriteString("; includeSubDomains")
	}

	if hsts.Preload {
		builder.WriteString("; preload")
	}

	w.Header().Set("Strict-Transport-Security", builder.String())
	m.metrics.RecordHSTSApplied()
}

func (m *HeadersMiddleware) headersToRemove() []string {
	if m.config.Headers == nil {
		return nil
	}
	return m.config.Headers.RemoveHeaders
}

// isSecureRequest checks if the request is over HTTPS, directly or via
// a terminating proxy.
func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}

	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" {
		return true
	}

	return r.URL.Scheme == "https"
}

// headerRemovingResponseWriter wraps http.ResponseWriter to remove
// specified headers before the response is committed.
type headerRemovingResponseWriter struct {
	http.ResponseWriter
	removeHeaders []string
	wroteHeader   bool
}

func (w *headerRemovingResponseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		for _, header := range w.removeHeaders {
			w.ResponseWriter.Header().Del(header)
		}
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *headerRemovingResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter.
func (w *headerRemovingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
