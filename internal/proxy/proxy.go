package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edgegate/edgegate/internal/observability"
)

// hopHeaders are headers that must not be forwarded to the upstream.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream proxies requests for one route to a fixed backend base URL.
type Upstream struct {
	route         string
	target        *url.URL
	stripPrefix   string
	logger        observability.Logger
	metrics       *Metrics
	transport     http.RoundTripper
	flushInterval time.Duration
	reverse       *httputil.ReverseProxy
}

// UpstreamOption is a functional option for configuring an Upstream.
type UpstreamOption func(*Upstream)

// WithUpstreamLogger sets the logger.
func WithUpstreamLogger(logger observability.Logger) UpstreamOption {
	return func(u *Upstream) {
		u.logger = logger
	}
}

// WithTransport sets the transport used for upstream requests.
func WithTransport(transport http.RoundTripper) UpstreamOption {
	return func(u *Upstream) {
		u.transport = transport
	}
}

// WithStripPrefix removes the given path prefix before forwarding.
func WithStripPrefix(prefix string) UpstreamOption {
	return func(u *Upstream) {
		u.stripPrefix = prefix
	}
}

// WithFlushInterval sets the flush interval for streaming responses.
func WithFlushInterval(interval time.Duration) UpstreamOption {
	return func(u *Upstream) {
		u.flushInterval = interval
	}
}

// WithUpstreamMetrics sets the metrics collector.
func WithUpstreamMetrics(metrics *Metrics) UpstreamOption {
	return func(u *Upstream) {
		u.metrics = metrics
	}
}

// NewUpstream creates a reverse proxy for one route. The target must be
// an absolute http or https URL.
func NewUpstream(route, target string, opts ...UpstreamOption) (*Upstream, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidTarget, target, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w %q: scheme must be http or https", ErrInvalidTarget, target)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w %q: missing host", ErrInvalidTarget, target)
	}

	u := &Upstream{
		route:         route,
		target:        parsed,
		logger:        observability.NopLogger(),
		flushInterval: -1, // Immediate flush
	}

	for _, opt := range opts {
		opt(u)
	}

	if u.metrics == nil {
		u.metrics = GetProxyMetrics()
	}

	u.reverse = &httputil.ReverseProxy{
		Rewrite:        u.rewrite,
		Transport:      u.transport,
		FlushInterval:  u.flushInterval,
		ErrorHandler:   u.handleError,
		ModifyResponse: u.recordResponse,
	}

	return u, nil
}

// Route returns the route name the upstream serves.
func (u *Upstream) Route() string {
	return u.route
}

// Target returns the upstream base URL.
func (u *Upstream) Target() *url.URL {
	return u.target
}

// ServeHTTP implements http.Handler.
func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	u.reverse.ServeHTTP(w, r)
	u.metrics.ObserveDuration(u.route, time.Since(start).Seconds())
}

// rewrite shapes the outbound request.
func (u *Upstream) rewrite(pr *httputil.ProxyRequest) {
	if u.stripPrefix != "" {
		trimmed := strings.TrimPrefix(pr.Out.URL.Path, u.stripPrefix)
		if !strings.HasPrefix(trimmed, "/") {
			trimmed = "/" + trimmed
		}
		pr.Out.URL.Path = trimmed
	}

	pr.SetURL(u.target)
	pr.Out.Host = u.target.Host
	pr.SetXForwarded()

	for _, h := range hopHeaders {
		pr.Out.Header.Del(h)
	}
}

// recordResponse counts the upstream status.
func (u *Upstream) recordResponse(resp *http.Response) error {
	u.metrics.RecordRequest(u.route, strconv.Itoa(resp.StatusCode))
	return nil
}

// handleError translates transport failures into gateway responses.
// Responses produced by the upstream never reach this path.
func (u *Upstream) handleError(w http.ResponseWriter, r *http.Request, err error) {
	errorType, status := classifyError(err)
	u.metrics.RecordError(u.route, errorType)

	upstreamErr := NewUpstreamError(u.route, u.target.String(), err)
	u.logger.Error("upstream request failed",
		observability.String("route", u.route),
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.String("error_type", errorType),
		observability.Error(upstreamErr),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusGatewayTimeout {
		_, _ = io.WriteString(w, `{"error":"gateway timeout","message":"upstream did not respond in time"}`)
		return
	}
	_, _ = io.WriteString(w, `{"error":"bad gateway","message":"failed to reach upstream"}`)
}

// classifyError maps a transport error to a metric label and status code.
func classifyError(err error) (string, int) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return "client_closed", http.StatusBadGateway
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", http.StatusGatewayTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection_refused", http.StatusBadGateway
	}

	return "bad_gateway", http.StatusBadGateway
}
