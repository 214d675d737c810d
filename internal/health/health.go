package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/observability"
)

// Default timeout values for health checks.
const (
	// DefaultReadinessProbeTimeout is the default timeout for readiness probes.
	DefaultReadinessProbeTimeout = 5 * time.Second

	// DefaultHealthProbeTimeout is the default timeout for the detailed
	// health endpoint.
	DefaultHealthProbeTimeout = 10 * time.Second
)

// Check defines a single dependency check.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// Name returns the name of the check.
func (f *CheckFunc) Name() string {
	return f.name
}

// Check performs the check.
func (f *CheckFunc) Check(ctx context.Context) error {
	return f.fn(ctx)
}

// NewCheckFunc creates a Check from a function.
func NewCheckFunc(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// Status represents the overall probe result.
type Status struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Uptime    string                  `json:"uptime,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HandlerConfig holds probe timeouts.
type HandlerConfig struct {
	ReadinessProbeTimeout time.Duration
	HealthProbeTimeout    time.Duration
}

// DefaultHandlerConfig returns a HandlerConfig with default values.
func DefaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		ReadinessProbeTimeout: DefaultReadinessProbeTimeout,
		HealthProbeTimeout:    DefaultHealthProbeTimeout,
	}
}

// Handler serves the probe endpoints.
type Handler struct {
	version   string
	startTime time.Time
	logger    observability.Logger
	config    *HandlerConfig

	mu     sync.RWMutex
	checks []Check
}

// HandlerOption is a functional option for configuring the handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger observability.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHandlerConfig sets the probe timeouts.
func WithHandlerConfig(config *HandlerConfig) HandlerOption {
	return func(h *Handler) {
		if config != nil {
			h.config = config
		}
	}
}

// NewHandler creates a probe handler.
func NewHandler(version string, opts ...HandlerOption) *Handler {
	h := &Handler{
		version:   version,
		startTime: time.Now(),
		logger:    observability.NopLogger(),
		config:    DefaultHandlerConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck registers a dependency check.
func (h *Handler) AddCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// RemoveCheck removes a dependency check by name.
func (h *Handler) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, check := range h.checks {
		if check.Name() == name {
			h.checks = append(h.checks[:i], h.checks[i+1:]...)
			return
		}
	}
}

// LivenessHandler reports whether the process is running.
func (h *Handler) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		GetHealthMetrics().RecordProbe("liveness")
		w.Header().Set(HeaderContentType, ContentTypeJSON)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

// ReadinessHandler runs the registered checks and reports 503 when any
// of them fails.
func (h *Handler) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		GetHealthMetrics().RecordProbe("readiness")

		ctx, cancel := context.WithTimeout(r.Context(), h.config.ReadinessProbeTimeout)
		defer cancel()

		h.writeStatus(w, h.runChecks(ctx))
	})
}

// HealthHandler is the detailed variant of the readiness probe, with
// uptime and version.
func (h *Handler) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		GetHealthMetrics().RecordProbe("health")

		ctx, cancel := context.WithTimeout(r.Context(), h.config.HealthProbeTimeout)
		defer cancel()

		status := h.runChecks(ctx)
		status.Version = h.version
		status.Uptime = time.Since(h.startTime).Round(time.Second).String()

		h.writeStatus(w, status)
	})
}

// RegisterRoutes registers the probe endpoints on a mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/health", h.HealthHandler())
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/livez", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/ready", h.ReadinessHandler())
}

func (h *Handler) writeStatus(w http.ResponseWriter, status *Status) {
	statusCode := http.StatusOK
	if status.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error("failed to write probe response", observability.Error(err))
	}
}

// runChecks runs all checks concurrently and aggregates the result.
func (h *Handler) runChecks(ctx context.Context) *Status {
	h.mu.RLock()
	checks := make([]Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &Status{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult),
	}

	if len(checks) == 0 {
		return status
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, check := range checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			duration := time.Since(start)

			result := &CheckResult{
				Status:   "ok",
				Duration: duration.String(),
			}

			GetHealthMetrics().SetCheckStatus(c.Name(), err == nil)

			if err != nil {
				result.Status = "error"
				result.Error = err.Error()

				h.logger.Warn("health check failed",
					observability.String("check", c.Name()),
					observability.Error(err),
					observability.Duration("duration", duration),
				)
			}

			mu.Lock()
			if err != nil {
				status.Status = "error"
			}
			status.Checks[c.Name()] = result
			mu.Unlock()
		}(check)
	}

	wg.Wait()
	return status
}
