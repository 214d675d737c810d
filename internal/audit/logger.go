package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgegate/edgegate/internal/observability"
)

// Logger is the audit logger interface.
type Logger interface {
	// LogEvent appends an audit event to the trail.
	LogEvent(ctx context.Context, event *Event)

	// Close closes the logger.
	Close() error
}

// logger implements the Logger interface by writing JSON lines.
type logger struct {
	writer  io.Writer
	mu      sync.Mutex
	logger  observability.Logger
	metrics *Metrics
	closer  io.Closer
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetrics creates new audit metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new audit metrics registered with
// the provided registerer so they can appear on a custom /metrics
// registry.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"action", "outcome"},
		),
	}

	// Duplicate registration is harmless, descriptors are identical.
	_ = registerer.Register(m.eventsTotal)

	m.Init()

	return m
}

// Init pre-populates common label combinations with zero values so the
// Vec metrics appear in /metrics output immediately after startup.
// Idempotent.
func (m *Metrics) Init() {
	if m.eventsTotal == nil {
		return
	}

	actions := []Action{ActionAllow, ActionBlock, ActionInvalidate, ActionWarm}
	outcomes := []Outcome{OutcomeSuccess, OutcomeFailure, OutcomeDegraded}

	for _, a := range actions {
		for _, o := range outcomes {
			m.eventsTotal.WithLabelValues(string(a), string(o))
		}
	}
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(action Action, outcome Outcome) {
	if m.eventsTotal == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(action), string(outcome)).Inc()
}

// LoggerOption is a functional option for the logger.
type LoggerOption func(*logger)

// WithLoggerLogger sets the observability logger used for internal
// errors.
func WithLoggerLogger(l observability.Logger) LoggerOption {
	return func(lg *logger) {
		lg.logger = l
	}
}

// WithLoggerMetrics sets the metrics.
func WithLoggerMetrics(metrics *Metrics) LoggerOption {
	return func(lg *logger) {
		lg.metrics = metrics
	}
}

// WithLoggerWriter sets the writer.
func WithLoggerWriter(writer io.Writer) LoggerOption {
	return func(lg *logger) {
		lg.writer = writer
	}
}

// WithLoggerRegisterer registers audit metrics with the provided
// Prometheus registerer instead of the global default.
func WithLoggerRegisterer(registerer prometheus.Registerer) LoggerOption {
	return func(lg *logger) {
		lg.metrics = NewMetricsWithRegisterer("gateway", registerer)
	}
}

// NewLogger creates a new audit logger writing JSON lines to the given
// output. Output is "stdout", "stderr", or a file path; empty defaults
// to stdout.
func NewLogger(output string, opts ...LoggerOption) (Logger, error) {
	l := &logger{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.metrics == nil {
		l.metrics = NewMetrics("gateway")
	}

	if l.writer == nil {
		writer, closer, err := createWriter(output)
		if err != nil {
			return nil, err
		}
		l.writer = writer
		l.closer = closer
	}

	return l, nil
}

func createWriter(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		// Path comes from trusted configuration.
		//nolint:gosec // G304: path from config is trusted
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// LogEvent appends an audit event to the trail.
func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	if event.CorrelationID == "" {
		event.CorrelationID = observability.CorrelationIDFromContext(ctx)
	}

	l.metrics.RecordEvent(event.Action, event.Outcome)

	l.writeEvent(event)
}

func (l *logger) writeEvent(event *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	output, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to marshal audit event", observability.Error(err))
		return
	}
	output = append(output, '\n')

	if _, err := l.writer.Write(output); err != nil {
		l.logger.Error("failed to write audit event", observability.Error(err))
	}
}

// Close closes the logger.
func (l *logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// noopLogger is a no-op audit logger.
type noopLogger struct{}

// NewNoopLogger creates a new no-op audit logger.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) LogEvent(_ context.Context, _ *Event) {}

func (l *noopLogger) Close() error { return nil }

// Ensure implementations satisfy the interface.
var (
	_ Logger = (*logger)(nil)
	_ Logger = (*noopLogger)(nil)
)
