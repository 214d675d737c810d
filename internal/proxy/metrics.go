package proxy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for upstream requests.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetProxyMetrics returns the process-wide proxy metrics, registering
// them with the default registerer on first use.
func GetProxyMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// NewMetricsWithRegisterer creates proxy metrics registered with the
// given registerer. Used by tests to avoid the global registry.
func NewMetricsWithRegisterer(registerer prometheus.Registerer) *Metrics {
	return newMetrics(registerer)
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of proxied requests",
			},
			[]string{"route", "status"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "proxy",
				Name:      "errors_total",
				Help:      "Total number of upstream errors",
			},
			[]string{"route", "error_type"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "proxy",
				Name:      "upstream_duration_seconds",
				Help:      "Duration of upstream requests",
				Buckets: []float64{
					.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
				},
			},
			[]string{"route"},
		),
	}
}

// RecordRequest increments the request counter for a route and status.
func (m *Metrics) RecordRequest(route, status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, status).Inc()
}

// RecordError increments the error counter for a route and error type.
func (m *Metrics) RecordError(route, errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(route, errorType).Inc()
}

// ObserveDuration records the duration of an upstream request.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(route).Observe(seconds)
}
