package security

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultSecurityMetrics     *Metrics
	defaultSecurityMetricsOnce sync.Once
)

// GetSecurityMetrics returns the singleton security metrics instance.
// It initializes the metrics on first call.
func GetSecurityMetrics() *Metrics {
	defaultSecurityMetricsOnce.Do(func() {
		defaultSecurityMetrics = NewMetrics("gateway")
	})
	return defaultSecurityMetrics
}

// Metrics contains security metrics.
type Metrics struct {
	headersApplied *prometheus.CounterVec
	hstsApplied    prometheus.Counter
}

// NewMetrics creates new security metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		headersApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "headers_applied_total",
				Help:      "Total number of times security headers were applied",
			},
			[]string{"header"},
		),
		hstsApplied: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "hsts_applied_total",
				Help:      "Total number of times HSTS header was applied",
			},
		),
	}
}

// MustRegister registers all security metric collectors with the
// provided registry. Panics on duplicate registration.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.headersApplied,
		m.hstsApplied,
	)
}

// RecordHeaderApplied records that a security header was applied.
func (m *Metrics) RecordHeaderApplied(header string) {
	if m == nil || m.headersApplied == nil {
		return
	}
	m.headersApplied.WithLabelValues(header).Inc()
}

// RecordHSTSApplied records that the HSTS header was applied.
func (m *Metrics) RecordHSTSApplied() {
	if m == nil || m.hstsApplied == nil {
		return
	}
	m.hstsApplied.Inc()
}
