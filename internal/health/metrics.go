package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HealthMetrics holds Prometheus metrics for probe activity.
type HealthMetrics struct {
	probesTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

var (
	healthMetricsInstance *HealthMetrics
	healthMetricsOnce     sync.Once
)

// GetHealthMetrics returns the singleton health metrics instance.
func GetHealthMetrics() *HealthMetrics {
	healthMetricsOnce.Do(func() {
		healthMetricsInstance = &HealthMetrics{
			probesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gateway",
					Subsystem: "health",
					Name:      "probes_total",
					Help:      "Total number of probe requests served",
				},
				[]string{"probe"},
			),
			checkStatus: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "gateway",
					Subsystem: "health",
					Name:      "check_status",
					Help:      "Current dependency check status (1=healthy, 0=unhealthy)",
				},
				[]string{"check"},
			),
		}
	})
	return healthMetricsInstance
}

// MustRegister registers the collectors with the given registry. The
// gateway serves /metrics from its own registry while promauto uses the
// global one; this bridges the two.
func (m *HealthMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.probesTotal,
		m.checkStatus,
	)
}

// RecordProbe increments the probe counter.
func (m *HealthMetrics) RecordProbe(probe string) {
	if m == nil {
		return
	}
	m.probesTotal.WithLabelValues(probe).Inc()
}

// SetCheckStatus updates the dependency status gauge.
func (m *HealthMetrics) SetCheckStatus(check string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.checkStatus.WithLabelValues(check).Set(value)
}
