package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests seen by circuit breakers",
		},
		[]string{"name", "allowed"},
	)

	breakerResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_results_total",
			Help: "Total number of successes and failures recorded by circuit breakers",
		},
		[]string{"name", "result"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)

func recordRequest(name string, allowed bool) {
	label := "false"
	if allowed {
		label = "true"
	}
	breakerRequestsTotal.WithLabelValues(name, label).Inc()
}

func recordSuccess(name string) {
	breakerResultsTotal.WithLabelValues(name, "success").Inc()
}

func recordFailure(name string) {
	breakerResultsTotal.WithLabelValues(name, "failure").Inc()
}

func recordStateChange(name string, to State) {
	breakerState.WithLabelValues(name).Set(float64(to))
}
