package middleware

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MiddlewareMetrics holds Prometheus metrics for middleware
// operations.
type MiddlewareMetrics struct {
	rateLimitAllowed  *prometheus.CounterVec
	rateLimitRejected *prometheus.CounterVec
	rateLimitDegraded *prometheus.CounterVec

	cacheServed *prometheus.CounterVec

	panicsRecovered prometheus.Counter

	corsRequestsTotal *prometheus.CounterVec
}

var (
	middlewareMetrics     *MiddlewareMetrics
	middlewareMetricsOnce sync.Once
)

// GetMiddlewareMetrics returns the singleton middleware metrics
// instance.
func GetMiddlewareMetrics() *MiddlewareMetrics {
	middlewareMetricsOnce.Do(func() {
		middlewareMetrics = newMiddlewareMetrics()
	})
	return middlewareMetrics
}

func newMiddlewareMetrics() *MiddlewareMetrics {
	return &MiddlewareMetrics{
		rateLimitAllowed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "middleware",
				Name:      "rate_limit_allowed_total",
				Help: "Total number of requests " +
					"allowed by rate limiter",
			},
			[]string{"route"},
		),
		rateLimitRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "middleware",
				Name:      "rate_limit_rejected_total",
				Help: "Total number of requests " +
					"rejected by rate limiter",
			},
			[]string{"route"},
		),
		rateLimitDegraded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "middleware",
				Name:      "rate_limit_degraded_total",
				Help: "Total number of requests evaluated " +
					"while the counter store was unavailable",
			},
			[]string{"route"},
		),
		cacheServed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "middleware",
				Name:      "cache_served_total",
				Help: "Total number of responses served " +
					"by the cache middleware",
			},
			[]string{"route", "result"},
		),
		panicsRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "middleware",
				Name:      "panics_recovered_total",
				Help: "Total number of panics " +
					"recovered",
			},
		),
		corsRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "middleware",
				Name:      "cors_requests_total",
				Help: "Total number of CORS " +
					"requests by type",
			},
			[]string{"type"},
		),
	}
}
