package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/observability"
)

// WarmStrategy identifies how the keys to warm are selected.
type WarmStrategy string

// Warming strategies.
const (
	// WarmStartup populates a configured key set when the gateway starts.
	WarmStartup WarmStrategy = "startup"

	// WarmOnDemand populates the keys named in the request, typically to
	// recover the failed subset of an earlier warming pass.
	WarmOnDemand WarmStrategy = "on_demand"

	// WarmScheduled re-populates a key set on a fixed interval.
	WarmScheduled WarmStrategy = "scheduled"

	// WarmPredictive populates the most frequently read keys.
	WarmPredictive WarmStrategy = "predictive"
)

// ErrNoLoader indicates warming was requested without a configured loader.
var ErrNoLoader = errors.New("cache warming requires a loader")

// WarmRequest names the keys to warm. Keys is used by the startup,
// on-demand, and scheduled strategies; TopN by the predictive strategy.
type WarmRequest struct {
	Strategy WarmStrategy
	Keys     []string
	TopN     int
}

// WarmReport describes the outcome of one warming pass. Failed keys can be
// retried with an on-demand request.
type WarmReport struct {
	Strategy  WarmStrategy
	Requested []string
	Populated []string
	Failed    []string
}

// Effectiveness returns the fraction of requested keys that were
// populated, between 0 and 1.
func (r *WarmReport) Effectiveness() float64 {
	if len(r.Requested) == 0 {
		return 0
	}
	return float64(len(r.Populated)) / float64(len(r.Requested))
}

// Warm populates partition entries through the configured loader. A key
// whose load fails is reported, never fatal; the pass continues with the
// remaining keys.
func (c *Coordinator) Warm(ctx context.Context, req WarmRequest) (*WarmReport, error) {
	if c.loader == nil {
		return nil, ErrNoLoader
	}

	keys := req.Keys
	if req.Strategy == WarmPredictive {
		n := req.TopN
		if n <= 0 {
			n = 10
		}
		keys = c.topAccessedKeys(n)
	}

	report := &WarmReport{
		Strategy:  req.Strategy,
		Requested: append([]string(nil), keys...),
	}

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, keys[i:]...)
			return report, err
		}

		value, ttl, err := c.loader(ctx, key)
		if err != nil {
			report.Failed = append(report.Failed, key)
			GetCacheMetrics().warmingTotal.WithLabelValues(string(req.Strategy), "failed").Inc()
			c.logger.Warn("cache warm load failed",
				observability.String("partition", c.partition.String()),
				observability.String("key", key),
				observability.Error(err))
			continue
		}

		if err := c.Set(ctx, key, value, ttl); err != nil {
			report.Failed = append(report.Failed, key)
			GetCacheMetrics().warmingTotal.WithLabelValues(string(req.Strategy), "failed").Inc()
			continue
		}

		report.Populated = append(report.Populated, key)
		GetCacheMetrics().warmingTotal.WithLabelValues(string(req.Strategy), "populated").Inc()
	}

	c.logger.Info("cache warming completed",
		observability.String("partition", c.partition.String()),
		observability.String("strategy", string(req.Strategy)),
		observability.Int("requested", len(report.Requested)),
		observability.Int("populated", len(report.Populated)),
		observability.Int("failed", len(report.Failed)),
		observability.Float64("effectiveness", report.Effectiveness()))

	return report, nil
}

// ScheduleWarming re-warms the given keys on a fixed interval until the
// context is cancelled or the returned stop function is called.
func (c *Coordinator) ScheduleWarming(
	ctx context.Context, interval time.Duration, keys []string,
) (stop func()) {
	stopCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if _, err := c.Warm(ctx, WarmRequest{
					Strategy: WarmScheduled,
					Keys:     keys,
				}); err != nil && !errors.Is(err, context.Canceled) {
					c.logger.Error("scheduled cache warming failed",
						observability.String("partition", c.partition.String()),
						observability.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
	}
}
