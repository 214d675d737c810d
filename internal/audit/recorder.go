package audit

import (
	"context"
	"time"

	"github.com/edgegate/edgegate/internal/observability"
	"github.com/edgegate/edgegate/internal/store"
)

// DefaultRetention is applied to audit counters when no retention
// policy is configured.
const DefaultRetention = 30 * 24 * time.Hour

// Operational counter names recorded per scope via IncrementMetric.
const (
	MetricRequestsTotal   = "requests_total"
	MetricRequestsBlocked = "requests_blocked"
	MetricRateLimitHit    = "rate_limit_hit"
)

// Recorder appends audit events and mirrors them as daily counters in
// the shared counter store. Counter writes are best-effort: a failed
// write is logged and never blocks or reverses the decision being
// recorded.
type Recorder struct {
	audit     Logger
	store     store.Store
	logger    observability.Logger
	retention time.Duration
	now       func() time.Time
}

// RecorderOption is a functional option for the recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the observability logger.
func WithRecorderLogger(l observability.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = l
	}
}

// WithRetention sets the TTL applied to daily audit counters.
func WithRetention(retention time.Duration) RecorderOption {
	return func(r *Recorder) {
		if retention > 0 {
			r.retention = retention
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a recorder writing events to audit and counters
// to s. Either may be nil, in which case that half is skipped.
func NewRecorder(audit Logger, s store.Store, opts ...RecorderOption) *Recorder {
	if audit == nil {
		audit = NewNoopLogger()
	}

	r := &Recorder{
		audit:     audit,
		store:     s,
		logger:    observability.NopLogger(),
		retention: DefaultRetention,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Record appends the event and increments its daily counter.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	r.audit.LogEvent(ctx, event)

	scope := event.Scope
	if scope == "" {
		scope = "global"
	}
	key := "audit:" + scope + ":" + string(event.Action) + ":" + r.today()
	r.increment(ctx, key, r.retention)
}

// IncrementMetric increments a named operational counter under the
// given scope, e.g. cache hit totals per route.
func (r *Recorder) IncrementMetric(ctx context.Context, scope, name string) {
	if scope == "" {
		scope = "global"
	}
	r.increment(ctx, "metrics:"+scope+":"+name, r.retention)
}

func (r *Recorder) increment(ctx context.Context, key string, ttl time.Duration) {
	if r.store == nil {
		return
	}
	if _, err := r.store.IncrementWithExpiry(ctx, key, 1, ttl); err != nil {
		r.logger.Warn("audit counter write failed",
			observability.String("key", key),
			observability.Error(err),
		)
	}
}

func (r *Recorder) today() string {
	return r.now().UTC().Format("2006-01-02")
}

// Close closes the underlying audit logger.
func (r *Recorder) Close() error {
	return r.audit.Close()
}
