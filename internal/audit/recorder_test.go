package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/store"
)

type failingStore struct {
	store.Store
}

func (s *failingStore) IncrementWithExpiry(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func newTestRecorder(t *testing.T, s store.Store, opts ...RecorderOption) (*Recorder, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	l, err := NewLogger("",
		WithLoggerWriter(&buf),
		WithLoggerRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	r := NewRecorder(l, s, opts...)
	t.Cleanup(func() { _ = r.Close() })

	return r, &buf
}

func TestRecorder_IncrementsDailyCounter(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	r, buf := newTestRecorder(t, s, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	r.Record(ctx, DecisionEvent(false, "ip:10.0.0.1", "orders"))
	r.Record(ctx, DecisionEvent(false, "ip:10.0.0.2", "orders"))

	count, err := s.Get(ctx, "audit:orders:block:2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The event trail was written as well
	assert.NotZero(t, buf.Len())
}

func TestRecorder_ScopeDefaultsToGlobal(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRecorder(t, s, WithClock(func() time.Time { return fixed }))

	r.Record(context.Background(), NewEvent(ActionAllow, OutcomeSuccess))

	count, err := s.Get(context.Background(), "audit:global:allow:2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecorder_IncrementMetric(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	r, _ := newTestRecorder(t, s)
	ctx := context.Background()

	r.IncrementMetric(ctx, "orders", "cache_hits")
	r.IncrementMetric(ctx, "orders", "cache_hits")
	r.IncrementMetric(ctx, "", "requests")

	count, err := s.Get(ctx, "metrics:orders:cache_hits")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = s.Get(ctx, "metrics:global:requests")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecorder_StoreFailureDoesNotBlock(t *testing.T) {
	r, buf := newTestRecorder(t, &failingStore{})

	// Must not panic or return; the event trail still gets the record
	r.Record(context.Background(), DecisionEvent(true, "user:alice", "orders"))
	assert.NotZero(t, buf.Len())
}

func TestRecorder_NilStoreSkipsCounters(t *testing.T) {
	r, buf := newTestRecorder(t, nil)

	r.Record(context.Background(), DecisionEvent(true, "user:alice", "orders"))
	r.IncrementMetric(context.Background(), "orders", "requests")
	assert.NotZero(t, buf.Len())
}

func TestNewRecorder_NilAuditUsesNoop(t *testing.T) {
	r := NewRecorder(nil, nil)
	r.Record(context.Background(), DecisionEvent(true, "x", "y"))
	assert.NoError(t, r.Close())
}
