package audit

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicLogger_Delegates(t *testing.T) {
	var buf bytes.Buffer
	inner, err := NewLogger("",
		WithLoggerWriter(&buf),
		WithLoggerRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	a := NewAtomicLogger(inner)
	a.LogEvent(context.Background(), DecisionEvent(true, "user:alice", "orders"))

	assert.NotZero(t, buf.Len())
	assert.NoError(t, a.Close())
}

func TestAtomicLogger_Swap(t *testing.T) {
	var first, second bytes.Buffer

	l1, err := NewLogger("", WithLoggerWriter(&first), WithLoggerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	l2, err := NewLogger("", WithLoggerWriter(&second), WithLoggerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	a := NewAtomicLogger(l1)
	a.LogEvent(context.Background(), DecisionEvent(true, "x", "y"))

	old := a.Swap(l2)
	assert.Same(t, l1, old)

	a.LogEvent(context.Background(), DecisionEvent(true, "x", "y"))

	assert.NotZero(t, first.Len())
	assert.NotZero(t, second.Len())
}

func TestAtomicLogger_NilSafety(t *testing.T) {
	a := NewAtomicLogger(nil)
	a.LogEvent(context.Background(), DecisionEvent(true, "x", "y"))
	assert.NoError(t, a.Close())

	old := a.Swap(nil)
	assert.NotNil(t, old)

	var zero AtomicLogger
	zero.LogEvent(context.Background(), nil)
	assert.NotNil(t, zero.Load())
}
