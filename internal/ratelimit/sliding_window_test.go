package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowLimiter_Local(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 5, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := l.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
	}

	result, err := l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
}

func TestSlidingWindowLimiter_FreshKeyBehavesLikeFixedWindow(t *testing.T) {
	// With no previous window the weighted count equals the current count
	l := NewSlidingWindowLimiter(nil, 3, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := l.Allow(ctx, "fresh")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := l.Allow(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestSlidingWindowLimiter_WeightedCount(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 10, time.Minute, nil)

	tests := []struct {
		name    string
		prev    int
		curr    int
		elapsed float64
		want    int
	}{
		{"window start counts all of previous", 10, 0, 0.0, 10},
		{"halfway counts half", 10, 0, 0.5, 5},
		{"window end counts none", 10, 0, 1.0, 0},
		{"current always counts fully", 10, 4, 0.5, 9},
		{"empty previous window", 0, 7, 0.3, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.weightedCount(tt.prev, tt.curr, tt.elapsed))
		})
	}
}

func TestSlidingWindowLimiter_CarryOver(t *testing.T) {
	window := 100 * time.Millisecond
	l := NewSlidingWindowLimiter(nil, 4, window, nil)
	ctx := context.Background()

	// Fill the current window
	for i := 0; i < 4; i++ {
		result, err := l.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	// Shortly into the next window most of the previous count still weighs in
	time.Sleep(window + 10*time.Millisecond)

	result, err := l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, result.Allowed, "previous window still dominates the weighted count")

	// After a full idle window everything has decayed
	time.Sleep(2 * window)

	result, err = l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestSlidingWindowLimiter_Distributed(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	l := NewSlidingWindowLimiter(s, 3, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := l.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestSlidingWindowLimiter_Reset(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	l := NewSlidingWindowLimiter(s, 1, time.Minute, nil)
	ctx := context.Background()

	result, err := l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	require.NoError(t, l.Reset(ctx, "client"))

	result, err = l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}
