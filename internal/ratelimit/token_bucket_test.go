package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiter_Local(t *testing.T) {
	l := NewTokenBucketLimiter(nil, 1.0, 3, nil)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := l.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "burst request %d should be allowed", i+1)
	}

	result, err := l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
}

func TestTokenBucketLimiter_Refill(t *testing.T) {
	// 100 tokens/sec so refill is fast enough to observe
	l := NewTokenBucketLimiter(nil, 100.0, 1, nil)
	defer l.Close()
	ctx := context.Background()

	result, err := l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	time.Sleep(20 * time.Millisecond)

	result, err = l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, result.Allowed, "tokens should have refilled")
}

func TestTokenBucketLimiter_BurstCapped(t *testing.T) {
	l := NewTokenBucketLimiter(nil, 1000.0, 2, nil)
	defer l.Close()
	ctx := context.Background()

	time.Sleep(10 * time.Millisecond)

	// Despite the high rate, only burst tokens are available at once
	result, err := l.AllowN(ctx, "client", 3)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	result, err = l.AllowN(ctx, "client", 2)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestTokenBucketLimiter_Distributed(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	l := NewTokenBucketLimiter(s, 1.0, 2, nil)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := l.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestTokenBucketLimiter_Reset(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	l := NewTokenBucketLimiter(s, 1.0, 1, nil)
	defer l.Close()
	ctx := context.Background()

	result, err := l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	require.NoError(t, l.Reset(ctx, "client"))

	result, err = l.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, result.Allowed, "reset should refill the bucket")
}

func TestTokenBucketLimiter_CloseIdempotent(t *testing.T) {
	l := NewTokenBucketLimiter(nil, 1.0, 1, nil)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
