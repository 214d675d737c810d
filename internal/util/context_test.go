package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartTimeRoundTrip(t *testing.T) {
	now := time.Now()
	ctx := ContextWithStartTime(context.Background(), now)
	assert.Equal(t, now, StartTimeFromContext(ctx))

	assert.True(t, StartTimeFromContext(context.Background()).IsZero())
}

func TestRouteRoundTrip(t *testing.T) {
	ctx := ContextWithRoute(context.Background(), "orders")
	assert.Equal(t, "orders", RouteFromContext(ctx))

	assert.Empty(t, RouteFromContext(context.Background()))
}

func TestElapsedTime(t *testing.T) {
	ctx := ContextWithStartTime(context.Background(), time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, ElapsedTime(ctx), time.Second)

	assert.Zero(t, ElapsedTime(context.Background()))
}
