package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/observability"
)

func setupRedisCache(t *testing.T, mutate func(*config.CacheConfig)) (*miniredis.Miniredis, *redisCache) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := &config.CacheConfig{
		Enabled: true,
		Type:    config.CacheTypeRedis,
		TTL:     config.Duration(time.Minute),
		Redis: &config.RedisCacheConfig{
			URL:       "redis://" + mr.Addr(),
			KeyPrefix: "test:",
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	c, err := newRedisCache(cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return mr, c
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	cfg := &config.CacheConfig{
		Enabled: true,
		Type:    config.CacheTypeRedis,
		Redis:   &config.RedisCacheConfig{URL: "://bad"},
	}
	_, err := newRedisCache(cfg, observability.NopLogger())
	assert.Error(t, err)
}

func TestNewRedisCache_ConnectionFailure(t *testing.T) {
	cfg := &config.CacheConfig{
		Enabled: true,
		Type:    config.CacheTypeRedis,
		Redis: &config.RedisCacheConfig{
			URL:            "redis://127.0.0.1:1",
			ConnectTimeout: config.Duration(50 * time.Millisecond),
		},
	}
	_, err := newRedisCache(cfg, observability.NopLogger())
	assert.Error(t, err)
}

func TestRedisCache_GetSet(t *testing.T) {
	mr, c := setupRedisCache(t, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))

	// The configured prefix is applied to stored keys
	assert.True(t, mr.Exists("test:key"))

	value, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)
}

func TestRedisCache_DeleteAndExists(t *testing.T) {
	_, c := setupRedisCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))

	exists, err := c.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "key"))

	exists, err = c.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisCache_GetWithTTL(t *testing.T) {
	_, c := setupRedisCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))

	value, ttl, err := c.GetWithTTL(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
	assert.Greater(t, ttl, 50*time.Second)

	_, _, err = c.GetWithTTL(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_SetNX(t *testing.T) {
	_, c := setupRedisCache(t, nil)
	ctx := context.Background()

	acquired, err := c.SetNX(ctx, "lock", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = c.SetNX(ctx, "lock", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	value, err := c.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)
}

func TestRedisCache_Expire(t *testing.T) {
	mr, c := setupRedisCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Hour))
	require.NoError(t, c.Expire(ctx, "key", 10*time.Millisecond))

	mr.FastForward(time.Second)

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_Scan(t *testing.T) {
	_, c := setupRedisCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "user-1", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "user-2", []byte("b"), time.Minute))
	require.NoError(t, c.Set(ctx, "order-1", []byte("c"), time.Minute))

	keys, err := c.Scan(ctx, "user-*", 0, time.Second)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, keys)

	keys, err = c.Scan(ctx, "user-*", 1, time.Second)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRedisCache_ScanRejectedWithHashedKeys(t *testing.T) {
	_, c := setupRedisCache(t, func(cfg *config.CacheConfig) {
		cfg.Redis.HashKeys = true
	})

	_, err := c.Scan(context.Background(), "*", 0, 0)
	assert.Error(t, err)
}

func TestRedisCache_HashKeys(t *testing.T) {
	mr, c := setupRedisCache(t, func(cfg *config.CacheConfig) {
		cfg.Redis.HashKeys = true
	})
	ctx := context.Background()

	longKey := "GET:/api/orders:q:page=1&size=50&sort=created"
	require.NoError(t, c.Set(ctx, longKey, []byte("v"), time.Minute))

	assert.False(t, mr.Exists("test:"+longKey), "the raw key must not appear")
	assert.True(t, mr.Exists("test:"+HashKey(longKey)))

	value, err := c.Get(ctx, longKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestApplyTTLJitter(t *testing.T) {
	base := time.Minute

	assert.Equal(t, base, applyTTLJitter(base, 0))
	assert.Equal(t, time.Duration(0), applyTTLJitter(0, 0.5))

	for i := 0; i < 50; i++ {
		jittered := applyTTLJitter(base, 0.1)
		assert.GreaterOrEqual(t, jittered, 54*time.Second)
		assert.LessOrEqual(t, jittered, 66*time.Second)
	}
}
