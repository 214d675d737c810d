package main

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/observability"
	"github.com/edgegate/edgegate/internal/store"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("EDGEGATE_TEST_KEY", "from-env")
	assert.Equal(t, "from-env", getEnvOrDefault("EDGEGATE_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("EDGEGATE_TEST_MISSING", "fallback"))
}

func TestBuildStore_Memory(t *testing.T) {
	s, err := buildStore(&config.StoreConfig{Type: config.StoreTypeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.IsType(t, &store.MemoryStore{}, s)
}

func TestBuildStore_DefaultsToMemory(t *testing.T) {
	s, err := buildStore(&config.StoreConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.IsType(t, &store.MemoryStore{}, s)
}

func TestBuildStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := buildStore(&config.StoreConfig{
		Type: config.StoreTypeRedis,
		Redis: &config.RedisStoreConfig{
			Address: mr.Addr(),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.IsType(t, &store.RedisStore{}, s)
}

func TestBuildStore_RedisWithoutSettings(t *testing.T) {
	_, err := buildStore(&config.StoreConfig{Type: config.StoreTypeRedis})
	assert.Error(t, err)
}

func TestBuildStore_UnknownType(t *testing.T) {
	_, err := buildStore(&config.StoreConfig{Type: "etcd"})
	assert.ErrorContains(t, err, "unknown store type")
}

func TestRedisStoreConfig_Mapping(t *testing.T) {
	mapped := redisStoreConfig(&config.RedisStoreConfig{
		Address:        "redis.internal:6379",
		Password:       "secret",
		DB:             2,
		KeyPrefix:      "edge:",
		PoolSize:       32,
		ConnectTimeout: config.Duration(time.Second),
		Retry: &config.RedisRetryConfig{
			MaxRetries:     7,
			InitialBackoff: config.Duration(50 * time.Millisecond),
		},
	})

	assert.Equal(t, "redis.internal:6379", mapped.Address)
	assert.Equal(t, "secret", mapped.Password)
	assert.Equal(t, 2, mapped.DB)
	assert.Equal(t, "edge:", mapped.Prefix)
	assert.Equal(t, 32, mapped.PoolSize)
	assert.Equal(t, time.Second, mapped.DialTimeout)
	assert.Equal(t, 7, mapped.ConnectionRetries)
	assert.Equal(t, 50*time.Millisecond, mapped.InitialBackoff)

	// Unset fields keep the store defaults
	defaults := store.DefaultRedisConfig()
	assert.Equal(t, defaults.ReadTimeout, mapped.ReadTimeout)
	assert.Equal(t, defaults.WriteTimeout, mapped.WriteTimeout)
}

func TestBuildRecorder(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	recorder, err := buildRecorder(&config.AuditConfig{
		Enabled:   true,
		Output:    t.TempDir() + "/audit.log",
		Retention: config.Duration(24 * time.Hour),
	}, s, observability.NopLogger())
	require.NoError(t, err)
	assert.NoError(t, recorder.Close())
}

func TestParseFlagsDefaults(t *testing.T) {
	flags := cliFlags{
		configPath: getEnvOrDefault("EDGEGATE_CONFIG_PATH", "configs/gateway.yaml"),
	}
	assert.Equal(t, "configs/gateway.yaml", flags.configPath)
}
