package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Routes = []RouteConfig{
		{
			Name:       "orders",
			PathPrefix: "/api/orders",
			Upstream:   "http://orders.internal:8080",
		},
	}
	return cfg
}

func TestValidateConfig_Valid(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_Nil(t *testing.T) {
	assert.Error(t, ValidateConfig(nil))
}

func TestValidateConfig_RateLimit(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "zero requests",
			mutate: func(c *Config) { c.RateLimit.Requests = 0 },
		},
		{
			name:   "negative requests",
			mutate: func(c *Config) { c.RateLimit.Requests = -1 },
		},
		{
			name:   "zero window",
			mutate: func(c *Config) { c.RateLimit.Window = 0 },
		},
		{
			name:   "unknown algorithm",
			mutate: func(c *Config) { c.RateLimit.Algorithm = "sliding_log" },
		},
		{
			name:   "negative burst",
			mutate: func(c *Config) { c.RateLimit.Burst = -1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}

func TestValidateConfig_DisabledPolicySkipsChecks(t *testing.T) {
	cfg := validConfig()
	disabled := false
	cfg.RateLimit = RateLimitPolicy{Enabled: &disabled}

	require.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig_RoutePolicyOverride(t *testing.T) {
	cfg := validConfig()
	cfg.Routes[0].RateLimit = &RateLimitPolicy{
		Algorithm: "token_bucket",
		Requests:  0, // invalid
		Window:    Duration(time.Minute),
	}

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routes[0].rateLimit.requests")
}

func TestValidateConfig_Routes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing name",
			mutate: func(c *Config) { c.Routes[0].Name = "" },
		},
		{
			name: "duplicate name",
			mutate: func(c *Config) {
				c.Routes = append(c.Routes, RouteConfig{
					Name:       "orders",
					PathPrefix: "/api/other",
					Upstream:   "http://other:8080",
				})
			},
		},
		{
			name:   "missing path prefix",
			mutate: func(c *Config) { c.Routes[0].PathPrefix = "" },
		},
		{
			name:   "relative path prefix",
			mutate: func(c *Config) { c.Routes[0].PathPrefix = "api/orders" },
		},
		{
			name: "duplicate path prefix",
			mutate: func(c *Config) {
				c.Routes = append(c.Routes, RouteConfig{
					Name:       "orders2",
					PathPrefix: "/api/orders",
					Upstream:   "http://other:8080",
				})
			},
		},
		{
			name:   "missing upstream",
			mutate: func(c *Config) { c.Routes[0].Upstream = "" },
		},
		{
			name:   "invalid upstream",
			mutate: func(c *Config) { c.Routes[0].Upstream = "not a url" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}

func TestValidateConfig_Store(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Type = "etcd"
	assert.Error(t, ValidateConfig(cfg))

	cfg = validConfig()
	cfg.Store.Type = StoreTypeRedis
	cfg.Store.Redis = nil
	assert.Error(t, ValidateConfig(cfg), "redis store needs an address")

	cfg.Store.Redis = &RedisStoreConfig{Address: "localhost:6379"}
	require.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig_Roles(t *testing.T) {
	cfg := validConfig()
	cfg.Roles = map[string]float64{"admin": 5.0, "guest": 0}

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roles.guest")
}

func TestValidateConfig_Cache(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.Type = "memcached"
	assert.Error(t, ValidateConfig(cfg))

	cfg = validConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.Type = CacheTypeRedis
	assert.Error(t, ValidateConfig(cfg), "redis cache needs a url")

	cfg.Cache.Redis = &RedisCacheConfig{URL: "redis://localhost:6379/0"}
	require.NoError(t, ValidateConfig(cfg))

	cfg.Cache.Redis.TTLJitter = 1.5
	assert.Error(t, ValidateConfig(cfg))
}

func TestValidateConfig_Warming(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.Warming = &WarmingConfig{
		Startup: []WarmKey{{Partition: "orders", Key: ""}},
	}

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warming")
}

func TestValidateConfig_Audit(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.Retention = 0

	assert.Error(t, ValidateConfig(cfg))
}

func TestValidationErrors_Error(t *testing.T) {
	var none ValidationErrors
	assert.Equal(t, "no validation errors", none.Error())
	assert.False(t, none.HasErrors())

	one := ValidationErrors{{Path: "a", Message: "bad"}}
	assert.Equal(t, "a: bad", one.Error())

	two := ValidationErrors{{Path: "a", Message: "bad"}, {Message: "worse"}}
	assert.Contains(t, two.Error(), "2 validation errors")
	assert.True(t, two.HasErrors())
}
