package config

// CacheConfig represents response cache configuration.
type CacheConfig struct {
	// Enabled indicates whether caching is enabled.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Type is the cache backend type: "memory" or "redis".
	Type string `yaml:"type" json:"type"`

	// TTL is the default time-to-live for cached entries.
	TTL Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// MaxEntries is the maximum number of entries for the memory cache.
	MaxEntries int `yaml:"maxEntries,omitempty" json:"maxEntries,omitempty"`

	// Redis contains Redis-specific configuration.
	Redis *RedisCacheConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// HonorCacheControl when true, respects Cache-Control request and
	// response headers.
	HonorCacheControl bool `yaml:"honorCacheControl,omitempty" json:"honorCacheControl,omitempty"`

	// Warming contains cache warming configuration.
	Warming *WarmingConfig `yaml:"warming,omitempty" json:"warming,omitempty"`
}

// RedisCacheConfig contains Redis-specific cache configuration.
type RedisCacheConfig struct {
	// URL is the Redis connection URL.
	// Format: redis://[user:password@]host:port[/db]
	URL string `yaml:"url" json:"url"`

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`

	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`

	// KeyPrefix is a prefix added to all cache keys.
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`

	// Retry contains retry configuration for the initial connection.
	Retry *RedisRetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`

	// TTLJitter is the maximum fraction of jitter added to TTL values
	// (0.0 to 1.0) to spread expirations. Default is 0.
	TTLJitter float64 `yaml:"ttlJitter,omitempty" json:"ttlJitter,omitempty"`

	// HashKeys when true, SHA256-hashes cache keys before storing.
	HashKeys bool `yaml:"hashKeys,omitempty" json:"hashKeys,omitempty"`
}

// WarmingConfig contains cache warming configuration.
type WarmingConfig struct {
	// Startup lists keys to warm when the gateway starts.
	Startup []WarmKey `yaml:"startup,omitempty" json:"startup,omitempty"`

	// ScheduleInterval re-warms the startup set on a fixed interval.
	// Zero disables scheduled warming.
	ScheduleInterval Duration `yaml:"scheduleInterval,omitempty" json:"scheduleInterval,omitempty"`

	// Predictive enables access-pattern driven warming.
	Predictive bool `yaml:"predictive,omitempty" json:"predictive,omitempty"`
}

// WarmKey names one cache entry to warm: a partition domain plus the key
// within it.
type WarmKey struct {
	Partition string `yaml:"partition" json:"partition"`
	Key       string `yaml:"key" json:"key"`
}

// Cache type constants.
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// DefaultCacheConfig returns default cache configuration.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:    false,
		Type:       CacheTypeMemory,
		TTL:        Duration(DefaultCacheTTL),
		MaxEntries: DefaultCacheMaxEntries,
	}
}

// DefaultRedisCacheConfig returns default Redis cache configuration.
func DefaultRedisCacheConfig() *RedisCacheConfig {
	return &RedisCacheConfig{
		PoolSize:       DefaultRedisPoolSize,
		ConnectTimeout: Duration(DefaultRedisConnectTimeout),
		ReadTimeout:    Duration(DefaultRedisReadTimeout),
		WriteTimeout:   Duration(DefaultRedisWriteTimeout),
	}
}

// IsEmpty returns true if the CacheConfig has no meaningful configuration.
func (cc *CacheConfig) IsEmpty() bool {
	if cc == nil {
		return true
	}
	return !cc.Enabled
}

// IsEmpty returns true if the RedisCacheConfig has no configuration.
func (rcc *RedisCacheConfig) IsEmpty() bool {
	if rcc == nil {
		return true
	}
	return rcc.URL == ""
}
