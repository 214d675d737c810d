package config

import "time"

// Default values applied by DefaultConfig and the validator.
const (
	DefaultListenAddress   = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultRateLimitRequests = 100
	DefaultRateLimitWindow   = time.Minute

	DefaultAuditRetention = 30 * 24 * time.Hour

	DefaultRedisPoolSize       = 10
	DefaultRedisConnectTimeout = 5 * time.Second
	DefaultRedisReadTimeout    = 3 * time.Second
	DefaultRedisWriteTimeout   = 3 * time.Second

	DefaultRetryMaxRetries     = 3
	DefaultRetryInitialBackoff = 100 * time.Millisecond
	DefaultRetryMaxBackoff     = 30 * time.Second

	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 10000
)

// Config is the root gateway configuration.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `yaml:"server" json:"server"`

	// Logging contains structured logging settings.
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Store contains the shared counter store settings.
	Store StoreConfig `yaml:"store" json:"store"`

	// RateLimit is the gateway-wide default rate-limit policy. Routes may
	// override it per path prefix.
	RateLimit RateLimitPolicy `yaml:"rateLimit" json:"rateLimit"`

	// Roles maps role names to limit multipliers. The "default" role is
	// implied with multiplier 1.0 when absent.
	Roles map[string]float64 `yaml:"roles,omitempty" json:"roles,omitempty"`

	// Cache contains response cache settings.
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Routes is the ordered route table. The longest matching path prefix
	// wins.
	Routes []RouteConfig `yaml:"routes" json:"routes"`

	// Security contains response header and CORS settings.
	Security SecurityConfig `yaml:"security" json:"security"`

	// TrustedProxies lists CIDR ranges whose X-Forwarded-For entries are
	// trusted during client IP resolution.
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`

	// Audit contains audit trail settings.
	Audit AuditConfig `yaml:"audit" json:"audit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddress   string   `yaml:"listenAddress" json:"listenAddress"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format" json:"format"`

	// Output is "stdout" or "stderr".
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// StoreConfig contains the shared counter store settings.
type StoreConfig struct {
	// Type is "memory" or "redis".
	Type string `yaml:"type" json:"type"`

	// Redis contains connection settings used when Type is "redis".
	Redis *RedisStoreConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// FallbackEnabled switches rate limiting to per-instance local state
	// when the store is unreachable. When false, limit checks against an
	// unreachable store fail open.
	FallbackEnabled bool `yaml:"fallbackEnabled" json:"fallbackEnabled"`
}

// RedisStoreConfig contains Redis connection settings for the counter store.
type RedisStoreConfig struct {
	Address        string            `yaml:"address" json:"address"`
	Password       string            `yaml:"password,omitempty" json:"password,omitempty"`
	DB             int               `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix      string            `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	PoolSize       int               `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	ConnectTimeout Duration          `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`
	ReadTimeout    Duration          `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout   Duration          `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	Retry          *RedisRetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// RedisRetryConfig contains retry settings for the initial Redis connection.
type RedisRetryConfig struct {
	MaxRetries     int      `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	InitialBackoff Duration `yaml:"initialBackoff,omitempty" json:"initialBackoff,omitempty"`
	MaxBackoff     Duration `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
}

// GetMaxRetries returns the effective max retries.
func (c *RedisRetryConfig) GetMaxRetries() int {
	if c == nil || c.MaxRetries <= 0 {
		return DefaultRetryMaxRetries
	}
	return c.MaxRetries
}

// GetInitialBackoff returns the effective initial backoff.
func (c *RedisRetryConfig) GetInitialBackoff() Duration {
	if c == nil || c.InitialBackoff <= 0 {
		return Duration(DefaultRetryInitialBackoff)
	}
	return c.InitialBackoff
}

// GetMaxBackoff returns the effective max backoff.
func (c *RedisRetryConfig) GetMaxBackoff() Duration {
	if c == nil || c.MaxBackoff <= 0 {
		return Duration(DefaultRetryMaxBackoff)
	}
	return c.MaxBackoff
}

// SecurityConfig contains response header and CORS settings.
type SecurityConfig struct {
	// HeadersEnabled adds the standard security response headers.
	HeadersEnabled bool `yaml:"headersEnabled" json:"headersEnabled"`

	// CORS contains cross-origin settings. Nil disables CORS handling.
	CORS *CORSConfig `yaml:"cors,omitempty" json:"cors,omitempty"`
}

// CORSConfig contains cross-origin resource sharing settings.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins" json:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods,omitempty" json:"allowedMethods,omitempty"`
	AllowedHeaders   []string `yaml:"allowedHeaders,omitempty" json:"allowedHeaders,omitempty"`
	ExposedHeaders   []string `yaml:"exposedHeaders,omitempty" json:"exposedHeaders,omitempty"`
	AllowCredentials bool     `yaml:"allowCredentials,omitempty" json:"allowCredentials,omitempty"`
	MaxAge           Duration `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`
}

// AuditConfig contains audit trail settings.
type AuditConfig struct {
	// Enabled turns on the audit trail.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Output is where audit events are appended: "stdout", "stderr", or
	// a file path. Defaults to stdout.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// Retention bounds how long audit counters live in the store.
	Retention Duration `yaml:"retention,omitempty" json:"retention,omitempty"`
}

// Store type constants.
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   DefaultListenAddress,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			IdleTimeout:     Duration(DefaultIdleTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Store: StoreConfig{
			Type:            StoreTypeMemory,
			FallbackEnabled: true,
		},
		RateLimit: RateLimitPolicy{
			Algorithm: "fixed_window",
			Requests:  DefaultRateLimitRequests,
			Window:    Duration(DefaultRateLimitWindow),
		},
		Cache: *DefaultCacheConfig(),
		Audit: AuditConfig{
			Enabled:   false,
			Retention: Duration(DefaultAuditRetention),
		},
	}
}
