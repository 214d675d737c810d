package config

// RouteConfig describes one entry in the route table. Requests are matched
// by path prefix; the longest matching prefix wins.
type RouteConfig struct {
	// Name identifies the route in logs, metrics, and cache partitions.
	Name string `yaml:"name" json:"name"`

	// PathPrefix is the request path prefix this route matches.
	PathPrefix string `yaml:"pathPrefix" json:"pathPrefix"`

	// Upstream is the backend base URL requests are proxied to.
	Upstream string `yaml:"upstream" json:"upstream"`

	// Timeout bounds how long an upstream request may take. Zero means
	// no per-route deadline.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// RateLimit overrides the gateway-wide policy for this route.
	RateLimit *RateLimitPolicy `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`

	// Cache enables response caching for this route.
	Cache *RouteCacheConfig `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// RateLimitPolicy describes a rate-limit policy, either gateway-wide or
// per route.
type RateLimitPolicy struct {
	// Enabled allows a route to switch limiting off entirely. Defaults to
	// true for the gateway-wide policy.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Algorithm is one of fixed_window, sliding_window, token_bucket,
	// leaky_bucket.
	Algorithm string `yaml:"algorithm" json:"algorithm"`

	// Requests is the number of requests allowed per Window.
	Requests int `yaml:"requests" json:"requests"`

	// Window is the time window the limit applies to.
	Window Duration `yaml:"window" json:"window"`

	// Burst is the bucket capacity for token_bucket and leaky_bucket.
	// Zero means Requests is used as the capacity.
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`

	// ByUser keys limits by the authenticated subject instead of the
	// client IP when a subject is present.
	ByUser bool `yaml:"byUser,omitempty" json:"byUser,omitempty"`
}

// IsEnabled reports whether the policy is active.
func (p *RateLimitPolicy) IsEnabled() bool {
	if p == nil {
		return false
	}
	return p.Enabled == nil || *p.Enabled
}

// RouteCacheConfig contains per-route response cache settings.
type RouteCacheConfig struct {
	// Enabled turns on read-through caching for the route.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Partition is the cache partition domain for the route. Defaults to
	// the route name.
	Partition string `yaml:"partition,omitempty" json:"partition,omitempty"`

	// TTL overrides the global cache TTL for this route.
	TTL Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// EffectivePolicy returns the route's policy, falling back to the
// gateway-wide default when the route carries none.
func (r *RouteConfig) EffectivePolicy(global *RateLimitPolicy) *RateLimitPolicy {
	if r != nil && r.RateLimit != nil {
		return r.RateLimit
	}
	return global
}

// CachePartition returns the partition domain for the route.
func (r *RouteConfig) CachePartition() string {
	if r.Cache != nil && r.Cache.Partition != "" {
		return r.Cache.Partition
	}
	return r.Name
}
