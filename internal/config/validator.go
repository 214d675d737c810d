package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/edgegate/edgegate/internal/ratelimit"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a gateway configuration. Callers treat a
// returned error as fatal at startup.
func ValidateConfig(config *Config) error {
	return NewValidator().Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *Config) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&config.Server)
	v.validateLogging(&config.Logging)
	v.validateStore(&config.Store)
	v.validateRateLimitPolicy(&config.RateLimit, "rateLimit")
	v.validateRoles(config.Roles)
	v.validateCache(&config.Cache)
	v.validateRoutes(config.Routes, &config.RateLimit)
	v.validateAudit(&config.Audit)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServer(server *ServerConfig) {
	if server.ListenAddress == "" {
		v.addError("server.listenAddress", "listen address is required")
	}
}

func (v *Validator) validateLogging(logging *LoggingConfig) {
	switch logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", fmt.Sprintf("unknown log level %q", logging.Level))
	}

	switch logging.Format {
	case "", "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("unknown log format %q", logging.Format))
	}
}

func (v *Validator) validateStore(store *StoreConfig) {
	switch store.Type {
	case "", StoreTypeMemory:
	case StoreTypeRedis:
		if store.Redis == nil || store.Redis.Address == "" {
			v.addError("store.redis.address", "address is required for redis store")
		}
	default:
		v.addError("store.type", fmt.Sprintf("unknown store type %q", store.Type))
	}
}

func (v *Validator) validateRateLimitPolicy(policy *RateLimitPolicy, path string) {
	if !policy.IsEnabled() {
		return
	}

	if !ratelimit.Algorithm(policy.Algorithm).Valid() {
		v.addError(path+".algorithm", fmt.Sprintf("unknown algorithm %q", policy.Algorithm))
	}
	if policy.Requests <= 0 {
		v.addError(path+".requests", "requests must be greater than zero")
	}
	if policy.Window.Duration() <= 0 {
		v.addError(path+".window", "window must be greater than zero")
	}
	if policy.Burst < 0 {
		v.addError(path+".burst", "burst must not be negative")
	}
}

func (v *Validator) validateRoles(roles map[string]float64) {
	for name, multiplier := range roles {
		if multiplier <= 0 {
			v.addError("roles."+name, "multiplier must be greater than zero")
		}
	}
}

func (v *Validator) validateCache(cache *CacheConfig) {
	if !cache.Enabled {
		return
	}

	switch cache.Type {
	case CacheTypeMemory:
		if cache.MaxEntries < 0 {
			v.addError("cache.maxEntries", "maxEntries must not be negative")
		}
	case CacheTypeRedis:
		if cache.Redis.IsEmpty() {
			v.addError("cache.redis.url", "url is required for redis cache")
		}
	default:
		v.addError("cache.type", fmt.Sprintf("unknown cache type %q", cache.Type))
	}

	if cache.Redis != nil && (cache.Redis.TTLJitter < 0 || cache.Redis.TTLJitter > 1) {
		v.addError("cache.redis.ttlJitter", "ttlJitter must be between 0.0 and 1.0")
	}

	if cache.Warming != nil {
		for i, key := range cache.Warming.Startup {
			if key.Partition == "" || key.Key == "" {
				v.addError(fmt.Sprintf("cache.warming.startup[%d]", i),
					"partition and key are required")
			}
		}
	}
}

func (v *Validator) validateRoutes(routes []RouteConfig, global *RateLimitPolicy) {
	names := make(map[string]bool)
	prefixes := make(map[string]string)

	for i, route := range routes {
		path := fmt.Sprintf("routes[%d]", i)

		if route.Name == "" {
			v.addError(path+".name", "name is required")
		} else if names[route.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate route name %q", route.Name))
		}
		names[route.Name] = true

		if route.PathPrefix == "" {
			v.addError(path+".pathPrefix", "pathPrefix is required")
		} else if !strings.HasPrefix(route.PathPrefix, "/") {
			v.addError(path+".pathPrefix", "pathPrefix must start with '/'")
		} else if existing, dup := prefixes[route.PathPrefix]; dup {
			v.addError(path+".pathPrefix",
				fmt.Sprintf("prefix %q already used by route %q", route.PathPrefix, existing))
		}
		prefixes[route.PathPrefix] = route.Name

		if route.Upstream == "" {
			v.addError(path+".upstream", "upstream is required")
		} else if u, err := url.Parse(route.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
			v.addError(path+".upstream", fmt.Sprintf("invalid upstream URL %q", route.Upstream))
		}

		if route.Timeout.Duration() < 0 {
			v.addError(path+".timeout", "timeout must not be negative")
		}

		if route.RateLimit != nil {
			v.validateRateLimitPolicy(route.RateLimit, path+".rateLimit")
		}

		if route.Cache != nil && route.Cache.TTL.Duration() < 0 {
			v.addError(path+".cache.ttl", "ttl must not be negative")
		}
	}
}

func (v *Validator) validateAudit(audit *AuditConfig) {
	if audit.Enabled && audit.Retention.Duration() <= 0 {
		v.addError("audit.retention", "retention must be greater than zero")
	}
}

// addError appends a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
