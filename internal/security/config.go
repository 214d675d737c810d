package security

import (
	"errors"
	"fmt"
	"strings"
)

// Config represents the security-header configuration.
type Config struct {
	// Enabled enables security headers.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Headers configures the basic security headers.
	Headers *HeadersConfig `yaml:"headers,omitempty" json:"headers,omitempty"`

	// HSTS configures HTTP Strict Transport Security.
	HSTS *HSTSConfig `yaml:"hsts,omitempty" json:"hsts,omitempty"`

	// ReferrerPolicy configures the Referrer-Policy header.
	ReferrerPolicy string `yaml:"referrerPolicy,omitempty" json:"referrerPolicy,omitempty"`
}

// HeadersConfig configures the basic security headers.
type HeadersConfig struct {
	// Enabled enables these headers.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// XFrameOptions sets the X-Frame-Options header.
	// Valid values: DENY, SAMEORIGIN, ALLOW-FROM uri
	XFrameOptions string `yaml:"xFrameOptions,omitempty" json:"xFrameOptions,omitempty"`

	// XContentTypeOptions sets the X-Content-Type-Options header.
	// Valid value: nosniff
	XContentTypeOptions string `yaml:"xContentTypeOptions,omitempty" json:"xContentTypeOptions,omitempty"`

	// XXSSProtection sets the X-XSS-Protection header.
	// Valid values: 0, 1, 1; mode=block
	XXSSProtection string `yaml:"xXSSProtection,omitempty" json:"xXSSProtection,omitempty"`

	// CustomHeaders allows setting additional response headers.
	CustomHeaders map[string]string `yaml:"customHeaders,omitempty" json:"customHeaders,omitempty"`

	// RemoveHeaders specifies headers to strip from responses, e.g.
	// Server or X-Powered-By leaked by upstreams.
	RemoveHeaders []string `yaml:"removeHeaders,omitempty" json:"removeHeaders,omitempty"`
}

// HSTSConfig configures HTTP Strict Transport Security.
type HSTSConfig struct {
	// Enabled enables HSTS.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxAge is the max-age directive value in seconds.
	MaxAge int `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`

	// IncludeSubDomains includes the includeSubDomains directive.
	IncludeSubDomains bool `yaml:"includeSubDomains,omitempty" json:"includeSubDomains,omitempty"`

	// Preload includes the preload directive.
	Preload bool `yaml:"preload,omitempty" json:"preload,omitempty"`
}

// Validate validates the security configuration.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	if c.Headers != nil && c.Headers.Enabled {
		if err := c.Headers.Validate(); err != nil {
			return fmt.Errorf("headers config: %w", err)
		}
	}

	if c.HSTS != nil && c.HSTS.Enabled {
		if err := c.HSTS.Validate(); err != nil {
			return fmt.Errorf("hsts config: %w", err)
		}
	}

	return c.validateReferrerPolicy()
}

func (c *Config) validateReferrerPolicy() error {
	if c.ReferrerPolicy == "" {
		return nil
	}

	validPolicies := map[string]bool{
		"no-referrer":                     true,
		"no-referrer-when-downgrade":      true,
		"origin":                          true,
		"origin-when-cross-origin":        true,
		"same-origin":                     true,
		"strict-origin":                   true,
		"strict-origin-when-cross-origin": true,
		"unsafe-url":                      true,
	}

	if !validPolicies[c.ReferrerPolicy] {
		return fmt.Errorf("invalid referrer policy: %s", c.ReferrerPolicy)
	}

	return nil
}

// Validate validates the headers configuration.
func (c *HeadersConfig) Validate() error {
	if c == nil {
		return nil
	}

	if c.XFrameOptions != "" {
		upper := strings.ToUpper(c.XFrameOptions)
		if upper != "DENY" && upper != "SAMEORIGIN" && !strings.HasPrefix(upper, "ALLOW-FROM ") {
			return fmt.Errorf("invalid X-Frame-Options: %s", c.XFrameOptions)
		}
	}

	if c.XContentTypeOptions != "" && c.XContentTypeOptions != "nosniff" {
		return fmt.Errorf("invalid X-Content-Type-Options: %s (must be 'nosniff')", c.XContentTypeOptions)
	}

	return nil
}

// Validate validates the HSTS configuration.
func (c *HSTSConfig) Validate() error {
	if c == nil {
		return nil
	}

	if c.MaxAge < 0 {
		return errors.New("maxAge must be non-negative")
	}

	// Preload requires includeSubDomains and maxAge >= 1 year
	if c.Preload {
		if !c.IncludeSubDomains {
			return errors.New("preload requires includeSubDomains")
		}
		if c.MaxAge < 31536000 {
			return errors.New("preload requires maxAge >= 31536000 (1 year)")
		}
	}

	return nil
}

// DefaultConfig returns a default security configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Headers: &HeadersConfig{
			Enabled:             true,
			XFrameOptions:       "DENY",
			XContentTypeOptions: "nosniff",
			XXSSProtection:      "1; mode=block",
		},
		HSTS: &HSTSConfig{
			Enabled:           true,
			MaxAge:            31536000,
			IncludeSubDomains: true,
			Preload:           false,
		},
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}
}

// IsHeadersEnabled returns true if security headers are enabled.
func (c *Config) IsHeadersEnabled() bool {
	return c != nil && c.Enabled && c.Headers != nil && c.Headers.Enabled
}

// IsHSTSEnabled returns true if HSTS is enabled.
func (c *Config) IsHSTSEnabled() bool {
	return c != nil && c.Enabled && c.HSTS != nil && c.HSTS.Enabled
}
