// Package config provides configuration types, loading, validation, and
// hot reload for the gateway. Configuration is YAML with ${VAR} environment
// variable substitution; durations are human-readable strings ("30s", "5m").
package config
