// Package config handles YAML and TOML configuration loading with
// environment variable substitution and LIVE_* environment overrides.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
package config
