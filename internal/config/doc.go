// Package config loads, normalizes, and validates setupsync configuration
// from TOML files, with environment fallbacks for provider credentials.
package config
