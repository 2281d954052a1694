// Package config loads, validates, and normalizes the TOML configuration
// shared by the daemon and CLI. Paths are expanded (~ aware) and made
// absolute during load; secrets are only ever referenced by environment
// variable name, never stored in the file.
package config
