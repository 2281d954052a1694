// Package preflight checks daemon prerequisites before processing
// starts: directory access, key material supply, and the availability
// of configured stage commands.
package preflight
