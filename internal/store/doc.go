// Package store persists appointment records, artifact manifests, and
// wrapped encryption keys in SQLite. State transitions go through
// Advance, a conditional update that only succeeds when the stored state
// matches the caller's expectation, which is the sole mutation guard the
// pipeline relies on.
package store
