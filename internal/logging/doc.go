// Package logging configures slog for the daemon and CLI: a console
// handler that renders compact key=value lines, a JSON handler for
// machine consumption, attribute helpers, and context-derived fields
// (appointment, stage, correlation id).
package logging
