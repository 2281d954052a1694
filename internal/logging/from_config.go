package logging

import (
	"log/slog"

	"scribeline/internal/config"
)

// NewFromConfig creates a logger using application config defaults. Log
// output goes to stdout plus a daemon log file under the configured log
// directory when one is set.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console"})
	}

	outputs := []string{"stdout"}
	if path := cfg.DaemonLogPath(); path != "" {
		outputs = append(outputs, path)
	}
	return New(Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
}
