package testsupport

import (
	"path/filepath"
	"testing"

	"scribeline/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Pipeline.PollIntervalSeconds = 1
	cfg.Pipeline.ErrorRetryIntervalSeconds = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxAttempts overrides the retry ceiling on the test config.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.MaxAttempts = attempts
	}
}

// WithWorkers overrides the worker count on the test config.
func WithWorkers(workers int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.Workers = workers
	}
}

// WithBackoff overrides the retry backoff window on the test config.
func WithBackoff(baseSeconds, maxSeconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.RetryBackoffSeconds = baseSeconds
		cfg.Pipeline.RetryBackoffMaxSeconds = maxSeconds
	}
}
