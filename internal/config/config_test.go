package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scribeline/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected missing file to be reported as absent")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.Pipeline.Workers != 2 {
		t.Fatalf("expected default workers, got %d", cfg.Pipeline.Workers)
	}
}

func TestLoadParsesAndExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
artifact_dir = "` + filepath.Join(dir, "artifacts") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[pipeline]
workers = 4
max_attempts = 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected file to exist")
	}
	if cfg.Pipeline.Workers != 4 || cfg.Pipeline.MaxAttempts != 5 {
		t.Fatalf("unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("expected absolute data dir, got %q", cfg.Paths.DataDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero workers", func(c *config.Config) { c.Pipeline.Workers = 0 }, "pipeline.workers"},
		{"zero attempts", func(c *config.Config) { c.Pipeline.MaxAttempts = 0 }, "pipeline.max_attempts"},
		{"backoff cap below base", func(c *config.Config) { c.Pipeline.RetryBackoffMaxSeconds = 1 }, "retry_backoff_max_seconds"},
		{"no key source", func(c *config.Config) {
			c.Security.MasterKeyEnv = ""
			c.Security.PassphraseEnv = ""
		}, "security.master_key_env"},
		{"weak kdf", func(c *config.Config) { c.Security.KDFIterations = 10 }, "kdf_iterations"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.ArtifactDir = filepath.Join(dir, "artifacts")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{cfg.Paths.DataDir, cfg.Paths.ArtifactDir, cfg.Paths.LogDir} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist", d)
		}
	}
}
