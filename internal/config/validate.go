package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		problems = append(problems, "paths.artifact_dir must be set")
	}
	if c.Security.MasterKeyEnv == "" && c.Security.PassphraseEnv == "" {
		problems = append(problems, "security.master_key_env or security.passphrase_env must be set")
	}
	if c.Security.PassphraseEnv != "" && c.Security.KDFIterations < 100000 {
		problems = append(problems, "security.kdf_iterations must be at least 100000 when a passphrase is used")
	}
	if c.Pipeline.Workers < 1 {
		problems = append(problems, "pipeline.workers must be at least 1")
	}
	if c.Pipeline.QueueDepth < 1 {
		problems = append(problems, "pipeline.queue_depth must be at least 1")
	}
	if c.Pipeline.MaxAttempts < 1 {
		problems = append(problems, "pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.RetryBackoffSeconds < 1 {
		problems = append(problems, "pipeline.retry_backoff_seconds must be at least 1")
	}
	if c.Pipeline.RetryBackoffMaxSeconds < c.Pipeline.RetryBackoffSeconds {
		problems = append(problems, "pipeline.retry_backoff_max_seconds must not be below retry_backoff_seconds")
	}
	if c.Pipeline.PollIntervalSeconds < 1 {
		problems = append(problems, "pipeline.poll_interval_seconds must be at least 1")
	}

	for _, stage := range []struct {
		name string
		cmd  StageCommand
	}{
		{"stages.transcribe", c.Stages.Transcribe},
		{"stages.summarize", c.Stages.Summarize},
		{"stages.extract", c.Stages.Extract},
		{"stages.form_fill", c.Stages.FormFill},
	} {
		if stage.cmd.TimeoutSeconds < 1 {
			problems = append(problems, fmt.Sprintf("%s.timeout_seconds must be at least 1", stage.name))
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
