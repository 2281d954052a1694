package preflight

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"scribeline/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is
// readable and writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s does not exist", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s: stat: %v", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s is not a directory", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s: insufficient permissions: %v", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckKeyMaterial verifies that master key material is supplied
// through the configured environment variables. The key value itself is
// validated for shape only; unwrap failures surface at startup.
func CheckKeyMaterial(cfg *config.Config) Result {
	const name = "Key material"

	if env := cfg.Security.MasterKeyEnv; env != "" {
		if raw := strings.TrimSpace(os.Getenv(env)); raw != "" {
			key, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return Result{Name: name, Detail: fmt.Sprintf("%s is not valid base64", env)}
			}
			if len(key) != 32 {
				return Result{Name: name, Detail: fmt.Sprintf("%s decodes to %d bytes, want 32", env, len(key))}
			}
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("master key from %s", env)}
		}
	}

	if env := cfg.Security.PassphraseEnv; env != "" {
		if strings.TrimSpace(os.Getenv(env)) != "" {
			if strings.TrimSpace(cfg.Security.KDFSalt) == "" {
				return Result{Name: name, Detail: "passphrase set but security.kdf_salt is empty"}
			}
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("passphrase from %s", env)}
		}
	}

	return Result{Name: name, Detail: "no master key or passphrase in environment"}
}

// CheckStageCommands verifies that each configured stage command
// resolves on PATH. Stages without a command fall back to builtin
// placeholder transforms and pass as optional.
func CheckStageCommands(cfg *config.Config) []Result {
	stages := []struct {
		name string
		cmd  config.StageCommand
	}{
		{"Transcribe command", cfg.Stages.Transcribe},
		{"Summarize command", cfg.Stages.Summarize},
		{"Extract command", cfg.Stages.Extract},
		{"Form fill command", cfg.Stages.FormFill},
	}

	results := make([]Result, 0, len(stages))
	for _, stage := range stages {
		if len(stage.cmd.Command) == 0 || strings.TrimSpace(stage.cmd.Command[0]) == "" {
			results = append(results, Result{
				Name:     stage.name,
				Passed:   true,
				Optional: true,
				Detail:   "not configured; builtin placeholder in use",
			})
			continue
		}
		binary := stage.cmd.Command[0]
		if _, err := exec.LookPath(binary); err != nil {
			results = append(results, Result{
				Name:   stage.name,
				Detail: fmt.Sprintf("binary %q not found on PATH", binary),
			})
			continue
		}
		results = append(results, Result{
			Name:   stage.name,
			Passed: true,
			Detail: binary,
		})
	}
	return results
}
