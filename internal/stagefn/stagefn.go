// Package stagefn supplies the stage function implementations the
// daemon registers: external collaborator commands configured per
// stage, with built-in placeholder transforms for stages left
// unconfigured so a development pipeline runs end to end.
package stagefn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"scribeline/internal/config"
	"scribeline/internal/services"
	"scribeline/internal/stage"
)

// permanentExitCode is the collaborator contract: a command exits 2 to
// signal that retrying the same input can never succeed.
const permanentExitCode = 2

// NewRegistry builds the stage function registry from configuration.
func NewRegistry(cfg *config.Config) stage.Registry {
	return stage.Registry{
		stage.KindTranscribe: forStage(stage.KindTranscribe, cfg.Stages.Transcribe),
		stage.KindSummarize:  forStage(stage.KindSummarize, cfg.Stages.Summarize),
		stage.KindExtract:    forStage(stage.KindExtract, cfg.Stages.Extract),
		stage.KindFormFill:   forStage(stage.KindFormFill, cfg.Stages.FormFill),
	}
}

func forStage(kind stage.Kind, sc config.StageCommand) stage.Func {
	if len(sc.Command) == 0 {
		return builtin(kind)
	}
	return Command(kind, sc.Command)
}

// Command wraps an external collaborator. The prior artifact arrives on
// stdin and the result is read from stdout; stderr feeds the error
// message on failure.
func Command(kind stage.Kind, argv []string) stage.Func {
	return func(ctx context.Context, req stage.Request) ([]byte, error) {
		if len(argv) == 0 {
			return nil, services.Wrap(services.ErrPermanent, "stagefn", string(kind), "empty command", nil)
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdin = bytes.NewReader(req.Input)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.Env = append(cmd.Environ(),
			"SCRIBELINE_APPOINTMENT_ID="+req.AppointmentID,
			"SCRIBELINE_STAGE="+string(kind),
		)

		err := cmd.Run()
		if err == nil {
			return stdout.Bytes(), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == permanentExitCode {
			return nil, services.Wrap(services.ErrPermanent, "stagefn", string(kind), detail, err)
		}
		return nil, services.Wrap(services.ErrTransient, "stagefn", string(kind), detail, err)
	}
}

// builtin returns a deterministic placeholder transform for stages with
// no collaborator configured. Output is plainly labeled so it cannot be
// mistaken for clinical content.
func builtin(kind stage.Kind) stage.Func {
	return func(ctx context.Context, req stage.Request) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header := fmt.Sprintf("[placeholder %s for %s]\n", kind, req.AppointmentID)
		switch kind {
		case stage.KindTranscribe:
			return []byte(header + fmt.Sprintf("audio input: %d bytes\n", len(req.Input))), nil
		case stage.KindSummarize:
			return []byte(header + truncate(string(req.Input), 280) + "\n"), nil
		case stage.KindExtract:
			return []byte(header + fmt.Sprintf("{\"patient_ref\":%q,\"source_bytes\":%d}\n", req.PatientRef, len(req.Input))), nil
		case stage.KindFormFill:
			return []byte(header + "form: " + truncate(string(req.Input), 280) + "\n"), nil
		default:
			return nil, services.Wrap(services.ErrPermanent, "stagefn", string(kind), "unknown stage", nil)
		}
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
