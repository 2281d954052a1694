package stagefn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"scribeline/internal/services"
	"scribeline/internal/stage"
	"scribeline/internal/testsupport"
)

func TestCommandPipesStdinToStdout(t *testing.T) {
	fn := Command(stage.KindTranscribe, []string{"tr", "a-z", "A-Z"})

	out, err := fn(context.Background(), stage.Request{
		AppointmentID: "appt-1",
		Stage:         stage.KindTranscribe,
		Input:         []byte("quiet words"),
	})
	if err != nil {
		t.Fatalf("Command returned error: %v", err)
	}
	if string(out) != "QUIET WORDS" {
		t.Errorf("output = %q, want QUIET WORDS", out)
	}
}

func TestCommandExitTwoIsPermanent(t *testing.T) {
	fn := Command(stage.KindSummarize, []string{"sh", "-c", "echo unsupported input >&2; exit 2"})

	_, err := fn(context.Background(), stage.Request{AppointmentID: "appt-1"})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported input") {
		t.Errorf("error %q does not carry stderr detail", err)
	}
}

func TestCommandOtherExitIsTransient(t *testing.T) {
	fn := Command(stage.KindSummarize, []string{"sh", "-c", "exit 1"})

	_, err := fn(context.Background(), stage.Request{AppointmentID: "appt-1"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCommandMissingBinaryIsTransient(t *testing.T) {
	fn := Command(stage.KindExtract, []string{"/nonexistent/collaborator"})

	_, err := fn(context.Background(), stage.Request{AppointmentID: "appt-1"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for missing binary, got %v", err)
	}
}

func TestCommandHonorsContextCancellation(t *testing.T) {
	fn := Command(stage.KindTranscribe, []string{"sleep", "10"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := fn(ctx, stage.Request{AppointmentID: "appt-1"})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("command did not stop promptly, took %s", elapsed)
	}
}

func TestNewRegistryFallsBackToBuiltins(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	registry := NewRegistry(cfg)

	for _, kind := range []stage.Kind{stage.KindTranscribe, stage.KindSummarize, stage.KindExtract, stage.KindFormFill} {
		fn, ok := registry[kind]
		if !ok {
			t.Fatalf("registry missing %s", kind)
		}
		out, err := fn(context.Background(), stage.Request{
			AppointmentID: "appt-1",
			PatientRef:    "patient-1",
			Stage:         kind,
			Input:         []byte("prior artifact"),
		})
		if err != nil {
			t.Fatalf("builtin %s returned error: %v", kind, err)
		}
		if !strings.Contains(string(out), "placeholder") {
			t.Errorf("builtin %s output is not labeled as placeholder: %q", kind, out)
		}
	}
}

func TestNewRegistryUsesConfiguredCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Stages.Transcribe.Command = []string{"cat"}
	registry := NewRegistry(cfg)

	out, err := registry[stage.KindTranscribe](context.Background(), stage.Request{Input: []byte("pass through")})
	if err != nil {
		t.Fatalf("configured command returned error: %v", err)
	}
	if string(out) != "pass through" {
		t.Errorf("output = %q, want pass through", out)
	}
}
