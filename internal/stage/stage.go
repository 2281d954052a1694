// Package stage defines the pipeline stage contract and the executor
// that runs one stage against an appointment: decrypt the input
// artifact, call the stage function under its timeout, encrypt and
// persist the output, and commit the state transition.
package stage

import (
	"context"
	"time"

	"scribeline/internal/config"
	"scribeline/internal/store"
)

// Kind identifies one pipeline stage.
type Kind string

const (
	KindTranscribe Kind = "transcribe"
	KindSummarize  Kind = "summarize"
	KindExtract    Kind = "extract"
	KindFormFill   Kind = "form_fill"
)

// Request carries the decrypted input to a stage function. The Input
// buffer is zeroed after the stage returns; functions must not retain it.
type Request struct {
	AppointmentID string
	PatientRef    string
	Stage         Kind
	Input         []byte
}

// Func transforms stage input into stage output. Errors wrapped with a
// services sentinel control retry policy; unmarked errors are treated
// as transient.
type Func func(ctx context.Context, req Request) ([]byte, error)

// Registry maps stage kinds to their implementations.
type Registry map[Kind]Func

// Definition binds a stage to its lifecycle states and artifacts.
type Definition struct {
	Kind       Kind
	From       store.Status
	Processing store.Status
	Done       store.Status
	Input      store.ArtifactKind
	Output     store.ArtifactKind
	Timeout    time.Duration
}

// Definitions returns the pipeline's stages in execution order, with
// timeouts taken from configuration.
func Definitions(cfg *config.Config) []Definition {
	return []Definition{
		{
			Kind:       KindTranscribe,
			From:       store.StatusRecorded,
			Processing: store.StatusTranscribing,
			Done:       store.StatusTranscribed,
			Input:      store.ArtifactAudio,
			Output:     store.ArtifactTranscript,
			Timeout:    time.Duration(cfg.Stages.Transcribe.TimeoutSeconds) * time.Second,
		},
		{
			Kind:       KindSummarize,
			From:       store.StatusTranscribed,
			Processing: store.StatusSummarizing,
			Done:       store.StatusSummarized,
			Input:      store.ArtifactTranscript,
			Output:     store.ArtifactSummary,
			Timeout:    time.Duration(cfg.Stages.Summarize.TimeoutSeconds) * time.Second,
		},
		{
			Kind:       KindExtract,
			From:       store.StatusSummarized,
			Processing: store.StatusExtracting,
			Done:       store.StatusExtracted,
			Input:      store.ArtifactTranscript,
			Output:     store.ArtifactExtraction,
			Timeout:    time.Duration(cfg.Stages.Extract.TimeoutSeconds) * time.Second,
		},
		{
			Kind:       KindFormFill,
			From:       store.StatusExtracted,
			Processing: store.StatusFormFilling,
			Done:       store.StatusCompleted,
			Input:      store.ArtifactExtraction,
			Output:     store.ArtifactForm,
			Timeout:    time.Duration(cfg.Stages.FormFill.TimeoutSeconds) * time.Second,
		},
	}
}

// ForStatus finds the stage that starts from the given committed status.
func ForStatus(defs []Definition, status store.Status) (Definition, bool) {
	for _, def := range defs {
		if def.From == status {
			return def, true
		}
	}
	return Definition{}, false
}
