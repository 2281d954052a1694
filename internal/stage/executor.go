package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"scribeline/internal/crypt"
	"scribeline/internal/fileutil"
	"scribeline/internal/logging"
	"scribeline/internal/services"
	"scribeline/internal/store"
)

// Executor runs stages against claimed appointments.
type Executor struct {
	store       *store.Store
	crypto      *crypt.Manager
	fns         Registry
	artifactDir string
	logger      *slog.Logger
}

// NewExecutor wires the executor to the shared store, the key manager,
// and the registered stage functions.
func NewExecutor(st *store.Store, crypto *crypt.Manager, fns Registry, artifactDir string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		store:       st,
		crypto:      crypto,
		fns:         fns,
		artifactDir: artifactDir,
		logger:      logger,
	}
}

// Run executes one stage for an appointment already claimed into
// def.Processing. On success the appointment lands in def.Done with its
// output artifact registered; on failure the appointment is left in
// def.Processing for the scheduler to roll back and classify.
func (e *Executor) Run(ctx context.Context, appt *store.Appointment, def Definition) error {
	ctx = services.WithAppointmentID(ctx, appt.ID)
	ctx = services.WithStage(ctx, string(def.Kind))
	logger := logging.WithContext(ctx, e.logger)

	fn, ok := e.fns[def.Kind]
	if !ok {
		return services.Wrap(services.ErrPermanent, "stage", string(def.Kind), "no implementation registered", nil)
	}
	if appt.KeyRef == "" {
		return services.Wrap(services.ErrPermanent, "stage", string(def.Kind), "appointment has no data key", nil)
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("input_artifact", string(def.Input)),
	)
	started := time.Now()

	input, err := e.loadInput(ctx, appt, def)
	if err != nil {
		return err
	}

	stageCtx := ctx
	cancel := context.CancelFunc(func() {})
	if def.Timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, def.Timeout)
	}
	output, fnErr := fn(stageCtx, Request{
		AppointmentID: appt.ID,
		PatientRef:    appt.PatientRef,
		Stage:         def.Kind,
		Input:         input,
	})
	cancel()
	crypt.Zero(input)
	if fnErr != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTransient, "stage", string(def.Kind),
				fmt.Sprintf("timed out after %s", def.Timeout), fnErr)
		}
		return fnErr
	}

	blob, checksum, err := e.crypto.EncryptArtifact(ctx, appt.KeyRef, output)
	crypt.Zero(output)
	if err != nil {
		return err
	}

	path := e.artifactPath(appt.ID, def.Output)
	if err := fileutil.WriteFileAtomic(path, blob, 0o600); err != nil {
		return services.Wrap(services.ErrTransient, "stage", string(def.Kind), "write artifact blob", err)
	}

	artifact := &store.Artifact{
		AppointmentID: appt.ID,
		Kind:          def.Output,
		Path:          path,
		Checksum:      checksum,
		Size:          int64(len(blob)),
	}
	if err := e.store.Advance(ctx, appt.ID, def.Processing, def.Done, artifact); err != nil {
		return err
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("output_artifact", string(def.Output)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// loadInput reads, verifies, and decrypts the stage's input artifact.
func (e *Executor) loadInput(ctx context.Context, appt *store.Appointment, def Definition) ([]byte, error) {
	descriptor, err := e.store.ArtifactByKind(ctx, appt.ID, def.Input)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(descriptor.Path)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "stage", string(def.Kind), "read input blob", err)
	}
	// Verify the bytes that will be decrypted, not a second read of the
	// path, so the check and the decryption cannot diverge.
	if fileutil.ChecksumBytes(blob) != descriptor.Checksum {
		return nil, services.Wrap(services.ErrIntegrity, "stage", string(def.Kind),
			fmt.Sprintf("input %s checksum mismatch", def.Input), nil)
	}
	return e.crypto.DecryptArtifact(ctx, appt.KeyRef, blob)
}

func (e *Executor) artifactPath(appointmentID string, kind store.ArtifactKind) string {
	return filepath.Join(e.artifactDir, appointmentID, string(kind)+".enc")
}
