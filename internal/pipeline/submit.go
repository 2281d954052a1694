package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"scribeline/internal/audit"
	"scribeline/internal/fileutil"
	"scribeline/internal/logging"
	"scribeline/internal/services"
	"scribeline/internal/store"
)

// Submit registers a recorded appointment: it creates the record and
// its data key, encrypts the intake audio, and registers the audio
// artifact. The appointment is picked up by the dispatcher on its next
// pass.
func (s *Scheduler) Submit(ctx context.Context, patientRef string, audio []byte) (*store.Appointment, error) {
	patientRef = strings.TrimSpace(patientRef)
	if patientRef == "" {
		return nil, services.Wrap(services.ErrPermanent, "pipeline", "submit", "patient_ref is required", nil)
	}
	if len(audio) == 0 {
		return nil, services.Wrap(services.ErrPermanent, "pipeline", "submit", "audio is required", nil)
	}

	appt := &store.Appointment{
		ID:         uuid.NewString(),
		PatientRef: patientRef,
		Status:     store.StatusRecorded,
	}
	if err := s.store.Create(ctx, appt); err != nil {
		return nil, err
	}

	keyRef, err := s.crypto.CreateKey(ctx, appt.ID)
	if err != nil {
		return nil, err
	}
	if err := s.audit.Append(ctx, audit.ActionKeyCreated, appt.ID, "data key created"); err != nil {
		return nil, err
	}
	if err := s.store.SetKeyRef(ctx, appt.ID, keyRef); err != nil {
		return nil, err
	}
	appt.KeyRef = keyRef

	blob, checksum, err := s.crypto.EncryptArtifact(ctx, keyRef, audio)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.cfg.Paths.ArtifactDir, appt.ID, string(store.ArtifactAudio)+".enc")
	if err := fileutil.WriteFileAtomic(path, blob, 0o600); err != nil {
		return nil, fmt.Errorf("write audio blob: %w", err)
	}
	if err := s.store.RegisterArtifact(ctx, store.Artifact{
		AppointmentID: appt.ID,
		Kind:          store.ArtifactAudio,
		Path:          path,
		Checksum:      checksum,
		Size:          int64(len(blob)),
	}); err != nil {
		return nil, err
	}

	if err := s.audit.Append(ctx, audit.ActionStateChange, appt.ID, "-> recorded"); err != nil {
		return nil, err
	}

	s.logger.Info("appointment submitted",
		logging.String(logging.FieldAppointmentID, appt.ID),
		logging.Int("audio_bytes", len(audio)),
		logging.String(logging.FieldEventType, "appointment_submitted"),
	)
	s.Nudge()
	return appt, nil
}
