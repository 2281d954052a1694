package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"scribeline/internal/crypt"
	"scribeline/internal/fileutil"
	"scribeline/internal/store"
)

// SeedAppointment creates an appointment with its data key and an
// encrypted intake audio artifact, mirroring what submission does in
// production.
func SeedAppointment(t testing.TB, st *store.Store, crypto *crypt.Manager, artifactDir, id string, audio []byte) *store.Appointment {
	t.Helper()
	ctx := context.Background()

	appt := &store.Appointment{ID: id, PatientRef: "patient-" + id}
	if err := st.Create(ctx, appt); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	keyRef, err := crypto.CreateKey(ctx, id)
	if err != nil {
		t.Fatalf("create data key: %v", err)
	}
	if err := st.SetKeyRef(ctx, id, keyRef); err != nil {
		t.Fatalf("set key ref: %v", err)
	}
	appt.KeyRef = keyRef

	blob, checksum, err := crypto.EncryptArtifact(ctx, keyRef, audio)
	if err != nil {
		t.Fatalf("encrypt audio: %v", err)
	}
	path := filepath.Join(artifactDir, id, string(store.ArtifactAudio)+".enc")
	if err := fileutil.WriteFileAtomic(path, blob, 0o600); err != nil {
		t.Fatalf("write audio blob: %v", err)
	}
	if err := st.RegisterArtifact(ctx, store.Artifact{
		AppointmentID: id,
		Kind:          store.ArtifactAudio,
		Path:          path,
		Checksum:      checksum,
		Size:          int64(len(blob)),
	}); err != nil {
		t.Fatalf("register audio artifact: %v", err)
	}
	return appt
}
