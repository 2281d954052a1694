package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"scribeline/internal/config"
	"scribeline/internal/services"
	"scribeline/internal/store"
)

func newTestLog(t *testing.T) (*Log, *store.Store) {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	st, err := store.Open(&cfg)
	if err != nil {
		t.Fatalf("store.Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	log, err := NewLog(st.DB())
	if err != nil {
		t.Fatalf("NewLog returned error: %v", err)
	}
	return log, st
}

func TestAppendAndVerify(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	appends := []struct {
		action string
		appt   string
		detail string
	}{
		{ActionStateChange, "appt-1", "recorded -> transcribing"},
		{ActionKeyCreated, "appt-1", "key created"},
		{ActionStateChange, "appt-1", "transcribing -> transcribed"},
		{ActionRetryScheduled, "appt-2", "attempt 1, retry in 30s"},
	}
	for _, a := range appends {
		if err := log.Append(ctx, a.action, a.appt, a.detail); err != nil {
			t.Fatalf("Append(%s) returned error: %v", a.action, err)
		}
	}

	verified, err := log.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if verified != int64(len(appends)) {
		t.Errorf("verified = %d, want %d", verified, len(appends))
	}
}

func TestChainLinksToGenesis(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	if err := log.Append(ctx, ActionStateChange, "appt-1", "created"); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	var first Event
	for event, err := range log.Events(ctx) {
		if err != nil {
			t.Fatalf("Events yielded error: %v", err)
		}
		first = event
		break
	}
	if first.Seq != 1 {
		t.Errorf("first seq = %d, want 1", first.Seq)
	}
	if first.PrevHash != genesisHash {
		t.Errorf("first prev_hash = %s, want genesis", first.PrevHash)
	}
	if len(first.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(first.Hash))
	}
}

func TestVerifyDetectsTamperedDetails(t *testing.T) {
	log, st := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := log.Append(ctx, ActionStateChange, "appt-1", "step"); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	if _, err := st.DB().ExecContext(ctx, `UPDATE audit_events SET details = 'edited' WHERE seq = 3`); err != nil {
		t.Fatalf("tamper update failed: %v", err)
	}

	verified, err := log.Verify(ctx)
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected integrity error after tamper, got %v", err)
	}
	if verified != 2 {
		t.Errorf("verified before break = %d, want 2", verified)
	}
}

func TestVerifyDetectsDeletedEvent(t *testing.T) {
	log, st := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := log.Append(ctx, ActionStateChange, "appt-1", "step"); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}
	if _, err := st.DB().ExecContext(ctx, `DELETE FROM audit_events WHERE seq = 2`); err != nil {
		t.Fatalf("tamper delete failed: %v", err)
	}

	if _, err := log.Verify(ctx); !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected integrity error after deletion, got %v", err)
	}
}

func TestLogResumesChainAcrossRestart(t *testing.T) {
	log, st := newTestLog(t)
	ctx := context.Background()

	if err := log.Append(ctx, ActionStateChange, "appt-1", "before restart"); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	reopened, err := NewLog(st.DB())
	if err != nil {
		t.Fatalf("NewLog after restart returned error: %v", err)
	}
	if err := reopened.Append(ctx, ActionStateChange, "appt-1", "after restart"); err != nil {
		t.Fatalf("Append after restart returned error: %v", err)
	}

	verified, err := reopened.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if verified != 2 {
		t.Errorf("verified = %d, want 2", verified)
	}
}

func TestEventsForFiltersByAppointment(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	if err := log.Append(ctx, ActionStateChange, "appt-1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, ActionStateChange, "appt-2", "b"); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, ActionKeyAccessed, "appt-1", "c"); err != nil {
		t.Fatal(err)
	}

	var seqs []int64
	for event, err := range log.EventsFor(ctx, "appt-1") {
		if err != nil {
			t.Fatalf("EventsFor yielded error: %v", err)
		}
		seqs = append(seqs, event.Seq)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 3 {
		t.Errorf("appt-1 seqs = %v, want [1 3]", seqs)
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	log, _ := newTestLog(t)

	verified, err := log.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify on empty chain returned error: %v", err)
	}
	if verified != 0 {
		t.Errorf("verified = %d, want 0", verified)
	}
}
