package testsupport

import (
	"crypto/rand"
	"testing"

	"scribeline/internal/audit"
	"scribeline/internal/config"
	"scribeline/internal/crypt"
	"scribeline/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// NewCryptoManager builds a key manager over the test store with a
// random master key.
func NewCryptoManager(t testing.TB, st *store.Store) *crypt.Manager {
	t.Helper()

	master := make([]byte, 32)
	if _, err := rand.Read(master); err != nil {
		t.Fatalf("generate master key: %v", err)
	}
	mgr, err := crypt.NewManager(st, master)
	if err != nil {
		t.Fatalf("crypt.NewManager: %v", err)
	}
	t.Cleanup(mgr.Close)
	return mgr
}

// NewAuditLog binds an audit log to the test store's database.
func NewAuditLog(t testing.TB, st *store.Store) *audit.Log {
	t.Helper()

	log, err := audit.NewLog(st.DB())
	if err != nil {
		t.Fatalf("audit.NewLog: %v", err)
	}
	return log
}
