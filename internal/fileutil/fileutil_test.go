package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "blob.enc")
	data := []byte("encrypted payload")

	if err := WriteFileAtomic(path, data, 0o600); err != nil {
		t.Fatalf("WriteFileAtomic returned error: %v", err)
	}

	read, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(read, data) {
		t.Errorf("read back %q, want %q", read, data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %v, want 0600", perm)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover temp files in %v", entries)
	}
}

func TestWriteFileAtomicOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.enc")
	if err := WriteFileAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	read, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(read) != "two" {
		t.Errorf("read back %q, want two", read)
	}
}

func TestChecksumBytes(t *testing.T) {
	data := []byte("checksum me")

	want := sha256.Sum256(data)
	if sum := ChecksumBytes(data); sum != hex.EncodeToString(want[:]) {
		t.Errorf("checksum mismatch: %s", sum)
	}
	if ChecksumBytes(data) == ChecksumBytes([]byte("checksum you")) {
		t.Error("distinct blobs produced the same digest")
	}
}
