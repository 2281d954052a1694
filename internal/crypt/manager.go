package crypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"scribeline/internal/services"
	"scribeline/internal/store"
)

const (
	dataKeySize = 32
	nonceSize   = 12
)

// Manager wraps and unwraps per-appointment data keys and performs
// artifact encryption with them.
type Manager struct {
	store  *store.Store
	master []byte
}

// NewManager builds a Manager around the shared store and the loaded
// master key. The Manager takes ownership of the master key buffer.
func NewManager(st *store.Store, master []byte) (*Manager, error) {
	if len(master) != masterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", masterKeySize, len(master))
	}
	return &Manager{store: st, master: master}, nil
}

// Close zeroes the master key.
func (m *Manager) Close() {
	Zero(m.master)
}

// CreateKey generates a fresh data key for an appointment, persists it
// wrapped under the master key, and returns the key reference. A second
// call for the same appointment fails with a duplicate-key error.
func (m *Manager) CreateKey(ctx context.Context, appointmentID string) (string, error) {
	dataKey := make([]byte, dataKeySize)
	defer Zero(dataKey)
	if _, err := rand.Read(dataKey); err != nil {
		return "", fmt.Errorf("generate data key: %w", err)
	}

	wrapped, err := seal(m.master, dataKey)
	if err != nil {
		return "", fmt.Errorf("wrap data key: %w", err)
	}

	keyRef := uuid.NewString()
	if err := m.store.CreateKey(ctx, store.KeyRecord{
		Ref:           keyRef,
		AppointmentID: appointmentID,
		WrappedKey:    wrapped,
	}); err != nil {
		return "", err
	}
	return keyRef, nil
}

// EncryptArtifact seals plaintext under the appointment's data key and
// returns the blob alongside the hex SHA-256 checksum of the blob.
func (m *Manager) EncryptArtifact(ctx context.Context, keyRef string, plaintext []byte) ([]byte, string, error) {
	dataKey, err := m.unwrap(ctx, keyRef)
	if err != nil {
		return nil, "", err
	}
	defer Zero(dataKey)

	blob, err := seal(dataKey, plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("encrypt artifact: %w", err)
	}
	sum := sha256.Sum256(blob)
	return blob, hex.EncodeToString(sum[:]), nil
}

// DecryptArtifact opens a blob sealed by EncryptArtifact. Any
// authentication failure, including a blob encrypted under a different
// appointment's key, surfaces as an integrity error.
func (m *Manager) DecryptArtifact(ctx context.Context, keyRef string, blob []byte) ([]byte, error) {
	dataKey, err := m.unwrap(ctx, keyRef)
	if err != nil {
		return nil, err
	}
	defer Zero(dataKey)

	plaintext, err := open(dataKey, blob)
	if err != nil {
		return nil, services.Wrap(services.ErrIntegrity, "crypt", "decrypt artifact", keyRef, err)
	}
	return plaintext, nil
}

func (m *Manager) unwrap(ctx context.Context, keyRef string) ([]byte, error) {
	rec, err := m.store.GetKey(ctx, keyRef)
	if err != nil {
		return nil, err
	}
	dataKey, err := open(m.master, rec.WrappedKey)
	if err != nil {
		return nil, services.Wrap(services.ErrIntegrity, "crypt", "unwrap data key", keyRef, err)
	}
	if len(dataKey) != dataKeySize {
		Zero(dataKey)
		return nil, services.Wrap(services.ErrIntegrity, "crypt", "unwrap data key", keyRef, fmt.Errorf("unexpected key size %d", len(dataKey)))
	}
	return dataKey, nil
}

// seal encrypts plaintext with AES-256-GCM, prefixing the random nonce
// to the ciphertext.
func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal.
func open(key, blob []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("blob shorter than nonce (%d bytes)", len(blob))
	}
	return aead.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
