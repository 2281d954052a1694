package crypt

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"scribeline/internal/config"
)

const masterKeySize = 32

// LoadMasterKey resolves the 256-bit master key from the environment.
// The key env var wins when set and must hold a base64-encoded 32-byte
// key; otherwise the passphrase env var is run through PBKDF2-SHA256
// with the configured salt and iteration count. The returned buffer is
// locked into memory on platforms that support it.
func LoadMasterKey(cfg *config.Config) ([]byte, error) {
	if raw := strings.TrimSpace(os.Getenv(cfg.Security.MasterKeyEnv)); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", cfg.Security.MasterKeyEnv, err)
		}
		if len(key) != masterKeySize {
			Zero(key)
			return nil, fmt.Errorf("%s must decode to %d bytes, got %d", cfg.Security.MasterKeyEnv, masterKeySize, len(key))
		}
		lockMemory(key)
		return key, nil
	}

	passphrase := os.Getenv(cfg.Security.PassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("neither %s nor %s is set", cfg.Security.MasterKeyEnv, cfg.Security.PassphraseEnv)
	}
	salt := cfg.Security.KDFSalt
	if strings.TrimSpace(salt) == "" {
		return nil, fmt.Errorf("kdf_salt must be configured when deriving the master key from %s", cfg.Security.PassphraseEnv)
	}
	iterations := cfg.Security.KDFIterations
	if iterations <= 0 {
		return nil, fmt.Errorf("kdf_iterations must be positive, got %d", iterations)
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, masterKeySize, sha256.New)
	lockMemory(key)
	return key, nil
}

// Zero overwrites key material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
