// Package encryption protects per-user secrets at rest (the relay endpoint
// URL, which may embed credentials) with AES-256-GCM under a process-wide
// key.
//
// Stored form: hex(ciphertext || 16-byte tag) plus hex(16-byte IV). A fresh
// IV is drawn for every call to Encrypt.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

const (
	keySize = 32
	ivSize  = 16
)

var (
	// ErrNotConfigured is returned when the key is missing or malformed.
	// Callers must treat it as a hard failure of the write path.
	ErrNotConfigured = errors.New("encryption key not configured")

	// ErrDecrypt is returned for any authentication or encoding failure:
	// tampered ciphertext, wrong key, corrupted IV.
	ErrDecrypt = errors.New("decryption failed")
)

// Sealed is an encrypted value as persisted on the user record.
type Sealed struct {
	Ciphertext string
	IV         string
}

// Service encrypts and decrypts strings. A Service built from a bad key is
// still usable: every call fails with ErrNotConfigured.
type Service struct {
	aead cipher.AEAD
	log  *slog.Logger
}

// New builds a Service from a 64-character hex key. Configuration problems
// are logged here once and reported by every later call.
func New(hexKey string, log *slog.Logger) *Service {
	s := &Service{log: log.With(slog.String("component", "encryption"))}

	if hexKey == "" {
		s.log.Warn("NOTIFICATION_ENCRYPTION_KEY not set; relay reminders are disabled")
		return s
	}

	aead, err := newAEAD(hexKey)
	if err != nil {
		s.log.Error("invalid NOTIFICATION_ENCRYPTION_KEY", slog.Any("error", err))
		return s
	}
	s.aead = aead
	return s
}

func newAEAD(hexKey string) (cipher.AEAD, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// Configured reports whether a usable key was loaded.
func (s *Service) Configured() bool {
	return s.aead != nil
}

// Encrypt seals plaintext under a fresh random IV.
func (s *Service) Encrypt(plaintext string) (Sealed, error) {
	if s.aead == nil {
		return Sealed{}, ErrNotConfigured
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		s.log.Error("generating IV", slog.Any("error", err))
		return Sealed{}, fmt.Errorf("generating IV: %w", err)
	}

	// Seal appends the tag to the ciphertext.
	out := s.aead.Seal(nil, iv, []byte(plaintext), nil)
	return Sealed{
		Ciphertext: hex.EncodeToString(out),
		IV:         hex.EncodeToString(iv),
	}, nil
}

// Decrypt opens a value produced by Encrypt. It never returns a partial or
// wrong plaintext: any failure yields ErrDecrypt.
func (s *Service) Decrypt(ciphertextHex, ivHex string) (string, error) {
	if s.aead == nil {
		return "", ErrNotConfigured
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivSize {
		s.log.Warn("decrypt: malformed IV")
		return "", ErrDecrypt
	}
	data, err := hex.DecodeString(ciphertextHex)
	if err != nil || len(data) < s.aead.Overhead() {
		s.log.Warn("decrypt: malformed ciphertext")
		return "", ErrDecrypt
	}

	plaintext, err := s.aead.Open(nil, iv, data, nil)
	if err != nil {
		s.log.Warn("decrypt: authentication failed")
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
