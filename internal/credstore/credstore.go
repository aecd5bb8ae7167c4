// Package credstore holds broker-side credentials addressed by opaque
// references, so a HostDescriptor can carry a credentialRef instead of an
// inline secret. Values are encrypted at rest with AES-256-GCM.
//
// The encryption key is sourced from the TERMIX_ENCRYPTION_KEY environment
// variable (32-byte hex string). If not set, a deterministic dev-only key is
// used.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

const (
	// EnvKey is the environment variable name for the 256-bit encryption key
	// (hex-encoded).
	EnvKey = "TERMIX_ENCRYPTION_KEY"

	// devKey is a deterministic 256-bit key used ONLY when the env key is
	// unset. Not suitable for production.
	devKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

var (
	keyOnce    sync.Once
	keyBytes   []byte
	resolveErr error

	ErrCiphertextTooShort = errors.New("credstore: ciphertext too short")
	ErrNotFound           = errors.New("credstore: credential not found")
)

// key returns the 32-byte AES key, resolved once on first call.
func key() ([]byte, error) {
	keyOnce.Do(func() {
		hexKey := os.Getenv(EnvKey)
		if hexKey == "" {
			hexKey = devKey
		}
		keyBytes, resolveErr = hex.DecodeString(hexKey)
		if resolveErr != nil {
			resolveErr = fmt.Errorf("credstore: invalid hex key in %s: %w", EnvKey, resolveErr)
			return
		}
		if len(keyBytes) != 32 {
			resolveErr = fmt.Errorf("credstore: key must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	})
	return keyBytes, resolveErr
}

// Encrypt encrypts plaintext using AES-256-GCM and returns hex-encoded
// nonce || ciphertext || tag.
func Encrypt(plaintext string) (string, error) {
	k, err := key()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return "", fmt.Errorf("credstore: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("credstore: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credstore: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt decrypts hex-encoded AES-256-GCM ciphertext.
func Decrypt(ciphertextHex string) (string, error) {
	k, err := key()
	if err != nil {
		return "", err
	}
	data, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("credstore: invalid hex ciphertext: %w", err)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return "", fmt.Errorf("credstore: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("credstore: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertextTooShort
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("credstore: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// ResetKey is for testing only — resets the cached key so it can be
// re-resolved.
func ResetKey() {
	keyOnce = sync.Once{}
	keyBytes = nil
	resolveErr = nil
}

// Credential is one stored secret. Kind mirrors the HostDescriptor auth
// modes: "password" or "key".
type Credential struct {
	Kind       string
	Secret     string
	Passphrase string
}

type storedCredential struct {
	kind              string
	encSecret         string
	encPassphrase     string
	passphrasePresent bool
}

// Store is a thread-safe, in-memory credential store. Secrets are encrypted
// on Put and decrypted on Resolve; references are random UUIDs.
type Store struct {
	mu    sync.RWMutex
	creds map[string]storedCredential
}

// NewStore returns an initialised, empty Store.
func NewStore() *Store {
	return &Store{creds: make(map[string]storedCredential)}
}

// Put encrypts and stores cred, returning the opaque reference.
func (s *Store) Put(cred Credential) (string, error) {
	encSecret, err := Encrypt(cred.Secret)
	if err != nil {
		return "", err
	}
	stored := storedCredential{kind: cred.Kind, encSecret: encSecret}
	if cred.Passphrase != "" {
		encPassphrase, err := Encrypt(cred.Passphrase)
		if err != nil {
			return "", err
		}
		stored.encPassphrase = encPassphrase
		stored.passphrasePresent = true
	}
	ref := uuid.NewString()
	s.mu.Lock()
	s.creds[ref] = stored
	s.mu.Unlock()
	return ref, nil
}

// Resolve decrypts and returns the credential for ref.
func (s *Store) Resolve(ref string) (Credential, error) {
	s.mu.RLock()
	stored, ok := s.creds[ref]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, ErrNotFound
	}
	secret, err := Decrypt(stored.encSecret)
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{Kind: stored.kind, Secret: secret}
	if stored.passphrasePresent {
		passphrase, err := Decrypt(stored.encPassphrase)
		if err != nil {
			return Credential{}, err
		}
		cred.Passphrase = passphrase
	}
	return cred, nil
}

// Delete removes the credential for ref. Deleting a missing ref is a no-op.
func (s *Store) Delete(ref string) {
	s.mu.Lock()
	delete(s.creds, ref)
	s.mu.Unlock()
}
