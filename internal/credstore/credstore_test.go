package credstore

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ResetKey()
	defer ResetKey()

	values := []string{
		"",
		"hunter2",
		"a longer secret with special chars: !@#$%^&*()",
		strings.Repeat("k", 8192),
	}
	for _, plaintext := range values {
		encrypted, err := Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if encrypted == plaintext {
			t.Error("ciphertext equals plaintext")
		}
		decrypted, err := Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("roundtrip mismatch: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncryptUsesRandomNonce(t *testing.T) {
	ResetKey()
	defer ResetKey()

	a, _ := Encrypt("same-value")
	b, _ := Encrypt("same-value")
	if a == b {
		t.Error("two encryptions of the same value must differ")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	ResetKey()
	defer ResetKey()

	if _, err := Decrypt("not-hex"); err == nil {
		t.Error("expected error for invalid hex")
	}
	if _, err := Decrypt("abcd"); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}

func TestStorePutResolve(t *testing.T) {
	ResetKey()
	defer ResetKey()

	s := NewStore()
	ref, err := s.Put(Credential{Kind: "key", Secret: "PEM DATA", Passphrase: "pp"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref == "" {
		t.Fatal("empty reference")
	}

	cred, err := s.Resolve(ref)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Kind != "key" || cred.Secret != "PEM DATA" || cred.Passphrase != "pp" {
		t.Errorf("resolved credential = %+v", cred)
	}
}

func TestStoreResolveMissing(t *testing.T) {
	s := NewStore()
	if _, err := s.Resolve("ghost"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreDelete(t *testing.T) {
	ResetKey()
	defer ResetKey()

	s := NewStore()
	ref, _ := s.Put(Credential{Kind: "password", Secret: "x"})
	s.Delete(ref)
	if _, err := s.Resolve(ref); err != ErrNotFound {
		t.Errorf("err after delete = %v, want ErrNotFound", err)
	}
	s.Delete("ghost") // no-op
}
