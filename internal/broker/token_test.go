package broker

import (
	"regexp"
	"testing"
	"time"
)

// base32NoPadRe matches only characters in the RFC 4648 base32 alphabet
// (A–Z 2–7) with no padding characters.
var base32NoPadRe = regexp.MustCompile(`^[A-Z2-7]+$`)

func TestGenerateToken_Length(t *testing.T) {
	token := GenerateToken()
	// 32 raw bytes → 52 base32-no-padding characters.
	if got, want := len(token), 52; got != want {
		t.Errorf("GenerateToken() len = %d, want %d; token = %q", got, want, token)
	}
}

func TestGenerateToken_Alphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		token := GenerateToken()
		if !base32NoPadRe.MatchString(token) {
			t.Errorf("GenerateToken() produced non-base32 chars: %q", token)
		}
	}
}

func TestGenerateToken_Uniqueness(t *testing.T) {
	const n = 1000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		tok := GenerateToken()
		if seen[tok] {
			t.Fatalf("GenerateToken() produced duplicate token after %d attempts: %q", i, tok)
		}
		seen[tok] = true
	}
}

func TestTokenStoreIssueValidate(t *testing.T) {
	s := NewTokenStore()
	tok := s.Issue(time.Minute)
	if !s.Validate(tok) {
		t.Fatal("freshly issued token should validate")
	}
	// Tokens are reusable until expiry.
	if !s.Validate(tok) {
		t.Fatal("token should still validate on second use")
	}
	if s.Validate("") {
		t.Error("empty token must never validate")
	}
	if s.Validate("NOSUCHTOKEN") {
		t.Error("unknown token must not validate")
	}
}

func TestTokenStoreExpiry(t *testing.T) {
	s := NewTokenStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	tok := s.Issue(time.Minute)
	if !s.Validate(tok) {
		t.Fatal("token should validate before expiry")
	}

	now = now.Add(2 * time.Minute)
	if s.Validate(tok) {
		t.Fatal("token should be rejected after expiry")
	}
	// Expired tokens are dropped from the store.
	s.mu.Lock()
	_, still := s.tokens[tok]
	s.mu.Unlock()
	if still {
		t.Error("expired token should have been pruned")
	}
}

func TestTokenStoreRevoke(t *testing.T) {
	s := NewTokenStore()
	tok := s.Issue(0)
	s.Revoke(tok)
	if s.Validate(tok) {
		t.Fatal("revoked token must not validate")
	}
}
