package broker

import (
	"crypto/rand"
	"encoding/base32"
	"io"
	"sync"
	"time"
)

// tokenEncoding is standard base32 (RFC 4648, A–Z 2–7) without padding.
// Every character is safe for use in a URL query parameter — no quoting or
// escaping required.
var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateToken returns a cryptographically random, URL-safe token string.
//
// Entropy: 32 bytes (256 bits).
// Encoding: base32 no-padding → 52 characters, alphabet [A-Z2-7].
func GenerateToken() string {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		// rand.Reader should never fail on any supported OS. If it does, the
		// process is in an unrecoverable state — panic is appropriate.
		panic("broker: failed to read random bytes: " + err.Error())
	}
	return tokenEncoding.EncodeToString(b)
}

// DefaultTokenTTL is how long an issued WebSocket token stays valid.
const DefaultTokenTTL = time.Hour

// TokenStore issues and validates short-lived WebSocket auth tokens. Browsers
// cannot set custom headers on a WebSocket upgrade, so clients obtain a token
// over the authenticated REST API and present it as ?token= on the upgrade.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time // token → expiry

	now func() time.Time // swapped in tests
}

// NewTokenStore returns an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue mints a fresh token valid for ttl. Zero ttl means DefaultTokenTTL.
func (s *TokenStore) Issue(ttl time.Duration) string {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	tok := GenerateToken()
	s.mu.Lock()
	s.tokens[tok] = s.now().Add(ttl)
	s.prune()
	s.mu.Unlock()
	return tok
}

// Validate reports whether tok is known and unexpired. Tokens stay valid
// until expiry so a reconnecting client can reuse the one it already holds.
func (s *TokenStore) Validate(tok string) bool {
	if tok == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.tokens[tok]
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		delete(s.tokens, tok)
		return false
	}
	return true
}

// Revoke removes a token immediately.
func (s *TokenStore) Revoke(tok string) {
	s.mu.Lock()
	delete(s.tokens, tok)
	s.mu.Unlock()
}

// prune drops expired tokens. Caller holds the lock.
func (s *TokenStore) prune() {
	now := s.now()
	for tok, expiry := range s.tokens {
		if now.After(expiry) {
			delete(s.tokens, tok)
		}
	}
}
