// Package credentials implements the Credential Store: a verifier over a
// fixed roster of username/password pairs, seeded once at process start.
// There is no registration endpoint — accounts are provisioned out of band,
// the same way the reference roster is seeded at startup.
package credentials

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
)

// Store verifies credentials against a hashed roster. Hashes are sha256
// over the plaintext password, matching the hashing scheme the rest of the
// example pool uses for its own credential storage.
type Store struct {
	mu    sync.RWMutex
	hashes map[string]string // username -> hex(sha256(password))
}

// New builds a Store from a plaintext username/password seed, hashing each
// password before it is ever held in memory.
func New(seed map[string]string) *Store {
	s := &Store{hashes: make(map[string]string, len(seed))}
	for username, password := range seed {
		s.hashes[username] = hashPassword(password)
	}
	return s
}

// DefaultSeed returns the built-in three-account roster (alice, user1,
// user2) used when no external credential source is configured.
func DefaultSeed() map[string]string {
	return map[string]string{
		"alice": "alicepw",
		"user1": "password1",
		"user2": "password2",
	}
}

// Verify reports whether username/password matches a seeded account. An
// empty username or password, or an unknown username, is always false.
func (s *Store) Verify(username, password string) bool {
	if username == "" || password == "" {
		return false
	}
	s.mu.RLock()
	want, ok := s.hashes[username]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	got := hashPassword(password)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func hashPassword(pw string) string {
	h := sha256.Sum256([]byte(pw))
	return hex.EncodeToString(h[:])
}
