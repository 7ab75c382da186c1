package admin

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultNonceLifetime is how long an anti-forgery token stays valid.
const DefaultNonceLifetime = 12 * time.Hour

type nonce struct {
	session string
	expires time.Time
}

// NonceStore issues anti-forgery tokens bound to a session.
// A token can be used any number of times until it expires.
type NonceStore struct {
	mutex    sync.Mutex
	nonces   map[string]nonce
	lifetime time.Duration
	now      func() time.Time
}

func NewNonceStore(lifetime time.Duration, now func() time.Time) *NonceStore {
	if lifetime <= 0 {
		lifetime = DefaultNonceLifetime
	}
	if now == nil {
		now = time.Now
	}
	return &NonceStore{
		nonces:   make(map[string]nonce),
		lifetime: lifetime,
		now:      now,
	}
}

// Issue returns a new token for session.
func (s *NonceStore) Issue(session string) string {
	token := uuid.NewString()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.prune()
	s.nonces[token] = nonce{session: session, expires: s.now().Add(s.lifetime)}
	return token
}

// Verify reports whether token was issued for session and has not expired.
func (s *NonceStore) Verify(session, token string) bool {
	if session == "" || token == "" {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n, ok := s.nonces[token]
	if !ok || n.session != session {
		return false
	}
	if !s.now().Before(n.expires) {
		delete(s.nonces, token)
		return false
	}
	return true
}

func (s *NonceStore) prune() {
	now := s.now()
	for token, n := range s.nonces {
		if !now.Before(n.expires) {
			delete(s.nonces, token)
		}
	}
}
