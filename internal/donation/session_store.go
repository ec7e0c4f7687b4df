package donation

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sahara-drive/donation-portal/internal/config"
	"github.com/sahara-drive/donation-portal/internal/transactions"
)

// TokenLength is the length of generated session tokens in bytes.
const TokenLength = 32

// SessionStore manages dashboard sessions in memory. Each session owns its
// own dashboard list state on top of the shared transactions service.
type SessionStore struct {
	sessions sync.Map
	ttl      time.Duration
	svc      *transactions.Service
}

// NewSessionStore creates a session store whose sessions live for ttl.
func NewSessionStore(svc *transactions.Service, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = config.DefaultSessionTTL
	}
	return &SessionStore{ttl: ttl, svc: svc}
}

// GenerateToken generates a cryptographically secure random token.
// Returns a hex-encoded string of TokenLength bytes.
func GenerateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// Create opens a session for a key accepted by provider.
func (s *SessionStore) Create(provider string) (*Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		ID:        token,
		Provider:  provider,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		Dashboard: transactions.NewDashboard(s.svc),
	}

	s.sessions.Store(token, session)
	return session, nil
}

// Get retrieves a session by its token.
// Returns nil if the session doesn't exist or has expired.
func (s *SessionStore) Get(sessionID string) *Session {
	value, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil
	}

	session, ok := value.(*Session)
	if !ok {
		return nil
	}

	if session.IsExpired() {
		s.sessions.Delete(sessionID)
		return nil
	}

	return session
}

// Delete removes a session by its token.
func (s *SessionStore) Delete(sessionID string) {
	s.sessions.Delete(sessionID)
}

// DeleteAll drops every session, e.g. after the access keys change.
func (s *SessionStore) DeleteAll() {
	s.sessions.Range(func(key, _ any) bool {
		s.sessions.Delete(key)
		return true
	})
}

// TTL returns the session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Cleanup removes all expired sessions.
func (s *SessionStore) Cleanup() int {
	removed := 0
	now := time.Now()
	s.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok && now.After(session.ExpiresAt) {
			s.sessions.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
