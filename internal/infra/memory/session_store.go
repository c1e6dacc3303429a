package memory

import (
	"context"
	"sync"
	"time"

	"quizzles/internal/domain"
)

// SessionStore tracks issued login tokens in process memory.
type SessionStore struct {
	mu       sync.RWMutex
	clock    func() time.Time
	sessions map[string]session
}

type session struct {
	userID    int64
	expiresAt time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		clock:    time.Now,
		sessions: make(map[string]session),
	}
}

func (s *SessionStore) Put(_ context.Context, tokenID string, userID int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.sessions[tokenID] = session{userID: userID, expiresAt: s.clock().Add(ttl)}
	return nil
}

func (s *SessionStore) Lookup(_ context.Context, tokenID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[tokenID]
	if !ok || !sess.expiresAt.After(s.clock()) {
		return 0, domain.ErrSessionRevoked
	}
	return sess.userID, nil
}

func (s *SessionStore) Delete(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenID)
	return nil
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock()
	n := 0
	for _, sess := range s.sessions {
		if sess.expiresAt.After(now) {
			n++
		}
	}
	return n
}

func (s *SessionStore) sweepLocked() {
	now := s.clock()
	for id, sess := range s.sessions {
		if !sess.expiresAt.After(now) {
			delete(s.sessions, id)
		}
	}
}
