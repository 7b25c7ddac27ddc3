// Package memory provides concurrency-safe in-process implementations of the
// user and session storage ports.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lborres/gatekeep/core"
)

var (
	_ core.UserStorage    = (*UserStore)(nil)
	_ core.SessionStorage = (*SessionStore)(nil)
)

type UserStore struct {
	mu         sync.RWMutex
	byID       map[string]*core.User
	byUsername map[string]string
	byEmail    map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:       make(map[string]*core.User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (s *UserStore) CreateUser(_ context.Context, u *core.User) error {
	email := strings.ToLower(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[u.Username]; taken {
		return core.ErrUserExists
	}
	if _, taken := s.byEmail[email]; taken {
		return core.ErrUserExists
	}

	stored := *u
	s.byID[u.ID] = &stored
	s.byUsername[u.Username] = u.ID
	s.byEmail[email] = u.ID
	return nil
}

func (s *UserStore) GetUserByID(_ context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	found := *u
	return &found, nil
}

func (s *UserStore) GetUserByEmailOrUsername(_ context.Context, identifier string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(identifier)]
	if !ok {
		id, ok = s.byUsername[identifier]
	}
	if !ok {
		return nil, core.ErrUserNotFound
	}
	found := *s.byID[id]
	return &found, nil
}

func (s *UserStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return core.ErrUserNotFound
	}
	delete(s.byID, id)
	delete(s.byUsername, u.Username)
	delete(s.byEmail, strings.ToLower(u.Email))
	return nil
}

func (s *UserStore) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// SessionStore keeps sessions in a map keyed by token hash.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*core.Session)}
}

func (s *SessionStore) CreateSession(_ context.Context, session *core.Session) error {
	stored := *session

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.TokenHash] = &stored
	return nil
}

func (s *SessionStore) GetSessionByHash(_ context.Context, tokenHash string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	found := *session
	return &found, nil
}

func (s *SessionStore) DeleteSessionByHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *SessionStore) DeleteUserSessions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for hash, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, hash)
			count++
		}
	}
	return count, nil
}

func (s *SessionStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for hash, session := range s.sessions {
		if session.IsExpired(now) {
			delete(s.sessions, hash)
			count++
		}
	}
	return count, nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
