// Package auth contains hand-written test doubles for the auth ports.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
	"github.com/mobiletester/mt-api/internal/ports"
)

// Compile-time conformance to the ports.
var (
	_ ports.SessionStore  = (*MemorySessionStore)(nil)
	_ ports.SessionIssuer = (*StaticIssuer)(nil)
)

// ErrNotFound is returned when a session is not present.
var ErrNotFound = errors.New("session not found")

// MemorySessionStore is an in-memory session store for unit tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session

	SaveErr   error
	GetErr    error
	DeleteErr error
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domainauth.Session)}
}

func (m *MemorySessionStore) Save(_ context.Context, sess domainauth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if sess.ID == "" {
		return errors.New("session id cannot be empty")
	}
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return domainauth.Session{}, m.GetErr
	}
	sess, ok := m.sessions[id]
	if !ok || sess.Expired(time.Now()) {
		return domainauth.Session{}, ErrNotFound
	}
	return sess, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StaticIssuer hands out a fixed session, useful for middleware tests.
type StaticIssuer struct {
	Session domainauth.Session
	Err     error
}

func (s *StaticIssuer) Issue(_ context.Context) (domainauth.Session, error) {
	if s.Err != nil {
		return domainauth.Session{}, s.Err
	}
	return s.Session, nil
}
