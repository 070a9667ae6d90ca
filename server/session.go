package server

import (
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrSessionClaimed is returned when another UI client holds the session.
	ErrSessionClaimed = errors.New("session already claimed by another client")
	// ErrUnauthorized is returned for a wrong API secret.
	ErrUnauthorized = errors.New("invalid API secret")
)

// SessionManager hands out the single UI control session. Only one UI
// client drives the coordinator at a time; the session is released when its
// WebSocket closes.
type SessionManager struct {
	apiSecret string

	mu     sync.Mutex
	token  string
	holder string
}

// NewSessionManager creates a session manager. An empty apiSecret accepts
// every client.
func NewSessionManager(apiSecret string) *SessionManager {
	return &SessionManager{apiSecret: apiSecret}
}

// Acquire claims the session for remoteAddr and returns its token.
func (m *SessionManager) Acquire(secret, remoteAddr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.apiSecret != "" && secret != m.apiSecret {
		return "", ErrUnauthorized
	}
	if m.token != "" {
		return "", ErrSessionClaimed
	}
	m.token = uuid.NewString()
	m.holder = remoteAddr
	log.Printf("[server] Session acquired by %s", remoteAddr)
	return m.token, nil
}

// Release frees the session if token still holds it.
func (m *SessionManager) Release(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || token != m.token {
		return
	}
	log.Printf("[server] Session released by %s", m.holder)
	m.token = ""
	m.holder = ""
}

// Holder returns the address holding the session, or "".
func (m *SessionManager) Holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}
