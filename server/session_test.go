package server

import (
	"errors"
	"testing"
)

func TestSessionManager(t *testing.T) {
	m := NewSessionManager("")

	token, err := m.Acquire("", "10.0.0.2:5000")
	if err != nil || token == "" {
		t.Fatalf("Acquire() = %q, %v", token, err)
	}
	if m.Holder() != "10.0.0.2:5000" {
		t.Errorf("Holder() = %q", m.Holder())
	}
	if _, err := m.Acquire("", "10.0.0.3:5000"); !errors.Is(err, ErrSessionClaimed) {
		t.Errorf("second Acquire() error = %v, want ErrSessionClaimed", err)
	}

	m.Release("stale-token")
	if m.Holder() == "" {
		t.Error("Release with a stale token freed the session")
	}

	m.Release(token)
	if m.Holder() != "" {
		t.Error("session still held after Release")
	}
	next, err := m.Acquire("", "10.0.0.3:5000")
	if err != nil || next == token {
		t.Errorf("reacquire = %q, %v; want a fresh token", next, err)
	}
}

func TestSessionManagerSecret(t *testing.T) {
	m := NewSessionManager("s3cret")
	if _, err := m.Acquire("nope", "a"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Acquire() error = %v, want ErrUnauthorized", err)
	}
	if _, err := m.Acquire("s3cret", "a"); err != nil {
		t.Errorf("Acquire() error = %v", err)
	}
}
