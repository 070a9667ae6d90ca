package nfc

import (
	"context"
	"errors"
	"sync"
)

// UserCancelledReason is the invalidation reason platforms report when a
// session is dismissed, including when the app invalidates it itself.
const UserCancelledReason = "Session invalidated by user"

// MockReader is a test implementation of Reader that lets tests drive
// hardware callbacks by hand.
//
// Example:
//
//	reader := &nfc.MockReader{EchoInvalidation: true}
//	session := nfc.NewSession(reader)
//	op, _ := session.StartRead()
//	reader.Last().DetectMessages(nfc.NewTextMessage("recipient=a&amount=1", "en"))
type MockReader struct {
	// Unavailable makes ReadingAvailable return false.
	Unavailable bool

	// BeginError, if set, will be returned by Begin.
	BeginError error

	// EchoInvalidation makes Invalidate and InvalidateWithError deliver an
	// EventInvalidated with UserCancelledReason, the way phones do.
	EchoInvalidation bool

	mu       sync.Mutex
	sessions []*MockReaderSession
}

func (r *MockReader) ReadingAvailable() bool {
	return !r.Unavailable
}

func (r *MockReader) Begin(opts SessionOptions, events chan<- Event) (ReaderSession, error) {
	if r.BeginError != nil {
		return nil, r.BeginError
	}
	ms := &MockReaderSession{Options: opts, reader: r, events: events}
	r.mu.Lock()
	r.sessions = append(r.sessions, ms)
	r.mu.Unlock()
	ms.send(Event{Kind: EventActive})
	return ms, nil
}

// Sessions returns every session begun so far.
func (r *MockReader) Sessions() []*MockReaderSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*MockReaderSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Last returns the most recent session, or nil.
func (r *MockReader) Last() *MockReaderSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		return nil
	}
	return r.sessions[len(r.sessions)-1]
}

// MockReaderSession is the hardware side of one MockReader session.
type MockReaderSession struct {
	Options SessionOptions

	reader *MockReader
	events chan<- Event

	mu            sync.Mutex
	closed        bool
	alert         string
	invalidations []string
	errored       bool
}

func (ms *MockReaderSession) send(ev Event) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return false
	}
	if ev.Kind == EventInvalidated {
		ms.closed = true
	}
	ms.events <- ev
	return true
}

// DetectMessages simulates a tag read.
func (ms *MockReaderSession) DetectMessages(msgs ...*NDEFMessage) bool {
	return ms.send(Event{Kind: EventTagDetected, Messages: msgs})
}

// DetectTag simulates a tag connecting in a write session.
func (ms *MockReaderSession) DetectTag(tag WritableTag) bool {
	return ms.send(Event{Kind: EventTagDetected, Tag: tag})
}

// InvalidateSession simulates the platform ending the session.
func (ms *MockReaderSession) InvalidateSession(reason string) bool {
	return ms.send(Event{Kind: EventInvalidated, Reason: reason})
}

func (ms *MockReaderSession) SetAlertMessage(message string) {
	ms.mu.Lock()
	ms.alert = message
	ms.mu.Unlock()
}

func (ms *MockReaderSession) Invalidate(message string) {
	ms.invalidate(message, false)
}

func (ms *MockReaderSession) InvalidateWithError(message string) {
	ms.invalidate(message, true)
}

func (ms *MockReaderSession) invalidate(message string, withError bool) {
	ms.mu.Lock()
	ms.invalidations = append(ms.invalidations, message)
	ms.errored = ms.errored || withError
	ms.mu.Unlock()
	if ms.reader.EchoInvalidation {
		ms.InvalidateSession(UserCancelledReason)
	}
}

// Invalidations returns the messages passed to Invalidate and
// InvalidateWithError, and whether any call reported an error.
func (ms *MockReaderSession) Invalidations() ([]string, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]string, len(ms.invalidations))
	copy(out, ms.invalidations)
	return out, ms.errored
}

// Closed reports whether EventInvalidated has been delivered.
func (ms *MockReaderSession) Closed() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.closed
}

// MockTag is a test implementation of WritableTag.
type MockTag struct {
	TagUID   string
	Status   NDEFStatus
	Capacity int

	// QueryError, if set, will be returned by QueryNDEFStatus.
	QueryError error
	// WriteError, if set, will be returned by WriteNDEF.
	WriteError error
	// Block, if set, holds WriteNDEF until it is closed or the context ends.
	Block chan struct{}

	mu      sync.Mutex
	written *NDEFMessage
}

func (t *MockTag) UID() string { return t.TagUID }

func (t *MockTag) QueryNDEFStatus(ctx context.Context) (NDEFStatus, int, error) {
	if t.QueryError != nil {
		return NDEFNotSupported, 0, t.QueryError
	}
	return t.Status, t.Capacity, nil
}

func (t *MockTag) WriteNDEF(ctx context.Context, msg *NDEFMessage) error {
	if t.Block != nil {
		select {
		case <-t.Block:
		case <-ctx.Done():
			return errors.New("write interrupted")
		}
	}
	if t.WriteError != nil {
		return t.WriteError
	}
	t.mu.Lock()
	t.written = msg
	t.mu.Unlock()
	return nil
}

// Written returns the last message written, or nil.
func (t *MockTag) Written() *NDEFMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}
