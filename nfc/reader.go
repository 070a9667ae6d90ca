package nfc

import (
	"context"
	"fmt"
)

// Reader is the platform NFC reader hardware.
//
// A Reader opens sessions on request; once open, a session reports its
// lifecycle on the events channel passed to Begin. Readers deliver events
// from their own goroutines and must stop sending once EventInvalidated has
// been delivered.
//
// Example:
//
//	events := make(chan nfc.Event, 8)
//	hw, err := reader.Begin(nfc.SessionOptions{InvalidateAfterFirstRead: true}, events)
type Reader interface {
	// ReadingAvailable reports whether the device can read tags at all.
	ReadingAvailable() bool

	// Begin opens a hardware session.
	Begin(opts SessionOptions, events chan<- Event) (ReaderSession, error)
}

// SessionOptions configures a hardware session.
type SessionOptions struct {
	// InvalidateAfterFirstRead makes the hardware close the session by
	// itself after the first detected message. Read sessions set it; write
	// sessions invalidate explicitly once the write finishes.
	InvalidateAfterFirstRead bool

	// AlertMessage is shown by the platform while the session is active.
	AlertMessage string
}

// ReaderSession is the handle of one open hardware session.
type ReaderSession interface {
	// SetAlertMessage updates the message shown while the session is active.
	SetAlertMessage(message string)

	// Invalidate closes the session, showing message as a success.
	Invalidate(message string)

	// InvalidateWithError closes the session, showing message as a failure.
	InvalidateWithError(message string)
}

// NDEFStatus is the NDEF capability of a connected tag.
type NDEFStatus int

const (
	NDEFNotSupported NDEFStatus = iota
	NDEFReadWrite
	NDEFReadOnly
)

func (s NDEFStatus) String() string {
	switch s {
	case NDEFNotSupported:
		return "notSupported"
	case NDEFReadWrite:
		return "readWrite"
	case NDEFReadOnly:
		return "readOnly"
	}
	return fmt.Sprintf("NDEFStatus(%d)", int(s))
}

// ParseNDEFStatus parses the String form of an NDEFStatus.
func ParseNDEFStatus(s string) (NDEFStatus, error) {
	switch s {
	case "notSupported":
		return NDEFNotSupported, nil
	case "readWrite":
		return NDEFReadWrite, nil
	case "readOnly":
		return NDEFReadOnly, nil
	}
	return NDEFNotSupported, fmt.Errorf("unknown NDEF status %q", s)
}

// WritableTag is a tag connected in a write session.
type WritableTag interface {
	UID() string

	// QueryNDEFStatus returns the tag's NDEF status and capacity in bytes.
	QueryNDEFStatus(ctx context.Context) (NDEFStatus, int, error)

	// WriteNDEF writes msg to the tag.
	WriteNDEF(ctx context.Context, msg *NDEFMessage) error
}

// EventKind identifies a hardware session callback.
type EventKind int

const (
	EventActive EventKind = iota
	EventTagDetected
	EventInvalidated
)

func (k EventKind) String() string {
	switch k {
	case EventActive:
		return "active"
	case EventTagDetected:
		return "tagDetected"
	case EventInvalidated:
		return "invalidated"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a hardware session callback.
type Event struct {
	Kind EventKind

	// Messages holds the NDEF messages read in a read session.
	Messages []*NDEFMessage

	// Tag is the connected tag in a write session.
	Tag WritableTag

	// Reason is the platform's human-readable invalidation reason.
	Reason string
}
