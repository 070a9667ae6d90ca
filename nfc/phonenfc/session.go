package phonenfc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/protocol"
)

// phoneSession is an NFC reader session running on a phone.
type phoneSession struct {
	id     string
	device *Device
	events chan<- nfc.Event

	mu     sync.Mutex
	closed bool
}

var _ nfc.ReaderSession = (*phoneSession)(nil)

// deliver forwards ev to the session owner. Nothing is delivered after
// EventInvalidated.
func (s *phoneSession) deliver(ev nfc.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if ev.Kind == nfc.EventInvalidated {
		s.closed = true
	}
	s.events <- ev
	return true
}

// end invalidates the session on behalf of the phone.
func (s *phoneSession) end(reason string) {
	if s.deliver(nfc.Event{Kind: nfc.EventInvalidated, Reason: reason}) {
		s.device.detach(s)
	}
}

func (s *phoneSession) SetAlertMessage(message string) {
	err := s.device.send(protocol.Message{
		Type:    protocol.TypeSetAlert,
		Payload: protocol.SetAlertPayload{SessionID: s.id, Message: message},
	})
	if err != nil {
		log.Printf("[phone] %s: failed to set alert: %v", s.id, err)
	}
}

func (s *phoneSession) Invalidate(message string) {
	s.invalidate(message, false)
}

func (s *phoneSession) InvalidateWithError(message string) {
	s.invalidate(message, true)
}

// invalidate asks the phone to close the session. The phone answers with
// sessionInvalidated; if it cannot be reached the session ends here.
func (s *phoneSession) invalidate(message string, withError bool) {
	err := s.device.send(protocol.Message{
		Type: protocol.TypeInvalidateSession,
		Payload: protocol.InvalidateSessionPayload{
			SessionID: s.id,
			Message:   message,
			Error:     withError,
		},
	})
	if err != nil {
		log.Printf("[phone] %s: failed to invalidate: %v", s.id, err)
		s.end(ReasonDisconnected)
	}
}

// phoneTag is a tag connected to a phone in a write session.
type phoneTag struct {
	session  *phoneSession
	uid      string
	status   nfc.NDEFStatus
	capacity int
}

var _ nfc.WritableTag = (*phoneTag)(nil)

func (t *phoneTag) UID() string { return t.uid }

// QueryNDEFStatus returns the status the phone reported on connect.
func (t *phoneTag) QueryNDEFStatus(ctx context.Context) (nfc.NDEFStatus, int, error) {
	return t.status, t.capacity, nil
}

func (t *phoneTag) WriteNDEF(ctx context.Context, msg *nfc.NDEFMessage) error {
	requestID := uuid.New().String()
	reply, err := t.session.device.request(ctx, protocol.TypeWriteNDEF, requestID, protocol.WriteNDEFPayload{
		RequestID: requestID,
		SessionID: t.session.id,
		Message:   NDEFMessageData(msg),
	})
	if err != nil {
		return err
	}

	var result protocol.WriteResultPayload
	if err := reply.DecodePayload(&result); err != nil {
		return err
	}
	if !result.Success {
		if result.Error == "" {
			return errors.New("phone reported a failed write")
		}
		return errors.New(result.Error)
	}
	return nil
}

// tagFromPayload builds a phoneTag from a tagConnected message.
func tagFromPayload(s *phoneSession, p protocol.TagConnectedPayload) (*phoneTag, error) {
	status, err := nfc.ParseNDEFStatus(p.NDEFStatus)
	if err != nil {
		return nil, err
	}
	if status == nfc.NDEFReadWrite && p.Capacity <= 0 {
		return nil, fmt.Errorf("capacity is required for a writable tag, got %d", p.Capacity)
	}
	uid := p.UID
	if uid != "" {
		if uid, err = protocol.ParseUID(p.UID); err != nil {
			return nil, fmt.Errorf("invalid UID: %w", err)
		}
	}
	return &phoneTag{session: s, uid: uid, status: status, capacity: p.Capacity}, nil
}
