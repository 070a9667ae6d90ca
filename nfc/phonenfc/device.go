package phonenfc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/davi-pay/protocol"
)

// ErrDisconnected is returned for requests to a phone that went away.
var ErrDisconnected = errors.New("phone disconnected")

// Device is one registered companion phone.
type Device struct {
	id          string
	seq         uint64
	info        protocol.DeviceRegistrationRequest
	connectedAt time.Time
	conn        *websocket.Conn

	writeMu sync.Mutex // serializes conn writes

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
	session  *phoneSession
	pending  map[string]chan protocol.Request
}

func newDevice(id string, seq uint64, info protocol.DeviceRegistrationRequest, conn *websocket.Conn) *Device {
	now := time.Now()
	return &Device{
		id:          id,
		seq:         seq,
		info:        info,
		connectedAt: now,
		conn:        conn,
		lastSeen:    now,
		pending:     make(map[string]chan protocol.Request),
	}
}

// ID returns the device ID assigned at registration.
func (d *Device) ID() string { return d.id }

// Capabilities returns what the phone said it can do.
func (d *Device) Capabilities() protocol.DeviceCapabilities { return d.info.Capabilities }

// String returns a human-readable representation of the device.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.info.DeviceName, d.info.Platform)
}

// Info returns a snapshot of the device.
func (d *Device) Info() protocol.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return protocol.DeviceInfo{
		DeviceID:     d.id,
		DeviceName:   d.info.DeviceName,
		Platform:     d.info.Platform,
		AppVersion:   d.info.AppVersion,
		Capabilities: d.info.Capabilities,
		ConnectedAt:  d.connectedAt,
		LastSeen:     d.lastSeen,
	}
}

// LastSeen returns when the phone last sent a message.
func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

func (d *Device) touch() {
	d.mu.Lock()
	d.lastSeen = time.Now()
	d.mu.Unlock()
}

// send writes one message to the phone.
func (d *Device) send(msg any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return err
	}
	return d.conn.WriteJSON(msg)
}

// request sends a message and waits for the reply carrying requestID.
func (d *Device) request(ctx context.Context, msgType, requestID string, payload any) (protocol.Request, error) {
	ch := make(chan protocol.Request, 1)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return protocol.Request{}, ErrDisconnected
	}
	d.pending[requestID] = ch
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.pending != nil {
			delete(d.pending, requestID)
		}
		d.mu.Unlock()
	}()

	if err := d.send(protocol.Message{ID: requestID, Type: msgType, Payload: payload}); err != nil {
		return protocol.Request{}, fmt.Errorf("send %s: %w", msgType, err)
	}

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return protocol.Request{}, ErrDisconnected
		}
		return reply, nil
	case <-ctx.Done():
		return protocol.Request{}, ctx.Err()
	case <-timer.C:
		return protocol.Request{}, fmt.Errorf("%s: no reply from phone after %s", msgType, RequestTimeout)
	}
}

// resolve hands a reply to the request waiting for requestID.
func (d *Device) resolve(requestID string, reply protocol.Request) bool {
	d.mu.Lock()
	ch, ok := d.pending[requestID]
	if ok {
		delete(d.pending, requestID)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	ch <- reply
	return true
}

// attach makes s the device's open session, ending any previous one.
func (d *Device) attach(s *phoneSession) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDisconnected
	}
	prev := d.session
	d.session = s
	d.mu.Unlock()

	if prev != nil {
		log.Printf("[phone] %s: replacing open session %s", d.id, prev.id)
		prev.end(ReasonDisconnected)
	}
	return nil
}

// sessionFor returns the open session with id, or nil.
func (d *Device) sessionFor(id string) *phoneSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil && d.session.id == id {
		return d.session
	}
	return nil
}

// detach clears s if it is still the open session.
func (d *Device) detach(s *phoneSession) {
	d.mu.Lock()
	if d.session == s {
		d.session = nil
	}
	d.mu.Unlock()
}

// close disconnects the phone. An open session is invalidated with reason
// and pending requests fail with ErrDisconnected.
func (d *Device) close(reason string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	sess := d.session
	d.session = nil
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	_ = d.conn.Close()
	if sess != nil {
		sess.end(reason)
	}
	for _, ch := range pending {
		close(ch)
	}
}
