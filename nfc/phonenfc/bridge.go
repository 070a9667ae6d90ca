// Package phonenfc lets a companion phone act as the agent's NFC reader and
// biometric authenticator over a WebSocket connection.
//
// A phone connects to the agent, registers, and from then on the agent asks
// it to open and close reader sessions, write NDEF messages and approve
// transfers. The phone reports session activity, detected tags, write
// results and invalidation reasons back on the same connection.
package phonenfc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/protocol"
	"github.com/dotside-studios/davi-pay/transfer"
)

// Bridge is the registry of connected phones. It implements nfc.Reader and
// transfer.Authenticator using the most recently registered capable phone.
type Bridge struct {
	mu      sync.RWMutex
	devices map[string]*Device
	nextSeq uint64

	inactivityTimeout time.Duration
	serverInfo        protocol.ServerInfo
	stopCleanup       chan struct{}
	closeOnce         sync.Once
}

var (
	_ nfc.Reader             = (*Bridge)(nil)
	_ transfer.Authenticator = (*Bridge)(nil)
)

// NewBridge creates a Bridge. Phones silent for longer than inactivityTimeout
// are dropped; zero means DeviceTimeout.
func NewBridge(inactivityTimeout time.Duration, info protocol.ServerInfo) *Bridge {
	if inactivityTimeout == 0 {
		inactivityTimeout = DeviceTimeout
	}
	b := &Bridge{
		devices:           make(map[string]*Device),
		inactivityTimeout: inactivityTimeout,
		serverInfo:        info,
		stopCleanup:       make(chan struct{}),
	}
	go b.cleanupLoop()
	return b
}

// register adds a phone.
func (b *Bridge) register(req protocol.DeviceRegistrationRequest, conn *websocket.Conn) (*Device, error) {
	if req.DeviceName == "" {
		return nil, fmt.Errorf("device name is required")
	}
	if req.Platform != "ios" && req.Platform != "android" {
		return nil, fmt.Errorf("invalid platform: %s (must be 'ios' or 'android')", req.Platform)
	}

	b.mu.Lock()
	b.nextSeq++
	d := newDevice(uuid.New().String(), b.nextSeq, req, conn)
	b.devices[d.id] = d
	b.mu.Unlock()

	log.Printf("[phone] Device registered: %s %s (%s)", d, req.AppVersion, d.id)
	return d, nil
}

// unregister removes a phone, invalidating its open session with reason.
func (b *Bridge) unregister(d *Device, reason string) {
	b.mu.Lock()
	if b.devices[d.id] == d {
		delete(b.devices, d.id)
	}
	b.mu.Unlock()

	d.close(reason)
	log.Printf("[phone] Device unregistered: %s (%s)", d, reason)
}

// pick returns the most recently registered phone satisfying ok.
func (b *Bridge) pick(ok func(protocol.DeviceCapabilities) bool) *Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var best *Device
	for _, d := range b.devices {
		if ok(d.info.Capabilities) && (best == nil || d.seq > best.seq) {
			best = d
		}
	}
	return best
}

func canRead(c protocol.DeviceCapabilities) bool         { return c.CanRead }
func canAuthenticate(c protocol.DeviceCapabilities) bool { return c.CanAuthenticate }

// ReadingAvailable reports whether a phone that can read tags is connected.
func (b *Bridge) ReadingAvailable() bool {
	return b.pick(canRead) != nil
}

// Begin opens a reader session on the current phone.
func (b *Bridge) Begin(opts nfc.SessionOptions, events chan<- nfc.Event) (nfc.ReaderSession, error) {
	d := b.pick(canRead)
	if d == nil {
		return nil, errors.New("no phone connected")
	}

	s := &phoneSession{id: uuid.New().String(), device: d, events: events}
	if err := d.attach(s); err != nil {
		return nil, err
	}

	mode := "write"
	if opts.InvalidateAfterFirstRead {
		mode = "read"
	}
	err := d.send(protocol.Message{
		Type: protocol.TypeBeginSession,
		Payload: protocol.BeginSessionPayload{
			SessionID:                s.id,
			Mode:                     mode,
			InvalidateAfterFirstRead: opts.InvalidateAfterFirstRead,
			AlertMessage:             opts.AlertMessage,
		},
	})
	if err != nil {
		d.detach(s)
		return nil, fmt.Errorf("begin session on %s: %w", d, err)
	}
	log.Printf("[phone] %s: %s session %s opened", d.id, mode, s.id)
	return s, nil
}

// Authenticate asks the current phone to approve reason.
func (b *Bridge) Authenticate(ctx context.Context, reason string) error {
	d := b.pick(canAuthenticate)
	if d == nil {
		return fmt.Errorf("%w: no phone can authenticate", transfer.ErrAuthUnavailable)
	}

	requestID := uuid.New().String()
	reply, err := d.request(ctx, protocol.TypeAuthenticate, requestID, protocol.AuthenticatePayload{
		RequestID: requestID,
		Reason:    reason,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", transfer.ErrAuthUnavailable, err)
	}

	var result protocol.AuthResultPayload
	if err := reply.DecodePayload(&result); err != nil {
		return fmt.Errorf("%w: %v", transfer.ErrAuthUnavailable, err)
	}
	switch {
	case result.Approved:
		return nil
	case result.Unavailable:
		return fmt.Errorf("%w: %s", transfer.ErrAuthUnavailable, result.Error)
	case result.Error != "":
		return fmt.Errorf("%w: %s", transfer.ErrAuthRejected, result.Error)
	}
	return transfer.ErrAuthRejected
}

// Devices lists connected phones, most recent first.
func (b *Bridge) Devices() []protocol.DeviceInfo {
	b.mu.RLock()
	devices := make([]*Device, 0, len(b.devices))
	for _, d := range b.devices {
		devices = append(devices, d)
	}
	b.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].seq > devices[j].seq })
	infos := make([]protocol.DeviceInfo, len(devices))
	for i, d := range devices {
		infos[i] = d.Info()
	}
	return infos
}

// DeviceCount returns the number of connected phones.
func (b *Bridge) DeviceCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.devices)
}

// Close disconnects every phone and stops background tasks.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.stopCleanup)

		b.mu.Lock()
		devices := b.devices
		b.devices = make(map[string]*Device)
		b.mu.Unlock()

		for _, d := range devices {
			d.close(ReasonDisconnected)
		}
		log.Printf("[phone] Bridge closed")
	})
}

func (b *Bridge) cleanupLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.cleanupInactiveDevices(time.Now())
		case <-b.stopCleanup:
			return
		}
	}
}

// cleanupInactiveDevices removes phones that exceeded the inactivity timeout.
func (b *Bridge) cleanupInactiveDevices(now time.Time) {
	b.mu.RLock()
	var stale []*Device
	for _, d := range b.devices {
		if now.Sub(d.LastSeen()) > b.inactivityTimeout {
			stale = append(stale, d)
		}
	}
	b.mu.RUnlock()

	for _, d := range stale {
		log.Printf("[phone] Cleaning up inactive device: %s (last seen %v ago)", d, now.Sub(d.LastSeen()))
		b.unregister(d, ReasonTimedOut)
	}
}
