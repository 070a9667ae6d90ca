package phonenfc

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // phones connect from the local network without an Origin
	},
}

// IsDeviceConnection determines if a request is from a companion phone.
func IsDeviceConnection(r *http.Request) bool {
	return r.Header.Get("X-Device-Mode") == "true" || r.URL.Query().Get("mode") == "device"
}

// ServeHTTP upgrades a phone's connection and serves it until it closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[phone] WebSocket upgrade error: %v", err)
		return
	}
	log.Printf("[phone] WebSocket connected from %s", r.RemoteAddr)

	device := b.handshake(conn)
	if device == nil {
		conn.Close()
		return
	}
	defer b.unregister(device, ReasonDisconnected)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		device.touch()

		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[phone] Failed to parse message: %v", err)
			b.sendError(device, "", protocol.ErrCodeParse, "Invalid message format")
			continue
		}
		if err := b.route(device, req); err != nil {
			log.Printf("[phone] %s: %s: %v", device.id, req.Type, err)
			b.sendError(device, req.ID, protocol.ErrCodeInvalidPayload, err.Error())
		}
	}
}

// handshake reads and answers the registration message.
func (b *Bridge) handshake(conn *websocket.Conn) *Device {
	reject := func(id, code, message string) *Device {
		_ = conn.WriteJSON(protocol.ErrorResponse(id, code, message))
		return nil
	}

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("[phone] Failed to read registration message: %v", err)
		return nil
	}
	if messageType != websocket.TextMessage {
		return reject("", protocol.ErrCodeInvalidRequest, "Expected text message")
	}

	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return reject("", protocol.ErrCodeParse, "Invalid message format")
	}
	if req.Type != protocol.TypeRegisterDevice {
		return reject(req.ID, protocol.ErrCodeInvalidRequest, "Expected '"+protocol.TypeRegisterDevice+"' message")
	}

	var reg protocol.DeviceRegistrationRequest
	if err := req.DecodePayload(&reg); err != nil {
		return reject(req.ID, protocol.ErrCodeInvalidPayload, err.Error())
	}
	device, err := b.register(reg, conn)
	if err != nil {
		log.Printf("[phone] Registration failed: %v", err)
		return reject(req.ID, protocol.ErrCodeInvalidRequest, err.Error())
	}

	err = device.send(protocol.Response{
		ID:      req.ID,
		Type:    protocol.TypeRegisterDeviceResponse,
		Success: true,
		Payload: protocol.DeviceRegistrationResponse{
			DeviceID:   device.id,
			ServerInfo: b.serverInfo,
		},
	})
	if err != nil {
		log.Printf("[phone] Failed to send registration response: %v", err)
		b.unregister(device, ReasonDisconnected)
		return nil
	}
	return device
}

// route dispatches one message from a registered phone.
func (b *Bridge) route(d *Device, req protocol.Request) error {
	switch req.Type {
	case protocol.TypeDeviceHeartbeat:
		return nil

	case protocol.TypeSessionActive:
		var p protocol.SessionEventPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		b.deliver(d, p.SessionID, nfc.Event{Kind: nfc.EventActive})

	case protocol.TypeTagDetected:
		var p protocol.TagDetectedPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		msgs := make([]*nfc.NDEFMessage, 0, len(p.Messages))
		for _, md := range p.Messages {
			msg, err := ConvertNDEFMessageData(md)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		b.deliver(d, p.SessionID, nfc.Event{Kind: nfc.EventTagDetected, Messages: msgs})

	case protocol.TypeTagConnected:
		var p protocol.TagConnectedPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		s := d.sessionFor(p.SessionID)
		if s == nil {
			log.Printf("[phone] %s: tag for unknown session %s", d.id, p.SessionID)
			return nil
		}
		tag, err := tagFromPayload(s, p)
		if err != nil {
			return err
		}
		s.deliver(nfc.Event{Kind: nfc.EventTagDetected, Tag: tag})

	case protocol.TypeSessionInvalidated:
		var p protocol.SessionInvalidatedPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		if s := d.sessionFor(p.SessionID); s != nil {
			log.Printf("[phone] %s: session %s invalidated: %q", d.id, s.id, p.Reason)
			s.end(p.Reason)
		}

	case protocol.TypeWriteResult:
		var p protocol.WriteResultPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		if !d.resolve(p.RequestID, req) {
			log.Printf("[phone] %s: unexpected write result %s", d.id, p.RequestID)
		}

	case protocol.TypeAuthResult:
		var p protocol.AuthResultPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		if !d.resolve(p.RequestID, req) {
			log.Printf("[phone] %s: unexpected auth result %s", d.id, p.RequestID)
		}

	default:
		log.Printf("[phone] Unknown message type: %s", req.Type)
		b.sendError(d, req.ID, protocol.ErrCodeUnknownType, "Unknown message type: "+req.Type)
	}
	return nil
}

func (b *Bridge) deliver(d *Device, sessionID string, ev nfc.Event) {
	s := d.sessionFor(sessionID)
	if s == nil {
		log.Printf("[phone] %s: %s for unknown session %s", d.id, ev.Kind, sessionID)
		return
	}
	s.deliver(ev)
}

func (b *Bridge) sendError(d *Device, requestID, code, message string) {
	if err := d.send(protocol.ErrorResponse(requestID, code, message)); err != nil {
		log.Printf("[phone] Failed to send error response: %v", err)
	}
}
