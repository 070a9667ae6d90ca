package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/davi-pay/nfc/phonenfc"
	"github.com/dotside-studios/davi-pay/protocol"
)

const clientWriteTimeout = 5 * time.Second

// Client is a connected UI client.
type Client struct {
	conn   *websocket.Conn
	remote string

	writeMu sync.Mutex
	once    sync.Once
}

// Send writes one message to the client.
func (c *Client) Send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// Close closes the connection.
func (c *Client) Close() {
	c.once.Do(func() { c.conn.Close() })
}

// sendError sends a structured error response.
func (c *Client) sendError(requestID, code, message string) {
	if err := c.Send(protocol.ErrorResponse(requestID, code, message)); err != nil {
		log.Printf("[server] Failed to send error response: %v", err)
	}
}

// handleWebSocket serves /ws. Phones are handed to the phone bridge; every
// other connection is a UI client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if phonenfc.IsDeviceConnection(r) {
		if s.config.Phones == nil {
			http.Error(w, "Phone reader is not enabled", http.StatusNotFound)
			return
		}
		s.config.Phones.ServeHTTP(w, r)
		return
	}

	token, err := s.sessions.Acquire(r.URL.Query().Get("secret"), r.RemoteAddr)
	switch {
	case errors.Is(err, ErrUnauthorized):
		log.Printf("[server] WebSocket connection rejected: invalid API secret")
		http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
		return
	case err != nil:
		log.Printf("[server] WebSocket connection rejected: %v", err)
		http.Error(w, "Session already claimed by another client", http.StatusConflict)
		return
	}
	defer s.sessions.Release(token)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] WebSocket upgrade error: %v", err)
		return
	}
	client := &Client{conn: conn, remote: r.RemoteAddr}
	s.addClient(client)
	log.Printf("[server] WebSocket connected from %s", r.RemoteAddr)

	defer func() {
		s.removeClient(client)
		client.Close()
		log.Printf("[server] WebSocket disconnected, session released")
	}()

	states, unsubscribe := s.config.Coordinator.Subscribe()
	defer unsubscribe()
	go func() {
		for st := range states {
			if err := client.Send(protocol.Message{Type: protocol.TypeState, Payload: st}); err != nil {
				log.Printf("[server] WebSocket write error: %v", err)
				client.Close()
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[server] Failed to parse WebSocket message: %v", err)
			client.sendError("", protocol.ErrCodeParse, "Invalid message format")
			continue
		}

		handler, ok := s.registry.Get(req.Type)
		if !ok {
			log.Printf("[server] Unknown message type: %s", req.Type)
			client.sendError(req.ID, protocol.ErrCodeUnknownType, "Unknown message type: "+req.Type)
			continue
		}
		if err := handler(r.Context(), client, req); err != nil {
			log.Printf("[server] Handler error for message type '%s': %v", req.Type, err)
			client.sendError(req.ID, errorCode(err), err.Error())
		}
	}
}
