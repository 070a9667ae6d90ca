// Package protocol defines the JSON messages exchanged with the agent over
// WebSocket and HTTP: UI clients driving a transfer, and companion phones
// acting as the NFC reader.
//
// This package is importable without pulling in server dependencies.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is an incoming WebSocket message. Payload is decoded by the
// handler for Type.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the request payload into v.
func (r Request) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", r.Type)
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", r.Type, err)
	}
	return nil
}

// Message is an outgoing WebSocket message.
type Message struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Message types shared by every client.
const (
	TypeError = "error"
)

// Error codes carried in Response.Code.
const (
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeNotAllowed     = "NOT_ALLOWED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// ErrorResponse builds a failed Response.
func ErrorResponse(id, code, message string) Response {
	return Response{ID: id, Type: TypeError, Error: message, Code: code}
}
