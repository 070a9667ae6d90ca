package protocol

import "time"

// Messages from a companion phone to the agent.
const (
	TypeRegisterDevice     = "registerDevice"
	TypeDeviceHeartbeat    = "deviceHeartbeat"
	TypeSessionActive      = "sessionActive"
	TypeTagDetected        = "tagDetected"
	TypeTagConnected       = "tagConnected"
	TypeWriteResult        = "writeResult"
	TypeSessionInvalidated = "sessionInvalidated"
	TypeAuthResult         = "authResult"
)

// Messages from the agent to a companion phone.
const (
	TypeRegisterDeviceResponse = "registerDeviceResponse"
	TypeBeginSession           = "beginSession"
	TypeSetAlert               = "setAlert"
	TypeInvalidateSession      = "invalidateSession"
	TypeWriteNDEF              = "writeNDEF"
	TypeAuthenticate           = "authenticate"
)

// DeviceCapabilities describes what a phone can do.
type DeviceCapabilities struct {
	CanRead         bool `json:"canRead"`
	CanWrite        bool `json:"canWrite"`
	CanAuthenticate bool `json:"canAuthenticate"`
}

// DeviceRegistrationRequest is the first message a phone sends.
type DeviceRegistrationRequest struct {
	DeviceName   string             `json:"deviceName"` // e.g., "Ana's iPhone"
	Platform     string             `json:"platform"`   // "ios" or "android"
	AppVersion   string             `json:"appVersion"`
	Capabilities DeviceCapabilities `json:"capabilities"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
}

// DeviceRegistrationResponse confirms a registration.
type DeviceRegistrationResponse struct {
	DeviceID   string     `json:"deviceID"`
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo describes the agent to a phone.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// BeginSessionPayload asks the phone to open an NFC reader session.
type BeginSessionPayload struct {
	SessionID                string `json:"sessionID"`
	Mode                     string `json:"mode"` // "read" or "write"
	InvalidateAfterFirstRead bool   `json:"invalidateAfterFirstRead"`
	AlertMessage             string `json:"alertMessage,omitempty"`
}

// SetAlertPayload updates the message shown during a session.
type SetAlertPayload struct {
	SessionID string `json:"sessionID"`
	Message   string `json:"message"`
}

// InvalidateSessionPayload asks the phone to close a session.
type InvalidateSessionPayload struct {
	SessionID string `json:"sessionID"`
	Message   string `json:"message,omitempty"`
	Error     bool   `json:"error,omitempty"`
}

// SessionEventPayload carries sessionActive.
type SessionEventPayload struct {
	SessionID string `json:"sessionID"`
}

// TagDetectedPayload reports the NDEF messages read in a read session.
type TagDetectedPayload struct {
	SessionID string            `json:"sessionID"`
	Messages  []NDEFMessageData `json:"messages"`
}

// TagConnectedPayload reports a tag connected in a write session.
type TagConnectedPayload struct {
	SessionID  string `json:"sessionID"`
	UID        string `json:"uid,omitempty"`
	NDEFStatus string `json:"ndefStatus"` // "notSupported", "readWrite" or "readOnly"
	Capacity   int    `json:"capacity"`
}

// WriteNDEFPayload asks the phone to write a message to the connected tag.
type WriteNDEFPayload struct {
	RequestID string          `json:"requestID"`
	SessionID string          `json:"sessionID"`
	Message   NDEFMessageData `json:"message"`
}

// WriteResultPayload answers WriteNDEFPayload.
type WriteResultPayload struct {
	RequestID string `json:"requestID"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// SessionInvalidatedPayload reports that a session ended. Reason is the
// platform's text, empty for a normal closure.
type SessionInvalidatedPayload struct {
	SessionID string `json:"sessionID"`
	Reason    string `json:"reason,omitempty"`
}

// AuthenticatePayload asks the phone for biometric approval.
type AuthenticatePayload struct {
	RequestID string `json:"requestID"`
	Reason    string `json:"reason"`
}

// AuthResultPayload answers AuthenticatePayload.
type AuthResultPayload struct {
	RequestID   string `json:"requestID"`
	Approved    bool   `json:"approved"`
	Unavailable bool   `json:"unavailable,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DeviceHeartbeat is sent by a phone periodically.
type DeviceHeartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

// DeviceInfo describes a registered phone.
type DeviceInfo struct {
	DeviceID     string             `json:"deviceID"`
	DeviceName   string             `json:"deviceName"`
	Platform     string             `json:"platform"`
	AppVersion   string             `json:"appVersion"`
	Capabilities DeviceCapabilities `json:"capabilities"`
	ConnectedAt  time.Time          `json:"connectedAt"`
	LastSeen     time.Time          `json:"lastSeen"`
}
