package protocol

// Messages between a UI client and the agent.
const (
	// TypeState is broadcast with the coordinator state on every change.
	TypeState = "state"
	// TypeCommand asks the coordinator to act.
	TypeCommand = "command"
	// TypeCommandResponse answers TypeCommand.
	TypeCommandResponse = "commandResponse"
)

// Command actions.
const (
	ActionStartScan       = "startScan"
	ActionConfirm         = "confirm"
	ActionCancel          = "cancel"
	ActionReset           = "reset"
	ActionBeginWallet     = "beginWalletConnect"
	ActionWalletConnected = "walletConnected"
	ActionWalletFailed    = "walletConnectFailed"
)

// CommandPayload is the payload of TypeCommand.
type CommandPayload struct {
	Action  string `json:"action"`
	Address string `json:"address,omitempty"` // walletConnected
	Error   string `json:"error,omitempty"`   // walletConnectFailed
}

// DecodeRequest is the body of POST /api/v1/decode.
type DecodeRequest struct {
	Text string `json:"text"`
}

// DecodeResponse answers DecodeRequest. Intent is set on success.
type DecodeResponse struct {
	Intent  any      `json:"intent,omitempty"`
	Error   string   `json:"error,omitempty"`
	Code    string   `json:"code,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// EncodeRequest is the body of POST /api/v1/encode.
type EncodeRequest struct {
	Recipient string `json:"recipient"`
	Merchant  string `json:"merchant,omitempty"`
	Amount    string `json:"amount"`
	CoinType  string `json:"coinType,omitempty"`
	Language  string `json:"language,omitempty"`
}

// EncodeResponse answers EncodeRequest with the tag text and the size of
// the NDEF message that would be written.
type EncodeResponse struct {
	Text string `json:"text"`
	Size int    `json:"size"`
}

// Decode error codes.
const (
	CodeEmptyPayload       = "EMPTY_PAYLOAD"
	CodeUnrecognizedFormat = "UNRECOGNIZED_FORMAT"
	CodeIncompleteFields   = "INCOMPLETE_FIELDS"
)
