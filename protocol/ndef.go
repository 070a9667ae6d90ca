package protocol

// NDEFMessageData is the wire form of an NDEF message.
type NDEFMessageData struct {
	Records []NDEFRecordData `json:"records"`
}

// NDEFRecordData is the wire form of an NDEF record. Byte fields are base64
// in JSON.
type NDEFRecordData struct {
	TNF     uint8  `json:"tnf"`
	Type    []byte `json:"type"`
	ID      []byte `json:"id,omitempty"`
	Payload []byte `json:"payload"`
}
