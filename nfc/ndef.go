package nfc

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// Type Name Format values used by payment tags.
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
)

// DefaultLanguage is the language code written into text records.
const DefaultLanguage = "en"

// NDEFRecord represents a single NDEF record within a message.
type NDEFRecord struct {
	TNF     byte   // Type Name Format (0x00-0x07)
	Type    []byte // Record type (e.g., "T" for text)
	ID      []byte // Optional record ID
	Payload []byte // Record payload data
}

// IsTextRecord returns true if this is a well-known Text Record.
func (r *NDEFRecord) IsTextRecord() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'T'
}

// IsMediaRecord returns true if the record carries a MIME media payload.
func (r *NDEFRecord) IsMediaRecord() bool {
	return r.TNF == TNFMedia
}

// PayloadText decodes the record's payload as text. Text records have their
// status byte and language code stripped; media records are decoded as
// UTF-8 directly. Any other record yields ErrUnsupportedRecord.
func (r *NDEFRecord) PayloadText() (string, error) {
	switch {
	case r.IsTextRecord():
		text, err := parseTextRecordPayload(r.Payload)
		if err != nil {
			return "", newError(ErrInvalidData, "PayloadText", err)
		}
		return text, nil
	case r.IsMediaRecord():
		if !utf8.Valid(r.Payload) {
			return "", newError(ErrInvalidData, "PayloadText", fmt.Errorf("media payload is not valid UTF-8"))
		}
		return string(r.Payload), nil
	}
	return "", &NFCError{
		Code:    ErrCodeUnsupportedRecord,
		Op:      "PayloadText",
		Message: fmt.Sprintf("unsupported record type (TNF 0x%02X, type %q)", r.TNF, r.Type),
	}
}

// NDEFMessage is an ordered list of records.
type NDEFMessage struct {
	Records []NDEFRecord
}

// NewTextMessage creates a message holding one Text Record.
func NewTextMessage(text, langCode string) *NDEFMessage {
	return &NDEFMessage{Records: []NDEFRecord{NewTextRecord(text, langCode)}}
}

// FirstRecord returns the first record of the message.
func (m *NDEFMessage) FirstRecord() (NDEFRecord, bool) {
	if m == nil || len(m.Records) == 0 {
		return NDEFRecord{}, false
	}
	return m.Records[0], true
}

// Encode converts the message to its NDEF byte representation.
func (m *NDEFMessage) Encode() ([]byte, error) {
	if m == nil || len(m.Records) == 0 {
		return nil, fmt.Errorf("cannot encode empty NDEF message")
	}
	return encodeNDEFRecords(m.Records), nil
}

// DecodeNDEF parses raw bytes into an NDEFMessage.
func DecodeNDEF(data []byte) (*NDEFMessage, error) {
	records, err := parseNDEFRecords(data)
	if err != nil {
		return nil, err
	}
	return &NDEFMessage{Records: records}, nil
}

// TagWritePayload is the content written to a payment tag: a language
// tagged text record.
type TagWritePayload struct {
	Language string
	Text     string
}

// NewTagWritePayload creates a payload in DefaultLanguage when lang is empty.
func NewTagWritePayload(text, lang string) TagWritePayload {
	if lang == "" {
		lang = DefaultLanguage
	}
	return TagWritePayload{Language: lang, Text: text}
}

// Message renders the payload as a single-record NDEF message.
func (p TagWritePayload) Message() *NDEFMessage {
	return NewTextMessage(p.Text, p.Language)
}

// Size returns the encoded NDEF message length in bytes.
func (p TagWritePayload) Size() int {
	data, _ := p.Message().Encode()
	return len(data)
}

// NewTextRecord creates a well-known Text Record.
func NewTextRecord(text, langCode string) NDEFRecord {
	return NDEFRecord{
		TNF:     TNFWellKnown,
		Type:    []byte("T"),
		Payload: MakeTextRecordPayload(text, langCode),
	}
}

// MakeTextRecordPayload creates an NDEF Text Record payload: a status byte
// holding the language code length, the language code, then UTF-8 text.
func MakeTextRecordPayload(text string, langCodeStr string) []byte {
	if langCodeStr == "" {
		langCodeStr = DefaultLanguage
	}
	langCode := []byte(langCodeStr)
	if len(langCode) > 0x3F {
		langCode = langCode[:0x3F]
	}
	payload := make([]byte, 1+len(langCode)+len(text))
	payload[0] = byte(len(langCode))
	copy(payload[1:], langCode)
	copy(payload[1+len(langCode):], text)
	return payload
}

// parseTextRecordPayload extracts text from an NDEF Text Record's payload.
func parseTextRecordPayload(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", fmt.Errorf("text record payload too short (status byte missing)")
	}
	status := payload[0]
	langLength := int(status & 0x3F)
	isUTF16 := (status & 0x80) != 0

	textDataStart := 1 + langLength
	if textDataStart > len(payload) {
		return "", fmt.Errorf("text record payload too short (language code or text missing)")
	}
	textBytes := payload[textDataStart:]

	if isUTF16 {
		if len(textBytes)%2 != 0 {
			return "", fmt.Errorf("invalid UTF-16 text length: %d", len(textBytes))
		}
		u16s := make([]uint16, len(textBytes)/2)
		for i := range u16s {
			u16s[i] = binary.BigEndian.Uint16(textBytes[i*2:])
		}
		return string(utf16.Decode(u16s)), nil
	}
	if !utf8.Valid(textBytes) {
		return "", fmt.Errorf("text record is not valid UTF-8")
	}
	return string(textBytes), nil
}

// parseNDEFRecords parses raw NDEF message bytes into records.
func parseNDEFRecords(ndefMessage []byte) ([]NDEFRecord, error) {
	if len(ndefMessage) == 0 {
		return nil, fmt.Errorf("empty NDEF message")
	}

	var records []NDEFRecord
	offset := 0

	for offset < len(ndefMessage) {
		header := ndefMessage[offset]
		me := (header & 0x40) != 0 // Message End
		sr := (header & 0x10) != 0 // Short Record
		il := (header & 0x08) != 0 // ID Length Present
		tnf := header & 0x07

		pos := offset + 1
		if pos >= len(ndefMessage) {
			return nil, fmt.Errorf("invalid NDEF message: truncated type length at offset %d", pos)
		}
		typeLength := int(ndefMessage[pos])
		pos++

		var payloadLength int
		if sr {
			if pos >= len(ndefMessage) {
				return nil, fmt.Errorf("invalid NDEF message: truncated payload length at offset %d", pos)
			}
			payloadLength = int(ndefMessage[pos])
			pos++
		} else {
			if pos+4 > len(ndefMessage) {
				return nil, fmt.Errorf("invalid NDEF message: truncated payload length at offset %d", pos)
			}
			payloadLength = int(binary.BigEndian.Uint32(ndefMessage[pos : pos+4]))
			pos += 4
		}

		var idLength int
		if il {
			if pos >= len(ndefMessage) {
				return nil, fmt.Errorf("invalid NDEF message: truncated ID length at offset %d", pos)
			}
			idLength = int(ndefMessage[pos])
			pos++
		}

		if payloadLength < 0 || pos+typeLength+idLength+payloadLength > len(ndefMessage) {
			return nil, fmt.Errorf("invalid NDEF message: record at offset %d exceeds message length", offset)
		}

		record := NDEFRecord{TNF: tnf}
		record.Type = append([]byte(nil), ndefMessage[pos:pos+typeLength]...)
		pos += typeLength
		if idLength > 0 {
			record.ID = append([]byte(nil), ndefMessage[pos:pos+idLength]...)
			pos += idLength
		}
		record.Payload = append([]byte(nil), ndefMessage[pos:pos+payloadLength]...)
		pos += payloadLength

		records = append(records, record)
		offset = pos

		if me {
			break
		}
	}

	return records, nil
}

// encodeNDEFRecords encodes records into raw NDEF message bytes.
func encodeNDEFRecords(records []NDEFRecord) []byte {
	var result []byte

	for i, record := range records {
		payloadLen := len(record.Payload)
		isShortRecord := payloadLen <= 255
		hasID := len(record.ID) > 0

		header := record.TNF & 0x07
		if i == 0 {
			header |= 0x80 // MB
		}
		if i == len(records)-1 {
			header |= 0x40 // ME
		}
		if isShortRecord {
			header |= 0x10 // SR
		}
		if hasID {
			header |= 0x08 // IL
		}

		result = append(result, header, byte(len(record.Type)))
		if isShortRecord {
			result = append(result, byte(payloadLen))
		} else {
			result = binary.BigEndian.AppendUint32(result, uint32(payloadLen))
		}
		if hasID {
			result = append(result, byte(len(record.ID)))
		}
		result = append(result, record.Type...)
		result = append(result, record.ID...)
		result = append(result, record.Payload...)
	}

	return result
}
