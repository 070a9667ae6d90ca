package phonenfc

import (
	"fmt"

	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/protocol"
)

// ConvertNDEFMessageData converts the wire form of a message.
func ConvertNDEFMessageData(data protocol.NDEFMessageData) (*nfc.NDEFMessage, error) {
	msg := &nfc.NDEFMessage{}
	for i, rd := range data.Records {
		if rd.TNF > 0x07 {
			return nil, fmt.Errorf("record %d: invalid TNF value: 0x%02X", i, rd.TNF)
		}
		msg.Records = append(msg.Records, nfc.NDEFRecord{
			TNF:     rd.TNF,
			Type:    rd.Type,
			ID:      rd.ID,
			Payload: rd.Payload,
		})
	}
	return msg, nil
}

// NDEFMessageData converts a message to its wire form.
func NDEFMessageData(msg *nfc.NDEFMessage) protocol.NDEFMessageData {
	data := protocol.NDEFMessageData{Records: []protocol.NDEFRecordData{}}
	if msg == nil {
		return data
	}
	for _, r := range msg.Records {
		data.Records = append(data.Records, protocol.NDEFRecordData{
			TNF:     r.TNF,
			Type:    r.Type,
			ID:      r.ID,
			Payload: r.Payload,
		})
	}
	return data
}
