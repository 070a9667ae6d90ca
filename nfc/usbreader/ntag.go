package usbreader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/clausecker/freefare"

	davinfc "github.com/dotside-studios/davi-pay/nfc"
)

// NTAG21x / Ultralight memory layout.
const (
	ccPage        = 3 // capability container
	userStartPage = 4
	pageSize      = 4

	ccMagic       = 0xE1
	ccWriteDenied = 0x0F

	tlvNDEF       = 0x03
	tlvNull       = 0x00
	tlvTerminator = 0xFE

	// tlvOverhead is the TLV type, a short length and the terminator.
	tlvOverhead = 3
)

// PageTag is a tag addressed in 4-byte pages. freefare.UltralightTag
// satisfies it.
type PageTag interface {
	UID() string
	Connect() error
	Disconnect() error
	ReadPage(page byte) ([4]byte, error)
	WritePage(page byte, data [4]byte) error
}

var _ PageTag = (*freefare.UltralightTag)(nil)

var errNoNDEF = errors.New("no NDEF message TLV")

// capabilities is the decoded capability container.
type capabilities struct {
	ndef     bool
	readOnly bool
	dataSize int // bytes of data area after the CC
}

func (c capabilities) dataPages() int { return c.dataSize / pageSize }

func readCapabilities(tag PageTag) (capabilities, error) {
	cc, err := tag.ReadPage(ccPage)
	if err != nil {
		return capabilities{}, fmt.Errorf("read capability container: %w", err)
	}
	if cc[0] != ccMagic {
		return capabilities{}, nil
	}
	return capabilities{
		ndef:     true,
		readOnly: cc[3]&0x0F == ccWriteDenied,
		dataSize: int(cc[2]) * 8,
	}, nil
}

// readMessage reads the NDEF message stored on tag.
func readMessage(tag PageTag) (*davinfc.NDEFMessage, error) {
	if err := tag.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer tag.Disconnect()

	caps, err := readCapabilities(tag)
	if err != nil {
		return nil, err
	}
	if !caps.ndef {
		return nil, errNoNDEF
	}

	var buf []byte
	for i := 0; i < caps.dataPages(); i++ {
		page, err := tag.ReadPage(byte(userStartPage + i))
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", userStartPage+i, err)
		}
		buf = append(buf, page[:]...)

		data, done, err := findNDEF(buf, i == caps.dataPages()-1)
		if err != nil {
			return nil, err
		}
		if done {
			return davinfc.DecodeNDEF(data)
		}
	}
	return nil, errNoNDEF
}

// findNDEF scans buf for the NDEF message TLV. done is false when more
// pages are needed and last is false.
func findNDEF(buf []byte, last bool) (data []byte, done bool, err error) {
	offset := 0
	for offset < len(buf) {
		switch buf[offset] {
		case tlvNull:
			offset++
			continue
		case tlvTerminator:
			return nil, false, errNoNDEF
		}

		// The length field is 1 byte, or 0xFF and 2 more.
		rest := len(buf) - offset
		if rest < 2 || (buf[offset+1] == 0xFF && rest < 4) {
			break
		}
		fls, fvs := freefare.TLVrecordLength(buf[offset:])
		end := offset + 1 + fls + fvs
		if end > len(buf) {
			break
		}
		if buf[offset] == tlvNDEF {
			value, _ := freefare.TLVdecode(buf[offset:end])
			return value, true, nil
		}
		offset = end
	}
	if last {
		return nil, false, errors.New("TLV structure exceeds tag memory")
	}
	return nil, false, nil
}

// ntagTag is a tag connected in a write session.
type ntagTag struct {
	tag PageTag
	hw  *sync.Mutex // held for every exchange with the reader
}

var _ davinfc.WritableTag = (*ntagTag)(nil)

func (t *ntagTag) UID() string { return t.tag.UID() }

// QueryNDEFStatus reports the status from the capability container. The
// capacity excludes TLV framing.
func (t *ntagTag) QueryNDEFStatus(ctx context.Context) (davinfc.NDEFStatus, int, error) {
	t.hw.Lock()
	defer t.hw.Unlock()

	if err := t.tag.Connect(); err != nil {
		return davinfc.NDEFNotSupported, 0, fmt.Errorf("connect: %w", err)
	}
	defer t.tag.Disconnect()

	caps, err := readCapabilities(t.tag)
	switch {
	case err != nil:
		return davinfc.NDEFNotSupported, 0, err
	case !caps.ndef:
		return davinfc.NDEFNotSupported, 0, nil
	case caps.readOnly:
		return davinfc.NDEFReadOnly, caps.dataSize - tlvOverhead, nil
	}
	return davinfc.NDEFReadWrite, caps.dataSize - tlvOverhead, nil
}

// WriteNDEF writes msg as an NDEF TLV followed by a terminator, page by
// page from the first user page.
func (t *ntagTag) WriteNDEF(ctx context.Context, msg *davinfc.NDEFMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	tlv := freefare.TLVencode(data, tlvNDEF)
	if tlv == nil {
		return fmt.Errorf("NDEF message too large (%d bytes)", len(data))
	}
	tlv = append(tlv, tlvTerminator)

	t.hw.Lock()
	defer t.hw.Unlock()

	if err := t.tag.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer t.tag.Disconnect()

	caps, err := readCapabilities(t.tag)
	if err != nil {
		return err
	}
	pages := (len(tlv) + pageSize - 1) / pageSize
	if pages > caps.dataPages() {
		return fmt.Errorf("NDEF message too large (%d bytes, needs %d pages, only %d available)",
			len(data), pages, caps.dataPages())
	}

	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("write interrupted at page %d: %w", userStartPage+i, err)
		}
		var page [4]byte
		copy(page[:], tlv[i*pageSize:])
		if err := t.tag.WritePage(byte(userStartPage+i), page); err != nil {
			return fmt.Errorf("write page %d: %w", userStartPage+i, err)
		}
	}
	return nil
}
