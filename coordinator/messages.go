package coordinator

import (
	"errors"
	"strings"

	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/payload"
	"github.com/dotside-studios/davi-pay/transfer"
)

// Describe maps an error from any layer to the message shown to the user,
// and whether the failure is terminal (the user must act) or clears by
// itself.
func Describe(err error) (message string, terminal bool) {
	if err == nil {
		return "", false
	}

	var decodeErr *payload.DecodeError
	if errors.As(err, &decodeErr) {
		switch decodeErr.Code {
		case payload.ErrCodeEmptyPayload:
			return "This tag is empty.", true
		case payload.ErrCodeUnrecognizedFormat:
			return "This tag does not contain a payment request.", true
		case payload.ErrCodeIncompleteFields:
			return "The payment request on this tag is missing: " + strings.Join(decodeErr.Missing, ", ") + ".", true
		}
	}

	switch nfc.GetErrorCode(err) {
	case nfc.ErrCodeReaderUnavailable:
		return "NFC reading is not available on this device.", true
	case nfc.ErrCodeSessionBusy:
		return "The NFC reader is busy. Try again in a moment.", false
	case nfc.ErrCodeTransient:
		return "The NFC reader is temporarily unavailable. Retrying.", false
	case nfc.ErrCodeCancelled:
		return "Scan cancelled.", false
	case nfc.ErrCodeTagNotNDEF:
		return "This tag is not formatted for payments.", true
	case nfc.ErrCodeReadOnly:
		return "This tag is read-only.", true
	case nfc.ErrCodeUnsupportedRecord:
		return "This tag holds an unsupported kind of record.", true
	case nfc.ErrCodeInvalidData:
		return "The data on this tag could not be read.", true
	case nfc.ErrCodeCapacityExceeded:
		return "The payment request does not fit on this tag.", true
	case nfc.ErrCodeWriteFailed:
		return "Writing the tag failed. Hold the tag still and try again.", true
	case nfc.ErrCodeSessionFailed:
		var nfcErr *nfc.NFCError
		if errors.As(err, &nfcErr) && nfcErr.Message != "" {
			return nfcErr.Message, true
		}
		return "The NFC session failed.", true
	}

	var terr *transfer.Error
	if errors.As(err, &terr) {
		switch terr.Code {
		case transfer.ErrCodeInvalidInput:
			return "This payment request is invalid: " + causeText(terr) + ".", true
		case transfer.ErrCodeAuthDenied:
			if errors.Is(err, transfer.ErrAuthUnavailable) {
				return "Authentication is not available on this device.", true
			}
			return "Authentication was not approved.", true
		case transfer.ErrCodeSubmit:
			return "The transfer could not be submitted: " + causeText(terr) + ".", true
		}
	}

	if errors.Is(err, ErrWalletNoAddress) {
		return "The wallet did not return an address.", true
	}
	return err.Error(), true
}

func causeText(e *transfer.Error) string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}
