package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
type ErrorCode int

const (
	// Reader and session errors (100-199)
	ErrCodeReaderUnavailable ErrorCode = iota + 100
	ErrCodeSessionBusy
	ErrCodeSessionFailed
	ErrCodeTransient
	ErrCodeCancelled
)

const (
	// Tag errors (200-299)
	ErrCodeTagNotNDEF ErrorCode = iota + 200
	ErrCodeReadOnly
	ErrCodeUnsupportedRecord
	ErrCodeInvalidData
	ErrCodeCapacityExceeded
	ErrCodeWriteFailed
)

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "StartRead", "WriteNDEF")
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors for errors.Is comparisons. Values returned by this package
// carry an Op and sometimes a Cause, but match these by Code.
var (
	ErrReaderUnavailable = &NFCError{Code: ErrCodeReaderUnavailable, Message: "NFC reading is not available on this device"}
	ErrSessionBusy       = &NFCError{Code: ErrCodeSessionBusy, Message: "an NFC session is already active"}
	ErrSessionFailed     = &NFCError{Code: ErrCodeSessionFailed, Message: "NFC session failed"}
	ErrTransient         = &NFCError{Code: ErrCodeTransient, Message: "NFC reader is temporarily busy"}
	ErrCancelled         = &NFCError{Code: ErrCodeCancelled, Message: "NFC session cancelled"}
	ErrTagNotNDEF        = &NFCError{Code: ErrCodeTagNotNDEF, Message: "tag is not NDEF formatted"}
	ErrTagReadOnly       = &NFCError{Code: ErrCodeReadOnly, Message: "tag is read-only"}
	ErrUnsupportedRecord = &NFCError{Code: ErrCodeUnsupportedRecord, Message: "unsupported record type"}
	ErrInvalidData       = &NFCError{Code: ErrCodeInvalidData, Message: "invalid tag data"}
	ErrCapacityExceeded  = &NFCError{Code: ErrCodeCapacityExceeded, Message: "payload exceeds tag capacity"}
	ErrWriteFailed       = &NFCError{Code: ErrCodeWriteFailed, Message: "write failed"}
)

// newError copies a sentinel, attaching an operation and cause.
func newError(sentinel *NFCError, op string, cause error) *NFCError {
	return &NFCError{
		Code:    sentinel.Code,
		Op:      op,
		Message: sentinel.Message,
		Cause:   cause,
	}
}

// IsRetryable reports whether err is a transient reader condition that is
// worth retrying automatically.
func IsRetryable(err error) bool {
	return GetErrorCode(err) == ErrCodeTransient
}

// IsCancelled reports whether err means the user dismissed the session.
func IsCancelled(err error) bool {
	return GetErrorCode(err) == ErrCodeCancelled
}

// IsSelfResolving reports whether err clears on its own once the current
// session ends.
func IsSelfResolving(err error) bool {
	return GetErrorCode(err) == ErrCodeSessionBusy
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...any) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
