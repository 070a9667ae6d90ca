package payload

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies why a tag payload could not be decoded.
type ErrorCode int

const (
	ErrCodeEmptyPayload ErrorCode = iota + 300
	ErrCodeUnrecognizedFormat
	ErrCodeIncompleteFields
)

// DecodeError is returned by Decode.
type DecodeError struct {
	Code    ErrorCode
	Raw     string   // Original payload for UnrecognizedFormat
	Missing []string // Missing field names for IncompleteFields
}

func (e *DecodeError) Error() string {
	switch e.Code {
	case ErrCodeEmptyPayload:
		return "tag payload is empty"
	case ErrCodeUnrecognizedFormat:
		return fmt.Sprintf("unrecognized tag payload format: %q", e.Raw)
	case ErrCodeIncompleteFields:
		return fmt.Sprintf("tag payload is missing fields: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("tag payload decode error %d", e.Code)
}

// Is matches on Code so sentinels work with errors.Is.
func (e *DecodeError) Is(target error) bool {
	if t, ok := target.(*DecodeError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrEmptyPayload       = &DecodeError{Code: ErrCodeEmptyPayload}
	ErrUnrecognizedFormat = &DecodeError{Code: ErrCodeUnrecognizedFormat}
	ErrIncompleteFields   = &DecodeError{Code: ErrCodeIncompleteFields}
)

// MissingFields returns the missing field names of an IncompleteFields
// error, or nil.
func MissingFields(err error) []string {
	var de *DecodeError
	if errors.As(err, &de) && de.Code == ErrCodeIncompleteFields {
		return de.Missing
	}
	return nil
}
