package transfer

import (
	"errors"
	"strings"
)

// ErrorCode identifies why a transfer failed.
type ErrorCode int

const (
	// Transfer errors (400-499)
	ErrCodeInvalidInput ErrorCode = iota + 400
	ErrCodeAuthDenied
	ErrCodeSubmit
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeInvalidInput:
		return "InvalidInput"
	case ErrCodeAuthDenied:
		return "AuthDenied"
	case ErrCodeSubmit:
		return "SubmitError"
	}
	return "Unknown"
}

// Error is a failed transfer attempt.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
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

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors for errors.Is comparisons.
var (
	ErrInvalidInput = &Error{Code: ErrCodeInvalidInput, Message: "invalid transfer"}
	ErrAuthDenied   = &Error{Code: ErrCodeAuthDenied, Message: "authentication denied"}
	ErrSubmit       = &Error{Code: ErrCodeSubmit, Message: "submission failed"}
)

func newError(sentinel *Error, op string, cause error) *Error {
	return &Error{Code: sentinel.Code, Op: op, Message: sentinel.Message, Cause: cause}
}

// GetErrorCode extracts the ErrorCode from err, or 0 if err is not an *Error.
func GetErrorCode(err error) ErrorCode {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Code
	}
	return 0
}
