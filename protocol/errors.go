package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is a wire-level error code from the closed league.v2 table.
type ErrorCode string

const (
	// Retryable errors.
	CodeTimeout    ErrorCode = "E001"
	CodeConnection ErrorCode = "E009"

	// Validation errors.
	CodeMissingField  ErrorCode = "E003"
	CodeInvalidChoice ErrorCode = "E004"

	// Registration errors.
	CodeParticipantNotRegistered ErrorCode = "E005"
	CodeOfficialNotRegistered    ErrorCode = "E006"

	// Authentication errors.
	CodeAuthTokenMissing ErrorCode = "E011"
	CodeAuthTokenInvalid ErrorCode = "E012"

	// Protocol errors.
	CodeProtocolMismatch ErrorCode = "E018"
	CodeInvalidTimestamp ErrorCode = "E021"
)

var errorNames = map[ErrorCode]string{
	CodeTimeout:                  "TIMEOUT_ERROR",
	CodeConnection:               "CONNECTION_ERROR",
	CodeMissingField:             "MISSING_REQUIRED_FIELD",
	CodeInvalidChoice:            "INVALID_CHOICE",
	CodeParticipantNotRegistered: "PARTICIPANT_NOT_REGISTERED",
	CodeOfficialNotRegistered:    "OFFICIAL_NOT_REGISTERED",
	CodeAuthTokenMissing:         "AUTH_TOKEN_MISSING",
	CodeAuthTokenInvalid:         "AUTH_TOKEN_INVALID",
	CodeProtocolMismatch:         "PROTOCOL_VERSION_MISMATCH",
	CodeInvalidTimestamp:         "INVALID_TIMESTAMP",
}

// Name returns the symbolic name for the code, or "UNKNOWN".
func (c ErrorCode) Name() string {
	if n, ok := errorNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// Retryable reports whether a call failing with this code may be retried.
func (c ErrorCode) Retryable() bool {
	return c == CodeTimeout || c == CodeConnection
}

// IsValid reports whether the code belongs to the closed table.
func (c ErrorCode) IsValid() bool {
	_, ok := errorNames[c]
	return ok
}

// Error is a structured protocol error carrying a wire code and a
// retryable flag, optionally wrapping an underlying cause.
type Error struct {
	Code      ErrorCode `json:"error_code"`
	Message   string    `json:"error_description"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the retryable flag derived from the code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Retryable()}
}

// WithCause attaches an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// IsRetryable reports whether err carries a retryable protocol error.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CodeOf extracts the protocol error code from err, or "" if absent.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
