package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_Retryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{CodeTimeout, true},
		{CodeConnection, true},
		{CodeMissingField, false},
		{CodeInvalidChoice, false},
		{CodeParticipantNotRegistered, false},
		{CodeOfficialNotRegistered, false},
		{CodeAuthTokenMissing, false},
		{CodeAuthTokenInvalid, false},
		{CodeProtocolMismatch, false},
		{CodeInvalidTimestamp, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Retryable())
		})
	}
}

func TestErrorCode_Name(t *testing.T) {
	assert.Equal(t, "TIMEOUT_ERROR", CodeTimeout.Name())
	assert.Equal(t, "CONNECTION_ERROR", CodeConnection.Name())
	assert.Equal(t, "UNKNOWN", ErrorCode("E999").Name())
}

func TestNewError(t *testing.T) {
	err := NewError(CodeConnection, "connect refused")
	assert.True(t, err.Retryable)
	assert.Contains(t, err.Error(), "E009")
	assert.Contains(t, err.Error(), "connect refused")

	fatal := NewError(CodeAuthTokenInvalid, "bad token")
	assert.False(t, fatal.Retryable)
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewError(CodeConnection, "call failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "socket closed")
}

func TestIsRetryable_Wrapped(t *testing.T) {
	err := fmt.Errorf("after 3 attempts: %w", NewError(CodeTimeout, "deadline"))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, CodeTimeout, CodeOf(err))

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}
