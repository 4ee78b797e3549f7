package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeInvalidConfig,
				Message: "configuration is invalid",
			},
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeTransport,
				Message: "socket dial failed",
				Cause:   errors.New("connection refused"),
			},
			expected: "TRANSPORT: socket dial failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternalError, "something went wrong")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "validation failed")

	result := err.WithContext("field", "content").WithContext("value", "")

	assert.Equal(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "content", err.Context["field"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(WrapRetryable(errors.New("x"), ErrCodeTransport, "dial")))
	assert.False(t, IsRetryable(New(ErrCodeGatingViolation, "limit")))
	assert.False(t, IsRetryable(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", WrapRetryable(errors.New("x"), ErrCodeChatAPI, "api"))
	assert.True(t, IsRetryable(wrapped))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, GetCode(New(ErrCodeNotFound, "gone")))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
	assert.Equal(t, ErrCodeSendFailed, GetCode(fmt.Errorf("ctx: %w", New(ErrCodeSendFailed, "x"))))
}

func TestHasCode_SearchesCauseChain(t *testing.T) {
	inner := NewAPIError("/x", 403, errors.New("forbidden"))
	outer := NewSendError("c1", inner)

	assert.True(t, HasCode(outer, ErrCodeSendFailed))
	assert.True(t, HasCode(outer, ErrCodeChatAPI))
	assert.False(t, HasCode(outer, ErrCodeTransport))
	assert.False(t, HasCode(nil, ErrCodeTransport))
}

func TestStatusCode(t *testing.T) {
	err := NewSendError("c1", NewAPIError("/x", 503, errors.New("down")))
	assert.Equal(t, 503, StatusCode(err))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "could not open document", GetUserMessage(NewAttachmentError("m1", errors.New("403"))))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("plain")))
}

func TestAs(t *testing.T) {
	appErr, ok := As(fmt.Errorf("wrapped: %w", New(ErrCodeTimeout, "slow")))
	require.True(t, ok)
	assert.Equal(t, ErrCodeTimeout, appErr.Code)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}
