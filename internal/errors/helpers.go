package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewAPIError creates an error for a failed REST call. 5xx, 408 and 429 are retryable.
func NewAPIError(endpoint string, statusCode int, err error) *AppError {
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout

	appErr := Wrap(err, ErrCodeChatAPI, "chat API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	switch statusCode {
	case http.StatusUnauthorized:
		appErr.WithUserMessage("Your session has expired")
	case http.StatusForbidden:
		appErr.WithUserMessage("You are not allowed to do that")
	case http.StatusNotFound:
		appErr.WithUserMessage("Not found")
	default:
		appErr.WithUserMessage("Something went wrong, please try again")
	}

	appErr.Retryable = retryable
	return appErr
}

// NewTransportError creates a socket-level error. Transport errors are
// always retryable since the session reconnects on its own.
func NewTransportError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeTransport, fmt.Sprintf("socket %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Connection lost, reconnecting")
}

// NewGatingError rejects a send before any network call is made
func NewGatingError(conversationID, reason string) *AppError {
	return New(ErrCodeGatingViolation, reason).
		WithContext("conversation_id", conversationID).
		WithUserMessage(reason)
}

// NewSendError wraps a failed send. The caller restores the user's input.
func NewSendError(conversationID string, err error) *AppError {
	return Wrap(err, ErrCodeSendFailed, "message could not be sent").
		WithContext("conversation_id", conversationID).
		WithUserMessage("Message not sent, please try again")
}

// NewAttachmentError reports a document that could not be opened after a refresh
func NewAttachmentError(messageID string, err error) *AppError {
	return Wrap(err, ErrCodeAttachmentUnavailable, "document could not be opened").
		WithContext("message_id", messageID).
		WithUserMessage("could not open document")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}
