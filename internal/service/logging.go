package service

import (
	"context"

	"chatcore/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Standard field names for service-level logs
const (
	LogFieldConversationID = "conversation_id"
	LogFieldMessageID      = "message_id"
	LogFieldUserID         = "user_id"
	LogFieldEvent          = "event"
	LogFieldState          = "state"
	LogFieldCount          = "count"
	LogFieldAttempt        = "attempt"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey marks a context whose logs may carry unmasked identifiers
const VerboseContextKey ContextKey = "verbose"

// WithVerbose returns a context with the verbose logging flag set
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// idFields builds the identifier fields of a log entry, masked unless the
// context asks for verbose logging
func idFields(ctx context.Context, conversationID, messageID, userID string) logrus.Fields {
	verbose := IsVerboseLogging(ctx)
	fields := logrus.Fields{}
	if conversationID != "" {
		if verbose {
			fields[LogFieldConversationID] = conversationID
		} else {
			fields[LogFieldConversationID] = privacy.MaskConversationID(conversationID)
		}
	}
	if messageID != "" {
		if verbose {
			fields[LogFieldMessageID] = messageID
		} else {
			fields[LogFieldMessageID] = privacy.MaskMessageID(messageID)
		}
	}
	if userID != "" {
		if verbose {
			fields[LogFieldUserID] = userID
		} else {
			fields[LogFieldUserID] = privacy.MaskUserID(userID)
		}
	}
	return fields
}
