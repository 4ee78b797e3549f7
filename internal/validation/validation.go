package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"chatcore/internal/constants"
	"chatcore/internal/errors"
)

const bytesPerMegabyte = 1024 * 1024

// ValidateID checks a conversation, message or user identifier
func ValidateID(id, fieldName string) error {
	if id == "" {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s cannot be empty", fieldName))
	}

	if len(id) > constants.MaxIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, constants.MaxIDLength))
	}

	for _, char := range id {
		if unicode.IsControl(char) || unicode.IsSpace(char) {
			return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s contains invalid characters", fieldName))
		}
	}

	return nil
}

// ValidateIDs checks a non-empty batch of identifiers
func ValidateIDs(ids []string, fieldName string) error {
	if len(ids) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s cannot be empty", fieldName))
	}
	for _, id := range ids {
		if err := ValidateID(id, fieldName); err != nil {
			return err
		}
	}
	return nil
}

// ValidateContent checks the body of an outgoing text message
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.NewValidationError("content", "", "message cannot be empty")
	}

	if n := utf8.RuneCountInString(content); n > constants.MaxContentLength {
		return errors.NewValidationError("content", fmt.Sprintf("%d chars", n),
			fmt.Sprintf("message too long (max %d characters)", constants.MaxContentLength))
	}

	return nil
}

// ValidateCaption checks an optional document caption
func ValidateCaption(caption string) error {
	return ValidateStringLength(caption, "caption", 0, constants.MaxCaptionLength)
}

// ValidateDocumentSize checks an upload against the document size limit
func ValidateDocumentSize(sizeBytes int64) error {
	if sizeBytes < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "document size cannot be negative")
	}

	if sizeBytes == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "document is empty")
	}

	maxSizeBytes := int64(constants.MaxDocumentSizeMB) * bytesPerMegabyte
	if sizeBytes > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("document too large: %d bytes (max %d MB)", sizeBytes, constants.MaxDocumentSizeMB))
	}

	return nil
}

// ValidateStringLength validates string length in characters against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	n := utf8.RuneCountInString(value)
	if n < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if n > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidatePage checks a 1-based page number
func ValidatePage(page int) error {
	if page < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "page must be at least 1")
	}
	return nil
}
