package errors

import (
	"chatcore/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Fields returns the structured fields an error contributes to a log entry.
// Identifiers from the error context are masked.
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{}
	if appErr, ok := As(err); ok {
		fields["error_code"] = appErr.Code
		fields["retryable"] = appErr.Retryable
		for k, v := range privacy.MaskSensitiveFields(appErr.Context) {
			fields[k] = v
		}
	}
	return fields
}

// Entry attaches err and its AppError context to a logrus entry
func Entry(logger logrus.FieldLogger, err error) *logrus.Entry {
	return logger.WithError(err).WithFields(Fields(err))
}
