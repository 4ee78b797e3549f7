package validation

import (
	"strings"
	"testing"

	"chatcore/internal/constants"
	"chatcore/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"server id", "m_1a2b3c", false},
		{"temp id", "tmp_8f14e45f", false},
		{"uuid", "3f2504e0-4f89-11d3-9a0c-0305e82c3301", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", constants.MaxIDLength+1), true},
		{"contains space", "m 1", true},
		{"contains newline", "m\n1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id, "message id")
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateIDs(t *testing.T) {
	assert.NoError(t, ValidateIDs([]string{"a", "b"}, "message id"))
	assert.Error(t, ValidateIDs(nil, "message id"))
	assert.Error(t, ValidateIDs([]string{"a", ""}, "message id"))
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"simple", "hi", false},
		{"unicode at limit", strings.Repeat("é", constants.MaxContentLength), false},
		{"empty", "", true},
		{"whitespace only", "  \n\t", true},
		{"too long", strings.Repeat("x", constants.MaxContentLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCaption(t *testing.T) {
	assert.NoError(t, ValidateCaption(""))
	assert.NoError(t, ValidateCaption("see attached"))
	assert.Error(t, ValidateCaption(strings.Repeat("c", constants.MaxCaptionLength+1)))
}

func TestValidateDocumentSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		wantErr bool
	}{
		{"small", 1024, false},
		{"at limit", int64(constants.MaxDocumentSizeMB) * bytesPerMegabyte, false},
		{"over limit", int64(constants.MaxDocumentSizeMB)*bytesPerMegabyte + 1, true},
		{"empty", 0, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentSize(tt.size)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNumericRange(t *testing.T) {
	assert.NoError(t, ValidateNumericRange(5, "page size", 1, 100))
	assert.Error(t, ValidateNumericRange(0, "page size", 1, 100))
	assert.Error(t, ValidateNumericRange(101, "page size", 1, 100))
}

func TestValidateTimeout(t *testing.T) {
	assert.NoError(t, ValidateTimeout(30, "timeout"))
	assert.Error(t, ValidateTimeout(0, "timeout"))
	assert.Error(t, ValidateTimeout(3601, "timeout"))
}

func TestValidatePage(t *testing.T) {
	assert.NoError(t, ValidatePage(1))
	assert.Error(t, ValidatePage(0))
}
