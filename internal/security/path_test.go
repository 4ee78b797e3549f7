package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative file", "config.json", false},
		{"nested relative", "conf/chatcore.yaml", false},
		{"absolute", "/etc/chatcore/config.yaml", false},
		{"dot segment", "./config.json", false},
		{"double dots inside name", "my..config.json", false},
		{"empty", "", true},
		{"traversal", "../secret.json", true},
		{"nested traversal", "conf/../../secret.json", true},
		{"nul byte", "config\x00.json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSafeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"C:\\Users\\bob\\file.txt", "file.txt"},
		{"", "attachment"},
		{"..", "attachment"},
		{"a\nb.txt", "a_b.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeFileName(tt.in))
		})
	}
}

func TestJoinWithin(t *testing.T) {
	base := t.TempDir()

	got, err := JoinWithin(base, "../../escape.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "escape.txt"), got)

	got, err = JoinWithin(base, "invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "invoice.pdf"), got)
}
