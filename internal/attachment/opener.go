package attachment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"chatcore/internal/constants"
	"chatcore/internal/errors"
	"chatcore/internal/models"
	"chatcore/internal/security"

	"github.com/gabriel-vasile/mimetype"
)

// FileOpener downloads documents into a directory
type FileOpener struct {
	client *http.Client
	dir    string
}

func NewFileOpener(httpClient *http.Client, dir string) *FileOpener {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "chatcore")
	}
	return &FileOpener{client: httpClient, dir: dir}
}

func (o *FileOpener) Open(ctx context.Context, url string, att *models.Attachment) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", errors.New(errors.ErrCodeAttachmentExpired, "attachment url expired").
			WithContext("status_code", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	limit := int64(constants.MaxDocumentSizeMB) * 1024 * 1024
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("attachment exceeds %d MB", constants.MaxDocumentSizeMB)
	}

	name := "attachment"
	if att != nil && att.Name != "" {
		name = att.Name
	}
	name = security.SafeFileName(name)
	if filepath.Ext(name) == "" {
		name += mimetype.Detect(data).Extension()
	}

	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	path, err := security.JoinWithin(o.dir, name)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return path, nil
}
