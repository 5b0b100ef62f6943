// Package blob stores uploaded images on the local filesystem.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/metrics"
	"go.uber.org/zap"
)

// DefaultMaxBytes caps an upload when no limit is configured.
const DefaultMaxBytes = 10 << 20

var allowedMIMEs = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Uploader stores image bytes and returns a reference to them.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// Local writes blobs under a root directory.
type Local struct {
	root     string
	baseURL  string
	maxBytes int64
	logger   *zap.Logger
	now      func() time.Time
}

// NewLocal creates a store rooted at dir. Refs are prefixed with baseURL
// when it is set, otherwise they are file paths.
func NewLocal(dir, baseURL string, maxBytes int64, logger *zap.Logger) *Local {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		root:     dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger.Named("blob"),
		now:      time.Now,
	}
}

// Upload validates data as an image and stores it. name is the client's
// file name and is only logged.
func (l *Local) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", chat.Wrap(chat.CodeUploadFailed, "upload canceled", err)
	}
	if len(data) == 0 {
		return "", l.reject("", chat.New(chat.CodeUploadFailed, "file is empty"))
	}
	if int64(len(data)) > l.maxBytes {
		return "", l.reject("", chat.Newf(chat.CodeUploadFailed, "file exceeds max size of %d bytes", l.maxBytes))
	}

	mimeType := mimetype.Detect(data).String()
	ext, ok := allowedMIMEs[mimeType]
	if !ok {
		return "", l.reject(mimeType, chat.Newf(chat.CodeUploadFailed, "unsupported mime type %s", mimeType))
	}

	key := fmt.Sprintf("images/%d_%s.%s", l.now().UnixMilli(), uuid.NewString(), ext)
	path := filepath.Join(l.root, filepath.FromSlash(key))
	if err := writeFile(path, data); err != nil {
		return "", l.reject(mimeType, chat.Wrap(chat.CodeUploadFailed, "store image", err))
	}

	metrics.UploadsTotal.WithLabelValues(mimeType, "ok").Inc()
	metrics.UploadBytesTotal.Add(float64(len(data)))
	l.logger.Info("image stored",
		zap.String("name", name),
		zap.String("key", key),
		zap.String("mime", mimeType),
		zap.Int("bytes", len(data)),
	)

	if l.baseURL != "" {
		return l.baseURL + "/" + key, nil
	}
	return path, nil
}

func (l *Local) reject(mimeType string, err error) error {
	if mimeType == "" {
		mimeType = "unknown"
	}
	metrics.UploadsTotal.WithLabelValues(mimeType, "rejected").Inc()
	l.logger.Warn("upload rejected", zap.Error(err))
	return err
}

// writeFile writes through a temp file so readers never see a partial blob.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
