package blob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/matheus3301/huddle/internal/chat"
)

// Smallest valid PNG header mimetype recognises.
var pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

func TestUploadStoresImage(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, "", 0, nil)

	ref, err := l.Upload(context.Background(), "cat.png", pngData)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, dir) {
		t.Errorf("ref %q not under %q", ref, dir)
	}
	if !regexp.MustCompile(`images/\d+_[0-9a-f-]{36}\.png$`).MatchString(ref) {
		t.Errorf("ref %q does not follow images/<ms>_<uuid>.png", ref)
	}
	got, err := os.ReadFile(ref)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pngData) {
		t.Error("stored bytes differ")
	}
}

func TestUploadBaseURL(t *testing.T) {
	l := NewLocal(t.TempDir(), "https://cdn.example.com/", 0, nil)
	ref, err := l.Upload(context.Background(), "cat.png", pngData)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, "https://cdn.example.com/images/") {
		t.Errorf("ref = %q", ref)
	}
}

func TestUploadRejects(t *testing.T) {
	tests := []struct {
		name     string
		maxBytes int64
		data     []byte
	}{
		{"empty", 0, nil},
		{"too large", 8, pngData},
		{"not an image", 0, []byte("just some text, not a picture")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLocal(t.TempDir(), "", tt.maxBytes, nil)
			_, err := l.Upload(context.Background(), "f", tt.data)
			if !errors.Is(err, chat.ErrUploadFailed) {
				t.Errorf("error = %v, want UploadFailed", err)
			}
		})
	}
}

func TestUploadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocal(t.TempDir(), "", 0, nil).Upload(ctx, "f", pngData); !errors.Is(err, chat.ErrUploadFailed) {
		t.Errorf("error = %v, want UploadFailed", err)
	}
}

func TestWriteFileCleansUpOnFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory at the target path makes the final rename fail.
	target := filepath.Join(dir, "taken")
	if err := os.Mkdir(target, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(target, pngData); err == nil {
		t.Fatal("writeFile over a directory succeeded")
	}
	leftovers, err := filepath.Glob(filepath.Join(dir, ".upload-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}
