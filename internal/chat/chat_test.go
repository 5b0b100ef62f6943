package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"text", Message{Text: "hi"}, false},
		{"image", Message{ImageRef: "images/a.png"}, false},
		{"both", Message{Text: "look", ImageRef: "images/a.png"}, false},
		{"empty", Message{}, true},
		{"whitespace", Message{Text: "  \n\t"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	if got := Preview(&Message{Text: "  hello  "}); got != "hello" {
		t.Errorf("Preview(text) = %q, want hello", got)
	}
	if got := Preview(&Message{Text: "caption", ImageRef: "x"}); got != ImagePreview {
		t.Errorf("Preview(image) = %q, want %q", got, ImagePreview)
	}

	long := strings.Repeat("é", 150)
	got := Preview(&Message{Text: long})
	if n := len([]rune(got)); n != 100 {
		t.Errorf("Preview(long) has %d runes, want 100", n)
	}
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("open: %w", NotFound("conversation %q", "c1"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(%v, ErrNotFound) = false", err)
	}
	if errors.Is(err, ErrBlocked) {
		t.Errorf("errors.Is(%v, ErrBlocked) = true", err)
	}
	if CodeOf(err) != CodeNotFound {
		t.Errorf("CodeOf = %s, want %s", CodeOf(err), CodeNotFound)
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Error("CodeOf(plain) should be INTERNAL")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeUploadFailed, "store image", cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped error should unwrap to cause")
	}
	if !errors.Is(err, ErrUploadFailed) {
		t.Error("wrapped error should match ErrUploadFailed")
	}
	if err.Error() != "store image: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
}
