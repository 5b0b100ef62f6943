package chat

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidMessage  Code = "INVALID_MESSAGE"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeBlocked         Code = "BLOCKED"
	CodeUploadFailed    Code = "UPLOAD_FAILED"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeConflict        Code = "CONFLICT"
	CodeTransient       Code = "TRANSIENT"
	CodeInternal        Code = "INTERNAL"
)

// Error is the error type returned by every huddle component for
// conditions the caller is expected to act on.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports a match when target is an *Error with the same code, so the
// sentinels below work with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidMessage  = &Error{Code: CodeInvalidMessage, Message: "message needs text or an image"}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrUnauthenticated = &Error{Code: CodeUnauthenticated, Message: "no user signed in"}
	ErrBlocked         = &Error{Code: CodeBlocked, Message: "conversation is blocked"}
	ErrUploadFailed    = &Error{Code: CodeUploadFailed, Message: "upload failed"}
	ErrAlreadyExists   = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrConflict        = &Error{Code: CodeConflict, Message: "version conflict"}
	ErrTransient       = &Error{Code: CodeTransient, Message: "backend unavailable"}
	ErrInternal        = &Error{Code: CodeInternal, Message: "internal error"}
)

// New returns an error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func NotFound(format string, args ...any) error {
	return Newf(CodeNotFound, format, args...)
}

func InvalidArgument(format string, args ...any) error {
	return Newf(CodeInvalidArgument, format, args...)
}

func AlreadyExists(format string, args ...any) error {
	return Newf(CodeAlreadyExists, format, args...)
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
