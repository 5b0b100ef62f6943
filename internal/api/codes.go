package api

import (
	"context"
	"errors"

	"github.com/matheus3301/huddle/internal/chat"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CodeTrailer carries the domain error code next to the gRPC status, so
// codes that share a gRPC code stay distinct for clients.
const CodeTrailer = "x-huddle-code"

var toGRPC = map[chat.Code]codes.Code{
	chat.CodeNotFound:        codes.NotFound,
	chat.CodeInvalidMessage:  codes.InvalidArgument,
	chat.CodeInvalidArgument: codes.InvalidArgument,
	chat.CodeUnauthenticated: codes.Unauthenticated,
	chat.CodeBlocked:         codes.PermissionDenied,
	chat.CodeUploadFailed:    codes.FailedPrecondition,
	chat.CodeAlreadyExists:   codes.AlreadyExists,
	chat.CodeConflict:        codes.Aborted,
	chat.CodeTransient:       codes.Unavailable,
	chat.CodeInternal:        codes.Internal,
}

var fromGRPC = map[codes.Code]chat.Code{
	codes.NotFound:           chat.CodeNotFound,
	codes.InvalidArgument:    chat.CodeInvalidArgument,
	codes.Unauthenticated:    chat.CodeUnauthenticated,
	codes.PermissionDenied:   chat.CodeBlocked,
	codes.FailedPrecondition: chat.CodeUploadFailed,
	codes.AlreadyExists:      chat.CodeAlreadyExists,
	codes.Aborted:            chat.CodeConflict,
	codes.Unavailable:        chat.CodeTransient,
	// The transport rejects bodies over its size limit before the blob
	// store sees them.
	codes.ResourceExhausted:  chat.CodeUploadFailed,
}

// ToStatus converts err to a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(toGRPC[chat.CodeOf(err)], err.Error())
}

// trailerFor returns the trailer that carries err's domain code, or nil
// when err has none.
func trailerFor(err error) metadata.MD {
	var ce *chat.Error
	if !errors.As(err, &ce) {
		return nil
	}
	return metadata.Pairs(CodeTrailer, string(ce.Code))
}

// FromStatus converts a gRPC error back into a *chat.Error. trailer is the
// call's trailer metadata and may be nil.
func FromStatus(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	if vals := trailer.Get(CodeTrailer); len(vals) > 0 {
		return chat.New(chat.Code(vals[0]), st.Message())
	}
	code, ok := fromGRPC[st.Code()]
	if !ok {
		code = chat.CodeInternal
	}
	if st.Code() == codes.Unavailable {
		return chat.Wrap(code, st.Message(), err)
	}
	return chat.New(code, st.Message())
}
