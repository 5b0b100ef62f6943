package api

import (
	"github.com/matheus3301/huddle/internal/chat"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// watchBuffer bounds how far a watcher may fall behind before updates are
// dropped for it.
const watchBuffer = 256

// watchHandler streams a snapshot followed by every session update.
func (s *Service) watchHandler(_ any, stream grpc.ServerStream) error {
	ctx := stream.Context()
	fail := func(err error) error {
		if md := trailerFor(err); md != nil {
			stream.SetTrailer(md)
		}
		return ToStatus(err)
	}

	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	id := sessionID(ctx)
	if id == "" {
		return fail(chat.New(chat.CodeUnauthenticated, "missing "+SessionHeader+" header"))
	}
	e, err := s.registry.Get(id)
	if err != nil {
		return fail(chat.Wrap(chat.CodeUnauthenticated, "unknown session", err))
	}

	// Subscribe before the snapshot so no update falls between them.
	updates := e.Session.Updates(ctx, watchBuffer)
	snap, err := e.Session.Snapshot(ctx)
	if err != nil {
		return fail(err)
	}
	if err := s.sendEvent(stream, WatchEvent{Snapshot: &snap}); err != nil {
		return err
	}

	s.logger.Debug("watch started", zap.String("session", id))
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fail(chat.New(chat.CodeTransient, "session closed"))
			}
			if err := s.sendEvent(stream, WatchEvent{Update: &u}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Service) sendEvent(stream grpc.ServerStream, evt WatchEvent) error {
	msg, err := Encode(evt)
	if err != nil {
		return ToStatus(err)
	}
	return stream.SendMsg(msg)
}
