package api

import (
	"context"
	"time"

	"github.com/matheus3301/huddle/internal/chat"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *Service) routes() map[string]method {
	open := func(fn unaryFunc) method { return method{fn: fn} }
	bound := func(fn unaryFunc) method { return method{needsSession: true, fn: fn} }

	return map[string]method{
		MethodCreateSession:     open(s.createSession),
		MethodCloseSession:      bound(s.closeSession),
		MethodStatus:            open(s.status),
		MethodSignUp:            bound(s.signUp),
		MethodSignIn:            bound(s.signIn),
		MethodSignOut:           bound(s.signOut),
		MethodWhoAmI:            bound(s.whoAmI),
		MethodSetAvatar:         bound(s.setAvatar),
		MethodChatList:          bound(s.chatList),
		MethodOpenConversation:  bound(s.openConversation),
		MethodCloseConversation: bound(s.closeConversation),
		MethodToggleBlock:       bound(s.toggleBlock),
		MethodSetDraft:          bound(s.setDraft),
		MethodAttachImage:       bound(s.attachImage),
		MethodClearImage:        bound(s.clearImage),
		MethodSend:              bound(s.send),
		MethodNewConversation:   bound(s.newConversation),
		MethodSearchUsers:       bound(s.searchUsers),
		MethodMessages:          bound(s.messages),
		MethodSnapshot:          bound(s.snapshot),
	}
}

func (s *Service) createSession(_ context.Context, _ *Entry, _ *structpb.Struct) (any, error) {
	e := s.registry.Create()
	return SessionResponse{SessionID: e.ID}, nil
}

func (s *Service) closeSession(_ context.Context, e *Entry, _ *structpb.Struct) (any, error) {
	return Empty{}, s.registry.Close(e.ID)
}

func (s *Service) status(ctx context.Context, e *Entry, _ *structpb.Struct) (any, error) {
	resp := StatusResponse{
		Instance: s.instance,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		Sessions: s.registry.Len(),
	}
	if s.counter != nil {
		if n, err := s.counter.MessageCount(ctx); err == nil {
			resp.Messages = n
		} else {
			s.logger.Warn("message count failed", zap.Error(err))
		}
	}
	if e != nil {
		resp.State = string(e.Session.State())
	}
	return resp, nil
}

func (s *Service) signUp(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in SignUpRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	var avatar string
	if len(in.AvatarData) > 0 {
		ref, err := s.uploadAvatar(ctx, in.AvatarName, in.AvatarData)
		if err != nil {
			return nil, err
		}
		avatar = ref
	}
	p, err := e.Auth.Registry().SignUp(ctx, in.Username, avatar)
	if err != nil {
		return nil, err
	}
	if _, err := e.Auth.SignIn(ctx, p.Username); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) signIn(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in SignInRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	return e.Auth.SignIn(ctx, in.Username)
}

func (s *Service) signOut(_ context.Context, e *Entry, _ *structpb.Struct) (any, error) {
	e.Auth.SignOut()
	return Empty{}, nil
}

func (s *Service) whoAmI(ctx context.Context, e *Entry, _ *structpb.Struct) (any, error) {
	uid, ok := e.Auth.CurrentUserID()
	if !ok {
		return nil, chat.ErrUnauthenticated
	}
	p, err := e.Auth.FetchUserInfo(ctx, uid)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, chat.NotFound("user %q not found", uid)
	}
	return p, nil
}

func (s *Service) setAvatar(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in SetAvatarRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	uid, ok := e.Auth.CurrentUserID()
	if !ok {
		return nil, chat.ErrUnauthenticated
	}
	ref, err := s.uploadAvatar(ctx, in.Name, in.Data)
	if err != nil {
		return nil, err
	}
	return e.Auth.Registry().SetAvatar(ctx, uid, ref)
}

func (s *Service) uploadAvatar(ctx context.Context, name string, data []byte) (string, error) {
	if s.registry.deps.Blobs == nil {
		return "", chat.New(chat.CodeUploadFailed, "no blob storage configured")
	}
	return s.registry.deps.Blobs.Upload(ctx, name, data)
}

func (s *Service) chatList(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in ChatListRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	items, err := e.Session.ChatList(ctx, in.Filter)
	if err != nil {
		return nil, err
	}
	return ChatListResponse{Items: items}, nil
}

func (s *Service) openConversation(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in OpenConversationRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	if in.ConversationID == "" {
		return nil, chat.InvalidArgument("conversation_id is required")
	}
	return e.Session.OpenConversation(ctx, in.ConversationID, in.PeerID)
}

func (s *Service) closeConversation(ctx context.Context, e *Entry, _ *structpb.Struct) (any, error) {
	return Empty{}, e.Session.CloseConversation(ctx)
}

func (s *Service) toggleBlock(ctx context.Context, e *Entry, _ *structpb.Struct) (any, error) {
	return e.Session.ToggleBlock(ctx)
}

func (s *Service) setDraft(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in SetDraftRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	return Empty{}, e.Session.SetDraft(ctx, in.Text)
}

func (s *Service) attachImage(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in AttachImageRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	return Empty{}, e.Session.AttachImage(ctx, in.Name, in.Data)
}

func (s *Service) clearImage(ctx context.Context, e *Entry, _ *structpb.Struct) (any, error) {
	return Empty{}, e.Session.ClearImage(ctx)
}

func (s *Service) send(ctx context.Context, e *Entry, _ *structpb.Struct) (any, error) {
	return e.Session.Send(ctx)
}

func (s *Service) newConversation(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in NewConversationRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	return e.Session.NewConversation(ctx, in.PeerID)
}

func (s *Service) searchUsers(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in SearchUsersRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	return e.Session.SearchUsers(ctx, in.Username)
}

func (s *Service) messages(ctx context.Context, e *Entry, req *structpb.Struct) (any, error) {
	var in MessagesRequest
	if err := Decode(req, &in); err != nil {
		return nil, err
	}
	msgs, err := e.Session.Messages(ctx, in.AfterSeq, in.Limit)
	if err != nil {
		return nil, err
	}
	return MessagesResponse{Messages: msgs}, nil
}

func (s *Service) snapshot(ctx context.Context, e *Entry, _ *structpb.Struct) (any, error) {
	return e.Session.Snapshot(ctx)
}
