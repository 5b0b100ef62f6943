package api

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/huddle/internal/chat"
	intsync "github.com/matheus3301/huddle/internal/sync"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service exposed by huddled.
const ServiceName = "huddle.v1.Huddle"

// SessionHeader names the metadata key carrying the client session id.
const SessionHeader = "x-huddle-session"

// Method names.
const (
	MethodCreateSession     = "CreateSession"
	MethodCloseSession      = "CloseSession"
	MethodStatus            = "Status"
	MethodSignUp            = "SignUp"
	MethodSignIn            = "SignIn"
	MethodSignOut           = "SignOut"
	MethodWhoAmI            = "WhoAmI"
	MethodSetAvatar         = "SetAvatar"
	MethodChatList          = "ChatList"
	MethodOpenConversation  = "OpenConversation"
	MethodCloseConversation = "CloseConversation"
	MethodToggleBlock       = "ToggleBlock"
	MethodSetDraft          = "SetDraft"
	MethodAttachImage       = "AttachImage"
	MethodClearImage        = "ClearImage"
	MethodSend              = "Send"
	MethodNewConversation   = "NewConversation"
	MethodSearchUsers       = "SearchUsers"
	MethodMessages          = "Messages"
	MethodSnapshot          = "Snapshot"
	MethodWatch             = "Watch"
)

// MaxMessageSize returns the gRPC message limit that lets a blob of
// blobMax bytes through: base64 inside a Struct grows it by 4/3, plus room
// for the rest of the body. Never below grpc's 4 MiB default.
func MaxMessageSize(blobMax int64) int {
	n := blobMax*4/3 + 1<<20
	if n < 4<<20 {
		n = 4 << 20
	}
	return int(n)
}

// FullMethod returns the gRPC path of a method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Request and response bodies. They travel as google.protobuf.Struct
// values holding their JSON form.

type SessionResponse struct {
	SessionID string `json:"session_id"`
}

type StatusResponse struct {
	Instance string `json:"instance"`
	UptimeMs int64  `json:"uptime_ms"`
	Sessions int    `json:"sessions"`
	Messages int64  `json:"messages"`
	// State is the caller's session state, when a session was given.
	State string `json:"state,omitempty"`
}

type SignUpRequest struct {
	Username string `json:"username"`
	// AvatarName and AvatarData upload an avatar image with the account.
	AvatarName string `json:"avatar_name,omitempty"`
	AvatarData []byte `json:"avatar_data,omitempty"`
}

type SignInRequest struct {
	Username string `json:"username"`
}

type SetAvatarRequest struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type ChatListRequest struct {
	Filter string `json:"filter"`
}

type ChatListResponse struct {
	Items []chat.ChatListItem `json:"items"`
}

type OpenConversationRequest struct {
	ConversationID chat.ConversationID `json:"conversation_id"`
	PeerID         chat.UserID         `json:"peer_id,omitempty"`
}

type SetDraftRequest struct {
	Text string `json:"text"`
}

type AttachImageRequest struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type NewConversationRequest struct {
	PeerID chat.UserID `json:"peer_id"`
}

type SearchUsersRequest struct {
	Username string `json:"username"`
}

type MessagesRequest struct {
	AfterSeq int64 `json:"after_seq"`
	Limit    int   `json:"limit,omitempty"`
}

type MessagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

type Empty struct{}

// WatchEvent is one frame of the Watch stream. The first frame carries a
// snapshot, the rest carry updates.
type WatchEvent struct {
	Snapshot *intsync.Snapshot `json:"snapshot,omitempty"`
	Update   *intsync.Update   `json:"update,omitempty"`
}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return out, nil
}

// Decode fills v from a Struct. A nil Struct leaves v unchanged.
func Decode(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return chat.Wrap(chat.CodeInvalidArgument, "decode body", err)
	}
	return nil
}
