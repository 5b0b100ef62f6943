// Package client talks to a huddled daemon over its Unix domain socket.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/chat"
	intsync "github.com/matheus3301/huddle/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxRecvMsgSize bounds responses; snapshots carry up to a thousand
// messages.
const maxRecvMsgSize = 64 << 20

// Client wraps the gRPC connection to the daemon and the id of the
// daemon-side session it acts for.
type Client struct {
	conn *grpc.ClientConn
	// Backoff paces Watch reconnects.
	Backoff backoff.Config

	mu      sync.RWMutex
	session string
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, Backoff: backoff.DefaultConfig}, nil
}

// Close closes the gRPC connection. The daemon-side session stays open.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Session returns the session id calls are made for.
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// UseSession makes later calls act for an existing session.
func (c *Client) UseSession(id string) {
	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if id := c.Session(); id != "" {
		return metadata.AppendToOutgoingContext(ctx, api.SessionHeader, id)
	}
	return ctx
}

// call invokes a unary method; out may be nil to discard the response.
func (c *Client) call(ctx context.Context, method string, in, out any) error {
	if in == nil {
		in = api.Empty{}
	}
	req, err := api.Encode(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	var trailer metadata.MD
	if err := c.conn.Invoke(c.outgoing(ctx), api.FullMethod(method), req, resp, grpc.Trailer(&trailer)); err != nil {
		return api.FromStatus(err, trailer)
	}
	if out == nil {
		return nil
	}
	return api.Decode(resp, out)
}

// CreateSession opens a new daemon-side session and uses it.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp api.SessionResponse
	if err := c.call(ctx, api.MethodCreateSession, nil, &resp); err != nil {
		return "", err
	}
	c.UseSession(resp.SessionID)
	return resp.SessionID, nil
}

// CloseSession ends the current session.
func (c *Client) CloseSession(ctx context.Context) error {
	if err := c.call(ctx, api.MethodCloseSession, nil, nil); err != nil {
		return err
	}
	c.UseSession("")
	return nil
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.call(ctx, api.MethodStatus, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignUp registers a user and signs the session in. avatar may be empty.
func (c *Client) SignUp(ctx context.Context, username, avatarName string, avatar []byte) (*chat.Profile, error) {
	var p chat.Profile
	req := api.SignUpRequest{Username: username, AvatarName: avatarName, AvatarData: avatar}
	if err := c.call(ctx, api.MethodSignUp, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) SignIn(ctx context.Context, username string) (*chat.Profile, error) {
	var p chat.Profile
	if err := c.call(ctx, api.MethodSignIn, api.SignInRequest{Username: username}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	return c.call(ctx, api.MethodSignOut, nil, nil)
}

func (c *Client) WhoAmI(ctx context.Context) (*chat.Profile, error) {
	var p chat.Profile
	if err := c.call(ctx, api.MethodWhoAmI, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetAvatar uploads a new avatar for the signed-in user.
func (c *Client) SetAvatar(ctx context.Context, name string, data []byte) (*chat.Profile, error) {
	var p chat.Profile
	if err := c.call(ctx, api.MethodSetAvatar, api.SetAvatarRequest{Name: name, Data: data}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ChatList(ctx context.Context, filter string) ([]chat.ChatListItem, error) {
	var resp api.ChatListResponse
	if err := c.call(ctx, api.MethodChatList, api.ChatListRequest{Filter: filter}, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) OpenConversation(ctx context.Context, conv chat.ConversationID, peer chat.UserID) (*chat.ViewState, error) {
	var v chat.ViewState
	req := api.OpenConversationRequest{ConversationID: conv, PeerID: peer}
	if err := c.call(ctx, api.MethodOpenConversation, req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) CloseConversation(ctx context.Context) error {
	return c.call(ctx, api.MethodCloseConversation, nil, nil)
}

func (c *Client) ToggleBlock(ctx context.Context) (*chat.ViewState, error) {
	var v chat.ViewState
	if err := c.call(ctx, api.MethodToggleBlock, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) SetDraft(ctx context.Context, text string) error {
	return c.call(ctx, api.MethodSetDraft, api.SetDraftRequest{Text: text}, nil)
}

func (c *Client) AttachImage(ctx context.Context, name string, data []byte) error {
	return c.call(ctx, api.MethodAttachImage, api.AttachImageRequest{Name: name, Data: data}, nil)
}

func (c *Client) ClearImage(ctx context.Context) error {
	return c.call(ctx, api.MethodClearImage, nil, nil)
}

func (c *Client) Send(ctx context.Context) (*chat.Message, error) {
	var m chat.Message
	if err := c.call(ctx, api.MethodSend, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) NewConversation(ctx context.Context, peer chat.UserID) (*chat.Conversation, error) {
	var conv chat.Conversation
	if err := c.call(ctx, api.MethodNewConversation, api.NewConversationRequest{PeerID: peer}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) SearchUsers(ctx context.Context, username string) (*chat.Profile, error) {
	var p chat.Profile
	if err := c.call(ctx, api.MethodSearchUsers, api.SearchUsersRequest{Username: username}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Messages(ctx context.Context, afterSeq int64, limit int) ([]chat.Message, error) {
	var resp api.MessagesResponse
	if err := c.call(ctx, api.MethodMessages, api.MessagesRequest{AfterSeq: afterSeq, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) Snapshot(ctx context.Context) (*intsync.Snapshot, error) {
	var snap intsync.Snapshot
	if err := c.call(ctx, api.MethodSnapshot, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
