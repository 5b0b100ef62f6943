// Package chat holds the domain types shared by the store, the write path
// and the synchronization engine.
package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// UserID identifies a user. Immutable once issued.
type UserID string

// ConversationID identifies a conversation. Never reused.
type ConversationID string

// NewUserID issues a fresh user id.
func NewUserID() UserID { return UserID(uuid.NewString()) }

// NewConversationID issues a fresh conversation id.
func NewConversationID() ConversationID { return ConversationID(uuid.NewString()) }

// Profile is the public identity of a user.
type Profile struct {
	ID        UserID    `json:"id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one immutable entry of a conversation log. Seq is the
// insertion position within the conversation and breaks CreatedAt ties.
type Message struct {
	ID             string         `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	SenderID       UserID         `json:"sender_id"`
	Seq            int64          `json:"seq"`
	CreatedAt      time.Time      `json:"created_at"`
	Text           string         `json:"text,omitempty"`
	ImageRef       string         `json:"image_ref,omitempty"`
}

// Validate checks that the message carries a body.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Text) == "" && m.ImageRef == "" {
		return ErrInvalidMessage
	}
	return nil
}

// HasImage reports whether the message carries an image reference.
func (m *Message) HasImage() bool { return m.ImageRef != "" }

// Conversation is a thread shared by its participants.
type Conversation struct {
	ID           ConversationID `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Participants []UserID       `json:"participants"`
}

// DirectoryEntry is one user's row for one conversation.
type DirectoryEntry struct {
	OwnerID            UserID         `json:"owner_id"`
	ConversationID     ConversationID `json:"conversation_id"`
	PeerID             UserID         `json:"peer_id"`
	LastMessagePreview string         `json:"last_message_preview"`
	IsSeen             bool           `json:"is_seen"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Version            int64          `json:"version"`
}

// ChatListItem is a directory entry resolved for display.
type ChatListItem struct {
	Entry      DirectoryEntry `json:"entry"`
	PeerName   string         `json:"peer_name"`
	PeerAvatar string         `json:"peer_avatar,omitempty"`
	// Redacted is set when the peer has blocked the viewer.
	Redacted bool `json:"redacted"`
}

// ViewState describes the open conversation of a session.
type ViewState struct {
	ConversationID ConversationID `json:"conversation_id,omitempty"`
	// Peer is nil when no conversation is open or when the peer has
	// blocked the viewer.
	Peer *Profile `json:"peer,omitempty"`
	// SelfBlockedPeer is true when the peer has blocked the viewer.
	SelfBlockedPeer bool `json:"self_blocked_peer"`
	// PeerBlockedSelf is true when the viewer has blocked the peer.
	PeerBlockedSelf bool `json:"peer_blocked_self"`
	CanSend         bool `json:"can_send"`
}

// Open reports whether a conversation is open.
func (v ViewState) Open() bool { return v.ConversationID != "" }

const (
	// ImagePreview replaces the preview of messages that carry an image.
	ImagePreview = "Image"
	// RedactedName is shown instead of a peer that blocked the viewer.
	RedactedName = "User"

	previewMaxRunes = 100
)

// Preview returns the directory preview for m.
func Preview(m *Message) string {
	if m.HasImage() {
		return ImagePreview
	}
	text := strings.TrimSpace(m.Text)
	if utf8.RuneCountInString(text) <= previewMaxRunes {
		return text
	}
	return string([]rune(text)[:previewMaxRunes])
}
