// Package messaging is the write path shared by every session: the message
// log, directory maintenance and the block table. Each mutation commits to
// the store first and then announces itself on the change-feed.
package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/feed"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

// markSeenAttempts bounds the compare-and-swap retries of MarkSeen.
const markSeenAttempts = 3

// Options tune the service.
type Options struct {
	// UniqueConversations rejects a second conversation between the same
	// pair with AlreadyExists. Off by default.
	UniqueConversations bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service owns every shared mutation.
type Service struct {
	db     *store.DB
	feed   *feed.Feed
	logger *zap.Logger
	opts   Options
}

// NewService creates a service. A nil logger discards logs.
func NewService(db *store.DB, f *feed.Feed, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{db: db, feed: f, logger: logger.Named("messaging"), opts: opts}
}

// Append adds a message from sender to conv. The directory entries of all
// participants change in the same commit.
func (s *Service) Append(ctx context.Context, conv chat.ConversationID, sender chat.UserID, text, imageRef string) (*chat.Message, error) {
	msg := chat.Message{
		ConversationID: conv,
		SenderID:       sender,
		Text:           strings.TrimSpace(text),
		ImageRef:       imageRef,
	}
	res, err := s.db.AppendMessage(ctx, msg, s.opts.Now())
	metrics.AppendsTotal.WithLabelValues(codeLabel(err)).Inc()
	if err != nil {
		if chat.CodeOf(err) == chat.CodeInternal {
			s.logger.Error("append failed", zap.Error(err), zap.String("conversation", string(conv)))
		}
		return nil, err
	}

	s.feed.MessageAppended(*res.Message)
	for _, e := range res.Entries {
		s.feed.DirectoryUpdated(e)
	}
	s.logger.Debug("message appended",
		zap.String("conversation", string(conv)),
		zap.String("sender", string(sender)),
		zap.Int64("seq", res.Message.Seq))
	return res.Message, nil
}

// Messages replays the log of conv after afterSeq.
func (s *Service) Messages(ctx context.Context, conv chat.ConversationID, afterSeq int64, limit int) ([]chat.Message, error) {
	return s.db.ListMessages(ctx, conv, afterSeq, limit)
}

// MarkSeen marks the owner's entry for conv as seen. Only the owner's row
// is written.
func (s *Service) MarkSeen(ctx context.Context, owner chat.UserID, conv chat.ConversationID) (*chat.DirectoryEntry, error) {
	var lastErr error
	for range markSeenAttempts {
		current, err := s.db.GetDirectoryEntry(ctx, owner, conv)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, chat.NotFound("conversation %q not found", conv)
		}
		if current.IsSeen {
			return current, nil
		}

		updated, err := s.db.MarkSeen(ctx, owner, conv, current.Version)
		if errors.Is(err, chat.ErrConflict) {
			metrics.MarkSeenConflictsTotal.Inc()
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		s.feed.DirectoryUpdated(*updated)
		return updated, nil
	}
	s.logger.Warn("mark seen gave up after conflicts",
		zap.String("owner", string(owner)), zap.String("conversation", string(conv)), zap.Error(lastErr))
	return nil, lastErr
}

// Directory lists the owner's entries.
func (s *Service) Directory(ctx context.Context, owner chat.UserID) ([]chat.DirectoryEntry, error) {
	return s.db.ListDirectory(ctx, owner)
}

// Entry returns the owner's entry for conv, or nil.
func (s *Service) Entry(ctx context.Context, owner chat.UserID, conv chat.ConversationID) (*chat.DirectoryEntry, error) {
	return s.db.GetDirectoryEntry(ctx, owner, conv)
}

// Profile returns a user's profile, or nil.
func (s *Service) Profile(ctx context.Context, id chat.UserID) (*chat.Profile, error) {
	return s.db.GetUser(ctx, id)
}

// FindUser looks a user up by exact username.
func (s *Service) FindUser(ctx context.Context, username string) (*chat.Profile, error) {
	p, err := s.db.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, chat.NotFound("user %q not found", username)
	}
	return p, nil
}

// CreateConversation starts a new conversation between self and peer.
func (s *Service) CreateConversation(ctx context.Context, self, peer chat.UserID) (*chat.Conversation, error) {
	if self == peer {
		return nil, chat.InvalidArgument("cannot start a conversation with yourself")
	}
	p, err := s.db.GetUser(ctx, peer)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, chat.NotFound("user %q not found", peer)
	}
	if s.opts.UniqueConversations {
		existing, err := s.db.ConversationsBetween(ctx, self, peer)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, chat.AlreadyExists("conversation with %q already exists", p.Username)
		}
	}

	conv, entries, err := s.db.CreateConversation(ctx, chat.NewConversationID(), self, peer, s.opts.Now())
	if err != nil {
		return nil, err
	}
	s.feed.ConversationCreated(*conv)
	for _, e := range entries {
		s.feed.DirectoryUpdated(e)
	}
	s.logger.Info("conversation created",
		zap.String("conversation", string(conv.ID)),
		zap.String("self", string(self)),
		zap.String("peer", string(peer)))
	return conv, nil
}

// IsBlocked reports whether blocker has blocked blocked.
func (s *Service) IsBlocked(ctx context.Context, blocker, blocked chat.UserID) (bool, error) {
	return s.db.IsBlocked(ctx, blocker, blocked)
}

// Block records that blocker blocked blocked. Idempotent.
func (s *Service) Block(ctx context.Context, blocker, blocked chat.UserID) error {
	return s.SetBlocked(ctx, blocker, blocked, true)
}

// Unblock removes the relation. Idempotent.
func (s *Service) Unblock(ctx context.Context, blocker, blocked chat.UserID) error {
	return s.SetBlocked(ctx, blocker, blocked, false)
}

// SetBlocked sets the relation to active. A change is announced only when
// the stored relation actually changed.
func (s *Service) SetBlocked(ctx context.Context, blocker, blocked chat.UserID, active bool) error {
	if blocker == blocked {
		return chat.InvalidArgument("cannot block yourself")
	}
	var (
		changed bool
		err     error
	)
	if active {
		changed, err = s.db.Block(ctx, blocker, blocked, s.opts.Now())
	} else {
		changed, err = s.db.Unblock(ctx, blocker, blocked)
	}
	if err != nil {
		return err
	}
	if changed {
		s.feed.BlockChanged(feed.BlockChange{Blocker: blocker, Blocked: blocked, Active: active})
		s.logger.Info("block relation changed",
			zap.String("blocker", string(blocker)),
			zap.String("blocked", string(blocked)),
			zap.Bool("active", active))
	}
	return nil
}

func codeLabel(err error) string {
	if err == nil {
		return "OK"
	}
	return string(chat.CodeOf(err))
}
