package sync

import (
	"context"
	"errors"

	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/feed"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/matheus3301/huddle/internal/status"
	"go.uber.org/zap"
)

var errNoConversation = chat.NotFound("no conversation is open")

// OpenConversation marks conv seen and makes it the open conversation.
// An empty peer means the peer recorded in the directory entry.
func (s *Session) OpenConversation(ctx context.Context, conv chat.ConversationID, peer chat.UserID) (chat.ViewState, error) {
	return call(s, ctx, "open", func(ctx context.Context) (chat.ViewState, error) {
		return s.open(ctx, conv, peer)
	})
}

func (s *Session) open(ctx context.Context, conv chat.ConversationID, peer chat.UserID) (chat.ViewState, error) {
	self, err := s.requireSelf()
	if err != nil {
		return chat.ViewState{}, err
	}
	entry, err := s.backend.Entry(ctx, self.ID, conv)
	if err != nil {
		return chat.ViewState{}, err
	}
	if entry == nil {
		return chat.ViewState{}, chat.NotFound("conversation %q not found", conv)
	}
	if peer == "" {
		peer = entry.PeerID
	}
	if peer != entry.PeerID {
		return chat.ViewState{}, chat.NotFound("user %q is not in conversation %q", peer, conv)
	}
	profile, err := s.backend.Profile(ctx, peer)
	if err != nil {
		return chat.ViewState{}, err
	}
	if profile == nil {
		return chat.ViewState{}, chat.NotFound("user %q not found", peer)
	}
	selfBlockedPeer, peerBlockedSelf, err := s.blockFlags(ctx, self.ID, peer)
	if err != nil {
		return chat.ViewState{}, err
	}

	if _, err := s.backend.MarkSeen(ctx, self.ID, conv); err != nil {
		if !errors.Is(err, chat.ErrConflict) {
			return chat.ViewState{}, err
		}
		s.logger.Warn("conversation opened without marking it seen",
			zap.String("conversation", string(conv)), zap.Error(err))
	}

	s.resetView()
	s.peerID = peer
	s.view = chat.ViewState{
		ConversationID:  conv,
		SelfBlockedPeer: selfBlockedPeer,
		PeerBlockedSelf: peerBlockedSelf,
	}
	s.applyPeer(profile)
	s.convSub = s.feed.Subscribe(feed.Filter{
		Kinds: []string{feed.KindMessageAppended},
		Keys:  []string{string(conv)},
	}, feedBuffer)
	s.transition(status.Open)
	s.emitView()
	s.backfill(ctx)

	s.logger.Debug("conversation opened",
		zap.String("conversation", string(conv)),
		zap.Bool("self_blocked_peer", selfBlockedPeer),
		zap.Bool("peer_blocked_self", peerBlockedSelf))
	return s.viewCopy(), nil
}

// CloseConversation returns to Idle. Closing with nothing open is a no-op.
func (s *Session) CloseConversation(ctx context.Context) error {
	return s.do(ctx, "close", func(ctx context.Context) error {
		if _, err := s.requireSelf(); err != nil {
			return err
		}
		if !s.view.Open() {
			return nil
		}
		s.resetView()
		s.transition(status.Idle)
		s.emitView()
		return nil
	})
}

// ToggleBlock blocks the open conversation's peer, or unblocks it when
// already blocked. The conversation stays open.
func (s *Session) ToggleBlock(ctx context.Context) (chat.ViewState, error) {
	return call(s, ctx, "toggle_block", func(ctx context.Context) (chat.ViewState, error) {
		self, err := s.requireSelf()
		if err != nil {
			return chat.ViewState{}, err
		}
		if !s.view.Open() {
			return chat.ViewState{}, errNoConversation
		}
		if err := s.backend.SetBlocked(ctx, self.ID, s.peerID, !s.view.PeerBlockedSelf); err != nil {
			return chat.ViewState{}, err
		}
		return s.refreshFlags(ctx)
	})
}

// Messages reads the open conversation's log after afterSeq.
func (s *Session) Messages(ctx context.Context, afterSeq int64, limit int) ([]chat.Message, error) {
	return call(s, ctx, "messages", func(ctx context.Context) ([]chat.Message, error) {
		if _, err := s.requireSelf(); err != nil {
			return nil, err
		}
		if !s.view.Open() {
			return nil, errNoConversation
		}
		return s.backend.Messages(ctx, s.view.ConversationID, afterSeq, limit)
	})
}

// NewConversation starts a conversation with peer.
func (s *Session) NewConversation(ctx context.Context, peer chat.UserID) (*chat.Conversation, error) {
	return call(s, ctx, "new_conversation", func(ctx context.Context) (*chat.Conversation, error) {
		self, err := s.requireSelf()
		if err != nil {
			return nil, err
		}
		conv, err := s.backend.CreateConversation(ctx, self.ID, peer)
		if err != nil {
			return nil, err
		}
		s.recomputeList(ctx, "conversation")
		return conv, nil
	})
}

// SearchUsers looks a user up by exact username.
func (s *Session) SearchUsers(ctx context.Context, username string) (*chat.Profile, error) {
	return call(s, ctx, "search_users", func(ctx context.Context) (*chat.Profile, error) {
		if _, err := s.requireSelf(); err != nil {
			return nil, err
		}
		return s.backend.FindUser(ctx, username)
	})
}

// blockFlags reads both directions of the pair. selfBlockedPeer is set
// when peer has blocked self, peerBlockedSelf when self has blocked peer.
func (s *Session) blockFlags(ctx context.Context, self, peer chat.UserID) (selfBlockedPeer, peerBlockedSelf bool, err error) {
	if selfBlockedPeer, err = s.backend.IsBlocked(ctx, peer, self); err != nil {
		return false, false, err
	}
	if peerBlockedSelf, err = s.backend.IsBlocked(ctx, self, peer); err != nil {
		return false, false, err
	}
	return selfBlockedPeer, peerBlockedSelf, nil
}

// refreshFlags rereads both block flags and the peer profile of the open
// conversation.
func (s *Session) refreshFlags(ctx context.Context) (chat.ViewState, error) {
	selfBlockedPeer, peerBlockedSelf, err := s.blockFlags(ctx, s.self.ID, s.peerID)
	if err != nil {
		return chat.ViewState{}, err
	}
	var profile *chat.Profile
	if !selfBlockedPeer {
		if profile, err = s.backend.Profile(ctx, s.peerID); err != nil {
			return chat.ViewState{}, err
		}
	}
	changed := s.view.SelfBlockedPeer != selfBlockedPeer || s.view.PeerBlockedSelf != peerBlockedSelf ||
		!sameProfile(s.view.Peer, profile)
	s.view.SelfBlockedPeer = selfBlockedPeer
	s.view.PeerBlockedSelf = peerBlockedSelf
	s.applyPeer(profile)
	if changed {
		metrics.RecomputesTotal.WithLabelValues("view").Inc()
		s.emitView()
	}
	return s.viewCopy(), nil
}

// applyPeer sets the visible peer and CanSend from the current flags.
func (s *Session) applyPeer(p *chat.Profile) {
	if s.view.SelfBlockedPeer || p == nil {
		s.view.Peer = nil
	} else {
		cp := *p
		s.view.Peer = &cp
	}
	s.view.CanSend = !s.view.SelfBlockedPeer && !s.view.PeerBlockedSelf
}

func sameProfile(a, b *chat.Profile) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Session) viewCopy() chat.ViewState {
	v := s.view
	if v.Peer != nil {
		p := *v.Peer
		v.Peer = &p
	}
	return v
}

// resetView closes the open conversation. Bumping the token makes any
// in-flight send result stale.
func (s *Session) resetView() {
	s.token++
	s.convSub.Cancel()
	s.convSub = nil
	s.view = chat.ViewState{}
	s.peerID = ""
	s.messages = nil
	s.lastSeq = 0
	s.clearDraft()
}

// backfill applies every message after the last applied seq. Reading by
// seq keeps the applied log ordered whatever order notifications arrive in.
func (s *Session) backfill(ctx context.Context) {
	conv := s.view.ConversationID
	var fresh []chat.Message
	for {
		page, err := s.backend.Messages(ctx, conv, s.lastSeq, backfillPage)
		if err != nil {
			s.logger.Warn("backfill failed", zap.String("conversation", string(conv)), zap.Error(err))
			break
		}
		fresh = append(fresh, page...)
		if len(page) > 0 {
			s.lastSeq = page[len(page)-1].Seq
		}
		if len(page) < backfillPage {
			break
		}
	}
	if len(fresh) == 0 {
		return
	}
	s.messages = append(s.messages, fresh...)
	if over := len(s.messages) - maxHeldMessages; over > 0 {
		s.messages = append([]chat.Message(nil), s.messages[over:]...)
	}
	metrics.RecomputesTotal.WithLabelValues("messages").Inc()
	s.emit(Update{Kind: UpdateMessages, Messages: fresh})
}
