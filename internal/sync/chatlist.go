package sync

import (
	"context"
	"slices"
	"strings"

	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// peerLookups bounds concurrent profile and block reads per recompute.
const peerLookups = 8

// ChatList recomputes the chat list with filter, remembers the filter for
// later pushes, and returns the result.
func (s *Session) ChatList(ctx context.Context, filter string) ([]chat.ChatListItem, error) {
	return call(s, ctx, "chat_list", func(ctx context.Context) ([]chat.ChatListItem, error) {
		if _, err := s.requireSelf(); err != nil {
			return nil, err
		}
		s.filter = strings.TrimSpace(filter)
		metrics.RecomputesTotal.WithLabelValues("filter").Inc()
		items, err := s.buildChatList(ctx)
		if err != nil {
			return nil, err
		}
		s.list = items
		s.emit(Update{Kind: UpdateChatList, ChatList: items})
		return append([]chat.ChatListItem(nil), items...), nil
	})
}

func (s *Session) recomputeList(ctx context.Context, trigger string) {
	metrics.RecomputesTotal.WithLabelValues(trigger).Inc()
	items, err := s.buildChatList(ctx)
	if err != nil {
		s.logger.Warn("chat list recompute failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	s.list = items
	s.emit(Update{Kind: UpdateChatList, ChatList: items})
}

type listRow struct {
	item chat.ChatListItem
	// name is the peer's real username, used for filtering even when the
	// item is redacted.
	name string
}

// buildChatList resolves every directory entry of the current user.
// Profiles and block state are read fresh for each recompute.
func (s *Session) buildChatList(ctx context.Context) ([]chat.ChatListItem, error) {
	self := s.self.ID
	entries, err := s.backend.Directory(ctx, self)
	if err != nil {
		return nil, err
	}

	rows := make([]listRow, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(peerLookups)
	for i, e := range entries {
		g.Go(func() error {
			p, err := s.backend.Profile(gctx, e.PeerID)
			if err != nil {
				return err
			}
			blockedMe, err := s.backend.IsBlocked(gctx, e.PeerID, self)
			if err != nil {
				return err
			}
			rows[i] = resolveRow(e, p, blockedMe)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return arrange(rows, s.filter), nil
}

func resolveRow(e chat.DirectoryEntry, p *chat.Profile, blockedMe bool) listRow {
	row := listRow{item: chat.ChatListItem{Entry: e}}
	if p != nil {
		row.name = p.Username
		row.item.PeerName = p.Username
		row.item.PeerAvatar = p.Avatar
	}
	if blockedMe {
		row.item.PeerName = chat.RedactedName
		row.item.PeerAvatar = ""
		row.item.Redacted = true
	}
	return row
}

// arrange sorts rows newest first, keeping the input order for equal
// timestamps, then keeps the rows whose name contains filter, ignoring case.
func arrange(rows []listRow, filter string) []chat.ChatListItem {
	slices.SortStableFunc(rows, func(a, b listRow) int {
		return b.item.Entry.UpdatedAt.Compare(a.item.Entry.UpdatedAt)
	})
	needle := strings.ToLower(filter)
	out := make([]chat.ChatListItem, 0, len(rows))
	for _, r := range rows {
		if needle == "" || strings.Contains(strings.ToLower(r.name), needle) {
			out = append(out, r.item)
		}
	}
	return out
}
