package sync

import (
	"context"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/status"
)

// UpdateKind names what an Update carries.
type UpdateKind string

const (
	UpdateState    UpdateKind = "state"
	UpdateChatList UpdateKind = "chat_list"
	UpdateView     UpdateKind = "view"
	UpdateMessages UpdateKind = "messages"
)

// Update is pushed to watchers after every recomputation. Messages holds
// only the messages applied since the previous Messages update.
type Update struct {
	Kind      UpdateKind          `json:"kind"`
	SessionID string              `json:"session_id"`
	State     status.State        `json:"state"`
	ChatList  []chat.ChatListItem `json:"chat_list,omitempty"`
	View      *chat.ViewState     `json:"view,omitempty"`
	Messages  []chat.Message      `json:"messages,omitempty"`
}

func (s *Session) emit(u Update) {
	u.SessionID = s.id
	u.State = s.machine.Current()
	s.updates.Publish(bus.Event{
		Kind:      updateKindPrefix + string(u.Kind),
		Key:       s.id,
		Timestamp: time.Now(),
		Payload:   u,
	})
}

func (s *Session) emitView() {
	v := s.view
	if v.Peer != nil {
		p := *v.Peer
		v.Peer = &p
	}
	s.emit(Update{Kind: UpdateView, View: &v})
}

// Updates streams the session's updates until ctx ends or the session
// stops. Updates are dropped when the watcher falls bufSize behind;
// Snapshot and Messages recover the full state.
func (s *Session) Updates(ctx context.Context, bufSize int) <-chan Update {
	in, unsub := s.updates.Subscribe(updateKindPrefix, bufSize)
	out := make(chan Update)
	go func() {
		defer close(out)
		defer unsub()
		for {
			select {
			case evt, ok := <-in:
				if !ok {
					return
				}
				u, ok := evt.Payload.(Update)
				if !ok {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()
	return out
}
