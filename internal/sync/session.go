// Package sync is the chat synchronization engine. A Session serves one
// client: it turns intents and change-feed events into chat list, view
// state and message updates, one at a time, on a single goroutine.
package sync

import (
	"context"

	"github.com/matheus3301/huddle/internal/blob"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/feed"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/matheus3301/huddle/internal/status"
	"go.uber.org/zap"
)

// Backend is the shared data a session reads and writes.
// *messaging.Service implements it.
type Backend interface {
	Append(ctx context.Context, conv chat.ConversationID, sender chat.UserID, text, imageRef string) (*chat.Message, error)
	Messages(ctx context.Context, conv chat.ConversationID, afterSeq int64, limit int) ([]chat.Message, error)
	MarkSeen(ctx context.Context, owner chat.UserID, conv chat.ConversationID) (*chat.DirectoryEntry, error)
	Directory(ctx context.Context, owner chat.UserID) ([]chat.DirectoryEntry, error)
	Entry(ctx context.Context, owner chat.UserID, conv chat.ConversationID) (*chat.DirectoryEntry, error)
	Profile(ctx context.Context, id chat.UserID) (*chat.Profile, error)
	FindUser(ctx context.Context, username string) (*chat.Profile, error)
	CreateConversation(ctx context.Context, self, peer chat.UserID) (*chat.Conversation, error)
	IsBlocked(ctx context.Context, blocker, blocked chat.UserID) (bool, error)
	SetBlocked(ctx context.Context, blocker, blocked chat.UserID, active bool) error
}

// Auth is the signed-in state of the client. *identity.Local implements it.
type Auth interface {
	CurrentUserID() (chat.UserID, bool)
	FetchUserInfo(ctx context.Context, uid chat.UserID) (*chat.Profile, error)
	Changes() (<-chan struct{}, func())
}

// ErrClosed is returned for intents submitted to a stopped session.
var ErrClosed = chat.New(chat.CodeTransient, "session closed")

const (
	feedBuffer       = 256
	backfillPage     = 100
	maxHeldMessages  = 1000
	updateKindPrefix = "sync."
)

// Options configure a Session.
type Options struct {
	ID      string
	Backend Backend
	Auth    Auth
	Blobs   blob.Uploader
	Feed    *feed.Feed
	// Bus receives status transitions. Optional.
	Bus    *bus.Bus
	Logger *zap.Logger
}

// Draft is the message being composed.
type Draft struct {
	Text      string `json:"text"`
	ImageName string `json:"image_name,omitempty"`
	ImageSize int    `json:"image_size,omitempty"`

	image []byte
	rev   uint64
}

// Snapshot is a copy of the session's derived state.
type Snapshot struct {
	ID       string              `json:"id"`
	State    status.State        `json:"state"`
	Self     *chat.Profile       `json:"self,omitempty"`
	Filter   string              `json:"filter,omitempty"`
	ChatList []chat.ChatListItem `json:"chat_list"`
	View     chat.ViewState      `json:"view"`
	Messages []chat.Message      `json:"messages"`
	Draft    Draft               `json:"draft"`
}

// Session is the per-client engine. Fields below intents are owned by the
// loop goroutine.
type Session struct {
	id      string
	backend Backend
	auth    Auth
	blobs   blob.Uploader
	feed    *feed.Feed
	machine *status.Machine
	updates *bus.Bus
	logger  *zap.Logger

	intents chan func()
	done    chan struct{}
	cancel  context.CancelFunc

	self     *chat.Profile
	filter   string
	list     []chat.ChatListItem
	view     chat.ViewState
	peerID   chat.UserID
	token    uint64
	lastSeq  int64
	messages []chat.Message
	draft    Draft

	userSub *feed.Subscription
	convSub *feed.Subscription
}

// New creates a session. Call Start to run it.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:      opts.ID,
		backend: opts.Backend,
		auth:    opts.Auth,
		blobs:   opts.Blobs,
		feed:    opts.Feed,
		machine: status.NewMachine(opts.Bus, opts.ID),
		updates: bus.New(),
		logger:  logger.Named("sync").With(zap.String("session", opts.ID)),
		intents: make(chan func()),
		done:    make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() status.State { return s.machine.Current() }

// Start runs the session loop until ctx ends or Stop is called.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	authCh, unsub := s.auth.Changes()
	metrics.ActiveSessions.Inc()
	go s.run(ctx, authCh, unsub)
}

// Stop ends the loop and waits for it to exit.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run(ctx context.Context, authCh <-chan struct{}, unsub func()) {
	defer close(s.done)
	defer metrics.ActiveSessions.Dec()
	defer unsub()
	defer func() {
		s.convSub.Cancel()
		s.userSub.Cancel()
	}()

	s.syncAuth(ctx)
	s.logger.Info("session started", zap.String("state", string(s.machine.Current())))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopped")
			return
		case fn := <-s.intents:
			fn()
		case <-authCh:
			s.syncAuth(ctx)
		case c, ok := <-events(s.userSub):
			if !ok {
				s.userSub = nil
				continue
			}
			s.onUserChange(ctx, c)
		case c, ok := <-events(s.convSub):
			if !ok {
				s.convSub = nil
				continue
			}
			s.onConversationChange(ctx, c)
		}
	}
}

// events returns the stream of sub; nil blocks forever in a select.
func events(sub *feed.Subscription) <-chan feed.Change {
	if sub == nil {
		return nil
	}
	return sub.Events()
}

type result[T any] struct {
	v   T
	err error
}

// call runs fn on the loop and waits for its result. intent labels the
// metric; an empty intent is not counted.
func call[T any](s *Session, ctx context.Context, intent string, fn func(ctx context.Context) (T, error)) (T, error) {
	resc := make(chan result[T], 1)
	job := func() {
		s.syncAuth(ctx)
		v, err := fn(ctx)
		resc <- result[T]{v, err}
	}

	var zero T
	select {
	case s.intents <- job:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		return zero, ErrClosed
	}

	var r result[T]
	select {
	case r = <-resc:
	case <-ctx.Done():
		r.err = ctx.Err()
	case <-s.done:
		select {
		case r = <-resc:
		default:
			r.err = ErrClosed
		}
	}
	if intent != "" {
		metrics.IntentsTotal.WithLabelValues(intent, codeLabel(r.err)).Inc()
	}
	return r.v, r.err
}

func (s *Session) do(ctx context.Context, intent string, fn func(ctx context.Context) error) error {
	_, err := call(s, ctx, intent, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Snapshot returns a copy of the derived state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	return call(s, ctx, "", func(context.Context) (Snapshot, error) {
		snap := Snapshot{
			ID:       s.id,
			State:    s.machine.Current(),
			Filter:   s.filter,
			ChatList: append([]chat.ChatListItem(nil), s.list...),
			View:     s.view,
			Messages: append([]chat.Message(nil), s.messages...),
			Draft:    s.draft,
		}
		snap.Draft.image = nil
		if s.self != nil {
			p := *s.self
			snap.Self = &p
		}
		if s.view.Peer != nil {
			p := *s.view.Peer
			snap.View.Peer = &p
		}
		return snap, nil
	})
}

// syncAuth applies the auth state if it differs from what the session
// last saw. Sign-out and user switches reset the view.
func (s *Session) syncAuth(ctx context.Context) {
	uid, ok := s.auth.CurrentUserID()
	if ok && s.self != nil && s.self.ID == uid {
		return
	}
	if !ok && s.self == nil && s.machine.Current() == status.SignedOut {
		return
	}

	wasOpen := s.view.Open()
	s.resetView()
	s.userSub.Cancel()
	s.userSub = nil
	s.self = nil
	s.list = nil
	s.filter = ""

	if ok {
		p, err := s.auth.FetchUserInfo(ctx, uid)
		switch {
		case err != nil:
			s.logger.Error("fetch user info failed", zap.String("user", string(uid)), zap.Error(err))
		case p == nil:
			s.logger.Warn("signed-in user has no profile", zap.String("user", string(uid)))
		default:
			s.self = p
		}
	}
	if wasOpen {
		s.emitView()
	}

	if s.self == nil {
		s.transition(status.SignedOut)
		s.emit(Update{Kind: UpdateChatList})
		return
	}

	s.transition(status.Idle)
	s.userSub = s.feed.Subscribe(feed.Filter{
		Kinds: []string{feed.KindDirectoryUpdated, feed.KindBlockChanged, feed.KindProfileChanged},
	}, feedBuffer)
	s.logger.Info("signed in", zap.String("user", string(s.self.ID)), zap.String("username", s.self.Username))
	s.recomputeList(ctx, "auth")
}

func (s *Session) requireSelf() (*chat.Profile, error) {
	if s.self == nil {
		return nil, chat.ErrUnauthenticated
	}
	return s.self, nil
}

func (s *Session) transition(to status.State) {
	if err := s.machine.Transition(to); err != nil {
		s.logger.Error("state transition rejected", zap.Error(err))
		return
	}
	s.emit(Update{Kind: UpdateState})
}

func (s *Session) onUserChange(ctx context.Context, c feed.Change) {
	if s.self == nil {
		return
	}
	self := string(s.self.ID)

	switch c.Kind {
	case feed.KindDirectoryUpdated:
		if c.Key != self {
			return
		}
		s.recomputeList(ctx, "directory")
	case feed.KindBlockChanged:
		if !c.Involves(self) {
			return
		}
		s.recomputeList(ctx, "block")
		if s.view.Open() && c.Involves(string(s.peerID)) {
			if _, err := s.refreshFlags(ctx); err != nil {
				s.logger.Warn("refresh block flags failed", zap.Error(err))
			}
		}
	case feed.KindProfileChanged:
		if c.Profile == nil {
			return
		}
		if c.Profile.ID == s.self.ID {
			p := *c.Profile
			s.self = &p
		}
		s.recomputeList(ctx, "profile")
		if s.view.Open() && c.Profile.ID == s.peerID {
			if _, err := s.refreshFlags(ctx); err != nil {
				s.logger.Warn("refresh peer failed", zap.Error(err))
			}
		}
	}
}

func (s *Session) onConversationChange(ctx context.Context, c feed.Change) {
	if c.Message == nil || c.Message.ConversationID != s.view.ConversationID {
		return
	}
	s.backfill(ctx)
}

func codeLabel(err error) string {
	if err == nil {
		return "OK"
	}
	return string(chat.CodeOf(err))
}
