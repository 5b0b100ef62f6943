package sync

import (
	"context"
	"errors"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/blob"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/feed"
	"github.com/matheus3301/huddle/internal/identity"
	"github.com/matheus3301/huddle/internal/messaging"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/store"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type env struct {
	db   *store.DB
	feed *feed.Feed
	svc  *messaging.Service
	reg  *identity.Registry

	mu    gosync.Mutex
	clock time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	e := &env{db: db, feed: feed.New(bus.New()), clock: time.UnixMilli(1_700_000_000_000)}
	e.svc = messaging.NewService(db, e.feed, nil, messaging.Options{Now: e.tick})
	e.reg = identity.NewRegistry(db, e.feed, nil)
	return e
}

// tick advances a fake clock so every write gets a distinct timestamp.
func (e *env) tick() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = e.clock.Add(time.Second)
	return e.clock
}

func (e *env) user(t *testing.T, username string) *chat.Profile {
	t.Helper()
	p, err := e.reg.SignUp(context.Background(), username, "")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (e *env) conversation(t *testing.T, a, b *chat.Profile) chat.ConversationID {
	t.Helper()
	c, err := e.svc.CreateConversation(context.Background(), a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	return c.ID
}

func (e *env) session(t *testing.T, p *chat.Profile, blobs blob.Uploader) *Session {
	t.Helper()
	auth := identity.NewLocal(e.reg)
	if p != nil {
		if _, err := auth.SignIn(context.Background(), p.Username); err != nil {
			t.Fatal(err)
		}
	}
	if blobs == nil {
		blobs = blob.NewLocal(t.TempDir(), "", 0, nil)
	}
	s := New(Options{
		ID:      "session-" + string(chat.NewUserID()),
		Backend: e.svc,
		Auth:    auth,
		Blobs:   blobs,
		Feed:    e.feed,
	})
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func eventually(t *testing.T, s *Session, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s; last snapshot %+v", what, snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func names(items []chat.ChatListItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.PeerName
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestArrangeFilterKeepsOrder(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	rows := []listRow{
		{item: chat.ChatListItem{PeerName: "bob", Entry: chat.DirectoryEntry{UpdatedAt: base.Add(2 * time.Second)}}, name: "bob"},
		{item: chat.ChatListItem{PeerName: "ALICEA", Entry: chat.DirectoryEntry{UpdatedAt: base.Add(1 * time.Second)}}, name: "ALICEA"},
		{item: chat.ChatListItem{PeerName: "Alice", Entry: chat.DirectoryEntry{UpdatedAt: base.Add(3 * time.Second)}}, name: "Alice"},
	}

	tests := []struct {
		filter string
		want   []string
	}{
		{"", []string{"Alice", "bob", "ALICEA"}},
		{"ali", []string{"Alice", "ALICEA"}},
		{"BOB", []string{"bob"}},
		{"zed", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			in := append([]listRow(nil), rows...)
			if got := names(arrange(in, tt.filter)); !equalStrings(got, tt.want) {
				t.Errorf("arrange(%q) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestArrangeStableOnTies(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	rows := []listRow{
		{item: chat.ChatListItem{PeerName: "x", Entry: chat.DirectoryEntry{UpdatedAt: at}}, name: "x"},
		{item: chat.ChatListItem{PeerName: "y", Entry: chat.DirectoryEntry{UpdatedAt: at}}, name: "y"},
	}
	if got := names(arrange(rows, "")); !equalStrings(got, []string{"x", "y"}) {
		t.Errorf("tie order = %v, want [x y]", got)
	}
}

func TestChatListFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	viewer := e.user(t, "viewer")
	// Created oldest first so the directory order is Alice, bob, ALICEA.
	for _, name := range []string{"ALICEA", "bob", "Alice"} {
		e.conversation(t, viewer, e.user(t, name))
	}

	s := e.session(t, viewer, nil)
	all, err := s.ChatList(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := names(all); !equalStrings(got, []string{"Alice", "bob", "ALICEA"}) {
		t.Fatalf("chat list = %v", got)
	}

	filtered, err := s.ChatList(ctx, "ali")
	if err != nil {
		t.Fatal(err)
	}
	if got := names(filtered); !equalStrings(got, []string{"Alice", "ALICEA"}) {
		t.Errorf("filtered = %v, want [Alice ALICEA]", got)
	}

	snap, _ := s.Snapshot(ctx)
	if snap.Filter != "ali" {
		t.Errorf("filter not remembered: %q", snap.Filter)
	}
}

func TestChatListUnauthenticated(t *testing.T) {
	e := newEnv(t)
	s := e.session(t, nil, nil)
	if _, err := s.ChatList(context.Background(), ""); !errors.Is(err, chat.ErrUnauthenticated) {
		t.Errorf("error = %v, want Unauthenticated", err)
	}
	if s.State() != status.SignedOut {
		t.Errorf("state = %s, want SIGNED_OUT", s.State())
	}
}

func TestBlockIsVisibleFromBothSides(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	conv := e.conversation(t, a, b)
	if err := e.svc.Block(ctx, a.ID, b.ID); err != nil {
		t.Fatal(err)
	}

	sa := e.session(t, a, nil)
	sb := e.session(t, b, nil)

	// B was blocked by A: A is withheld from B.
	vb, err := sb.OpenConversation(ctx, conv, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !vb.SelfBlockedPeer || vb.PeerBlockedSelf {
		t.Errorf("b's flags = %+v", vb)
	}
	if vb.Peer != nil || vb.CanSend {
		t.Errorf("b's view exposes the peer or allows sending: %+v", vb)
	}
	listB, _ := sb.ChatList(ctx, "")
	if len(listB) != 1 || listB[0].PeerName != chat.RedactedName || listB[0].PeerAvatar != "" || !listB[0].Redacted {
		t.Errorf("b's list = %+v, want redacted item", listB)
	}

	// A blocked B: B stays visible, sending is off.
	va, err := sa.OpenConversation(ctx, conv, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if va.SelfBlockedPeer || !va.PeerBlockedSelf {
		t.Errorf("a's flags = %+v", va)
	}
	if va.Peer == nil || va.Peer.Username != "bob" || va.CanSend {
		t.Errorf("a's view = %+v", va)
	}
	listA, _ := sa.ChatList(ctx, "")
	if len(listA) != 1 || listA[0].PeerName != "bob" || listA[0].Redacted {
		t.Errorf("a's list = %+v", listA)
	}

	for name, s := range map[string]*Session{"a": sa, "b": sb} {
		if err := s.SetDraft(ctx, "hello"); !errors.Is(err, chat.ErrBlocked) {
			t.Errorf("%s: SetDraft error = %v, want Blocked", name, err)
		}
		if err := s.AttachImage(ctx, "cat.png", pngData); !errors.Is(err, chat.ErrBlocked) {
			t.Errorf("%s: AttachImage error = %v, want Blocked", name, err)
		}
		if err := s.ClearImage(ctx); err != nil {
			t.Errorf("%s: ClearImage error = %v", name, err)
		}
		if _, err := s.Send(ctx); !errors.Is(err, chat.ErrBlocked) {
			t.Errorf("%s: Send error = %v, want Blocked", name, err)
		}
	}
	if log, _ := e.svc.Messages(ctx, conv, 0, 0); len(log) != 0 {
		t.Errorf("%d messages persisted through a block", len(log))
	}
}

func TestToggleBlockPropagates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	conv := e.conversation(t, a, b)

	sa := e.session(t, a, nil)
	sb := e.session(t, b, nil)
	if _, err := sa.OpenConversation(ctx, conv, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := sb.OpenConversation(ctx, conv, ""); err != nil {
		t.Fatal(err)
	}

	v, err := sa.ToggleBlock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !v.PeerBlockedSelf || v.CanSend || v.Peer == nil {
		t.Errorf("after block a's view = %+v", v)
	}
	eventually(t, sb, "b to see the block", func(s Snapshot) bool {
		return s.View.SelfBlockedPeer && s.View.Peer == nil && !s.View.CanSend
	})

	v, err = sa.ToggleBlock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.PeerBlockedSelf || !v.CanSend {
		t.Errorf("after unblock a's view = %+v", v)
	}
	snap := eventually(t, sb, "b to see the unblock", func(s Snapshot) bool {
		return !s.View.SelfBlockedPeer && s.View.Peer != nil
	})
	if snap.View.ConversationID != conv {
		t.Error("toggling the block closed b's conversation")
	}
	if err := sb.SetDraft(ctx, "back"); err != nil {
		t.Errorf("SetDraft after unblock error = %v", err)
	}
}

func TestDraftKeptAcrossBlock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	conv := e.conversation(t, a, b)

	sb := e.session(t, b, nil)
	if _, err := sb.OpenConversation(ctx, conv, ""); err != nil {
		t.Fatal(err)
	}
	if err := sb.SetDraft(ctx, "half written"); err != nil {
		t.Fatal(err)
	}
	if err := e.svc.Block(ctx, a.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if err := sb.SetDraft(ctx, "more"); !errors.Is(err, chat.ErrBlocked) {
		t.Fatalf("SetDraft while blocked error = %v, want Blocked", err)
	}
	snap, err := sb.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Draft.Text != "half written" {
		t.Errorf("draft = %q, want the text written before the block", snap.Draft.Text)
	}
}

func TestSendAndReceive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	conv := e.conversation(t, a, b)

	sa := e.session(t, a, nil)
	sb := e.session(t, b, nil)

	if _, err := sa.OpenConversation(ctx, conv, b.ID); err != nil {
		t.Fatal(err)
	}
	if err := sa.SetDraft(ctx, "  hi bob "); err != nil {
		t.Fatal(err)
	}
	msg, err := sa.Send(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text != "hi bob" || msg.SenderID != a.ID {
		t.Errorf("message = %+v", msg)
	}

	snapA, _ := sa.Snapshot(ctx)
	if snapA.Draft.Text != "" {
		t.Errorf("draft not cleared: %q", snapA.Draft.Text)
	}
	if len(snapA.Messages) != 1 || snapA.Messages[0].ID != msg.ID {
		t.Errorf("a's messages = %+v", snapA.Messages)
	}

	snapB := eventually(t, sb, "b's list to show the message", func(s Snapshot) bool {
		return len(s.ChatList) == 1 && s.ChatList[0].Entry.LastMessagePreview == "hi bob"
	})
	if snapB.ChatList[0].Entry.IsSeen {
		t.Error("b's entry should be unseen")
	}

	if _, err := sb.OpenConversation(ctx, conv, ""); err != nil {
		t.Fatal(err)
	}
	snapB = eventually(t, sb, "b's entry to be seen", func(s Snapshot) bool {
		return len(s.ChatList) == 1 && s.ChatList[0].Entry.IsSeen
	})
	if len(snapB.Messages) != 1 {
		t.Errorf("b's messages = %+v", snapB.Messages)
	}

	// B replies; A receives it through the open conversation.
	if err := sb.SetDraft(ctx, "hi alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := sb.Send(ctx); err != nil {
		t.Fatal(err)
	}
	snapA = eventually(t, sa, "a to receive the reply", func(s Snapshot) bool { return len(s.Messages) == 2 })
	if snapA.Messages[0].Seq >= snapA.Messages[1].Seq {
		t.Errorf("messages out of order: %+v", snapA.Messages)
	}

	tail, err := sa.Messages(ctx, snapA.Messages[0].Seq, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].Text != "hi alice" {
		t.Errorf("Messages(after first) = %+v", tail)
	}
}

func TestSendGates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	conv := e.conversation(t, a, b)

	anon := e.session(t, nil, nil)
	if _, err := anon.Send(ctx); !errors.Is(err, chat.ErrUnauthenticated) {
		t.Errorf("signed out Send error = %v, want Unauthenticated", err)
	}

	s := e.session(t, a, nil)
	if _, err := s.Send(ctx); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("no conversation Send error = %v, want NotFound", err)
	}
	if err := s.SetDraft(ctx, "x"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("no conversation SetDraft error = %v, want NotFound", err)
	}
	if _, err := s.OpenConversation(ctx, "missing", ""); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want NotFound", err)
	}

	if _, err := s.OpenConversation(ctx, conv, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDraft(ctx, "   "); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Send(ctx); !errors.Is(err, chat.ErrInvalidMessage) {
		t.Errorf("blank Send error = %v, want InvalidMessage", err)
	}

	// An image alone is a valid message.
	if err := s.AttachImage(ctx, "cat.png", pngData); err != nil {
		t.Fatal(err)
	}
	msg, err := s.Send(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.HasImage() {
		t.Error("sent message has no image ref")
	}
	entry, _ := e.svc.Entry(ctx, b.ID, conv)
	if entry.LastMessagePreview != chat.ImagePreview {
		t.Errorf("preview = %q, want %q", entry.LastMessagePreview, chat.ImagePreview)
	}
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func TestDraftKeptOnUploadFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	conv := e.conversation(t, a, b)

	s := e.session(t, a, failingUploader{})
	if _, err := s.OpenConversation(ctx, conv, ""); err != nil {
		t.Fatal(err)
	}
	_ = s.SetDraft(ctx, "caption")
	_ = s.AttachImage(ctx, "cat.png", pngData)

	if _, err := s.Send(ctx); !errors.Is(err, chat.ErrUploadFailed) {
		t.Fatalf("Send error = %v, want UploadFailed", err)
	}
	snap, _ := s.Snapshot(ctx)
	if snap.Draft.Text != "caption" || snap.Draft.ImageName != "cat.png" {
		t.Errorf("draft = %+v, want it kept", snap.Draft)
	}
	if log, _ := e.svc.Messages(ctx, conv, 0, 0); len(log) != 0 {
		t.Errorf("%d messages persisted after a failed upload", len(log))
	}

	if err := s.ClearImage(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Send(ctx); err != nil {
		t.Fatalf("text-only Send error = %v", err)
	}
}

// gateUploader blocks every upload until release is closed.
type gateUploader struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateUploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return "images/" + name, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestStaleSendResultDiscarded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	c := e.user(t, "carol")
	first := e.conversation(t, a, b)
	second := e.conversation(t, a, c)

	gate := &gateUploader{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := e.session(t, a, gate)
	if _, err := s.OpenConversation(ctx, first, ""); err != nil {
		t.Fatal(err)
	}
	_ = s.SetDraft(ctx, "for bob")
	_ = s.AttachImage(ctx, "cat.png", pngData)

	type sent struct {
		msg *chat.Message
		err error
	}
	done := make(chan sent, 1)
	go func() {
		m, err := s.Send(ctx)
		done <- sent{m, err}
	}()

	<-gate.entered
	if _, err := s.OpenConversation(ctx, second, ""); err != nil {
		t.Fatal(err)
	}
	close(gate.release)

	r := <-done
	if r.err != nil {
		t.Fatal(r.err)
	}

	snap, _ := s.Snapshot(ctx)
	if snap.View.ConversationID != second {
		t.Fatalf("open conversation = %q, want %q", snap.View.ConversationID, second)
	}
	for _, m := range snap.Messages {
		if m.ID == r.msg.ID {
			t.Error("stale send applied to the new conversation")
		}
	}
	if snap.Draft.Text != "" {
		t.Errorf("draft of the new conversation = %q", snap.Draft.Text)
	}

	log, _ := e.svc.Messages(ctx, first, 0, 0)
	if len(log) != 1 || log[0].ID != r.msg.ID {
		t.Errorf("first conversation log = %+v, want the sent message", log)
	}
}

func TestSignOutResetsView(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	conv := e.conversation(t, a, b)

	auth := identity.NewLocal(e.reg)
	if _, err := auth.SignIn(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	s := New(Options{ID: "s1", Backend: e.svc, Auth: auth, Feed: e.feed})
	s.Start(ctx)
	defer s.Stop()

	if _, err := s.OpenConversation(ctx, conv, ""); err != nil {
		t.Fatal(err)
	}
	if s.State() != status.Open {
		t.Fatalf("state = %s, want OPEN", s.State())
	}

	auth.SignOut()
	snap := eventually(t, s, "sign out", func(s Snapshot) bool { return s.State == status.SignedOut })
	if snap.View.Open() || snap.Self != nil || len(snap.ChatList) != 0 {
		t.Errorf("snapshot after sign out = %+v", snap)
	}
	if _, err := s.OpenConversation(ctx, conv, ""); !errors.Is(err, chat.ErrUnauthenticated) {
		t.Errorf("Open after sign out error = %v, want Unauthenticated", err)
	}

	if _, err := auth.SignIn(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	snap = eventually(t, s, "sign in as bob", func(s Snapshot) bool { return s.Self != nil && s.Self.ID == b.ID })
	if snap.State != status.Idle {
		t.Errorf("state = %s, want IDLE", snap.State)
	}
}

func TestCloseConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	conv := e.conversation(t, a, b)

	s := e.session(t, a, nil)
	if err := s.CloseConversation(ctx); err != nil {
		t.Errorf("close with nothing open error = %v", err)
	}
	if _, err := s.OpenConversation(ctx, conv, ""); err != nil {
		t.Fatal(err)
	}
	_ = s.SetDraft(ctx, "unsent")
	if err := s.CloseConversation(ctx); err != nil {
		t.Fatal(err)
	}
	snap, _ := s.Snapshot(ctx)
	if snap.State != status.Idle || snap.View.Open() || snap.Draft.Text != "" || len(snap.Messages) != 0 {
		t.Errorf("snapshot after close = %+v", snap)
	}
	if _, err := s.ToggleBlock(ctx); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("ToggleBlock with nothing open error = %v, want NotFound", err)
	}
}

func TestNewConversationAndSearch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "alice")
	e.user(t, "bob")

	s := e.session(t, a, nil)
	p, err := s.SearchUsers(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SearchUsers(ctx, "nobody"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("search error = %v, want NotFound", err)
	}
	if _, err := s.NewConversation(ctx, a.ID); !errors.Is(err, chat.ErrInvalidArgument) {
		t.Errorf("self conversation error = %v, want InvalidArgument", err)
	}

	conv, err := s.NewConversation(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	snap, _ := s.Snapshot(ctx)
	if len(snap.ChatList) != 1 || snap.ChatList[0].Entry.ConversationID != conv.ID {
		t.Errorf("chat list = %+v", snap.ChatList)
	}
	if snap.ChatList[0].Entry.LastMessagePreview != "" {
		t.Error("new conversation should have an empty preview")
	}
}

func TestUpdatesStream(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := e.user(t, "alice")
	b := e.user(t, "bob")
	conv := e.conversation(t, a, b)

	s := e.session(t, a, nil)
	// Round trip through the loop so the session is signed in.
	if _, err := s.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}
	updates := s.Updates(ctx, 64)

	if _, err := e.svc.Append(ctx, conv, b.ID, "ping", ""); err != nil {
		t.Fatal(err)
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Kind == UpdateChatList && len(u.ChatList) == 1 && u.ChatList[0].Entry.LastMessagePreview == "ping" {
				if u.SessionID != s.ID() {
					t.Errorf("session id = %q", u.SessionID)
				}
				return
			}
		case <-timeout:
			t.Fatal("no chat list update with the new message")
		}
	}
}

func TestStoppedSessionRejectsIntents(t *testing.T) {
	e := newEnv(t)
	s := e.session(t, e.user(t, "alice"), nil)
	s.Stop()
	if _, err := s.ChatList(context.Background(), ""); !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
}
