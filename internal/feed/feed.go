// Package feed is the change-feed of huddle: typed notifications about
// committed mutations, delivered over the in-process bus to cancellable
// subscriptions.
package feed

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
)

// Change kinds. Each is also a bus namespace.
const (
	KindMessageAppended     = "message.appended"
	KindDirectoryUpdated    = "directory.updated"
	KindBlockChanged        = "block.changed"
	KindProfileChanged      = "profile.changed"
	KindConversationCreated = "conversation.created"
)

// BlockChange describes a transition of one (blocker, blocked) pair.
type BlockChange struct {
	Blocker chat.UserID `json:"blocker"`
	Blocked chat.UserID `json:"blocked"`
	Active  bool        `json:"active"`
}

// Change is one committed mutation. Exactly one payload field is set,
// matching Kind.
type Change struct {
	Kind string    `json:"kind"`
	Key  string    `json:"key"`
	At   time.Time `json:"at"`

	Message      *chat.Message        `json:"message,omitempty"`
	Entry        *chat.DirectoryEntry `json:"entry,omitempty"`
	Block        *BlockChange         `json:"block,omitempty"`
	Profile      *chat.Profile        `json:"profile,omitempty"`
	Conversation *chat.Conversation   `json:"conversation,omitempty"`
}

// Involves reports whether the change concerns key. Block changes concern
// both sides of the pair.
func (c Change) Involves(key string) bool {
	if c.Key == key {
		return true
	}
	if c.Block != nil {
		return string(c.Block.Blocker) == key || string(c.Block.Blocked) == key
	}
	return false
}

// Feed publishes changes to the bus.
type Feed struct {
	bus *bus.Bus
	now func() time.Time
}

// New creates a feed over b.
func New(b *bus.Bus) *Feed {
	return &Feed{bus: b, now: time.Now}
}

func (f *Feed) publish(c Change) {
	if c.At.IsZero() {
		c.At = f.now()
	}
	f.bus.Publish(bus.Event{Kind: c.Kind, Key: c.Key, Timestamp: c.At, Payload: c})
}

// MessageAppended announces a message committed to conversation m.ConversationID.
func (f *Feed) MessageAppended(m chat.Message) {
	f.publish(Change{Kind: KindMessageAppended, Key: string(m.ConversationID), Message: &m})
}

// DirectoryUpdated announces a new version of the owner's entry.
func (f *Feed) DirectoryUpdated(e chat.DirectoryEntry) {
	f.publish(Change{Kind: KindDirectoryUpdated, Key: string(e.OwnerID), Entry: &e})
}

// BlockChanged announces a block or unblock.
func (f *Feed) BlockChanged(bc BlockChange) {
	f.publish(Change{Kind: KindBlockChanged, Key: string(bc.Blocker), Block: &bc})
}

// ProfileChanged announces a profile update.
func (f *Feed) ProfileChanged(p chat.Profile) {
	f.publish(Change{Kind: KindProfileChanged, Key: string(p.ID), Profile: &p})
}

// ConversationCreated announces a new conversation.
func (f *Feed) ConversationCreated(c chat.Conversation) {
	f.publish(Change{Kind: KindConversationCreated, Key: string(c.ID), Conversation: &c})
}

// Filter selects changes for a subscription. Empty fields match anything.
type Filter struct {
	// Kinds are kind prefixes, e.g. "message." or KindBlockChanged.
	Kinds []string
	// Keys are matched with Change.Involves.
	Keys []string
}

func (f Filter) match(c Change) bool {
	if len(f.Kinds) > 0 && !slices.ContainsFunc(f.Kinds, func(k string) bool { return strings.HasPrefix(c.Kind, k) }) {
		return false
	}
	if len(f.Keys) > 0 && !slices.ContainsFunc(f.Keys, c.Involves) {
		return false
	}
	return true
}

// Subscription is a cancellable, lazily consumed stream of changes.
type Subscription struct {
	out    chan Change
	done   chan struct{}
	unsubs []func()
	once   sync.Once
	closed chan struct{}
}

// Subscribe starts a subscription. Each kind gets its own bus subscription
// so unrelated traffic never fills the buffer; bufSize bounds each one.
func (f *Feed) Subscribe(filter Filter, bufSize int) *Subscription {
	s := &Subscription{
		out:    make(chan Change),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	merged := make(chan bus.Event)
	var wg sync.WaitGroup
	for _, ns := range namespaces(filter.Kinds) {
		in, unsub := f.bus.Subscribe(ns, bufSize)
		s.unsubs = append(s.unsubs, unsub)
		wg.Add(1)
		go s.forward(in, merged, &wg)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()
	go s.pump(merged, filter)
	return s
}

// namespaces returns the bus namespaces covering kinds, dropping kinds
// another kind is a prefix of. No kinds means everything.
func namespaces(kinds []string) []string {
	if len(kinds) == 0 {
		return []string{""}
	}
	sorted := slices.Sorted(slices.Values(kinds))
	var out []string
	for _, k := range sorted {
		if len(out) > 0 && strings.HasPrefix(k, out[len(out)-1]) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func (s *Subscription) forward(in <-chan bus.Event, merged chan<- bus.Event, wg *sync.WaitGroup) {
	defer wg.Done()
	for evt := range in {
		select {
		case merged <- evt:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) pump(in <-chan bus.Event, filter Filter) {
	defer close(s.closed)
	defer close(s.out)
	for {
		select {
		case evt, ok := <-in:
			if !ok {
				return
			}
			c, ok := evt.Payload.(Change)
			if !ok || !filter.match(c) {
				continue
			}
			select {
			case s.out <- c:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// Events returns the change stream. It is closed after Cancel.
func (s *Subscription) Events() <-chan Change {
	return s.out
}

// Cancel ends the subscription and waits for the stream to close. Safe to
// call more than once and on a nil subscription.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		for _, unsub := range s.unsubs {
			unsub()
		}
	})
	<-s.closed
}
