package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/huddle/internal/blob"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/feed"
	"github.com/matheus3301/huddle/internal/identity"
	intsync "github.com/matheus3301/huddle/internal/sync"
	"go.uber.org/zap"
)

// Entry is one connected client: its auth state and its engine session.
type Entry struct {
	ID        string
	Auth      *identity.Local
	Session   *intsync.Session
	CreatedAt time.Time
}

// Deps are the shared collaborators every session is built from.
type Deps struct {
	Backend  intsync.Backend
	Identity *identity.Registry
	Blobs    blob.Uploader
	Feed     *feed.Feed
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Registry owns the sessions of a daemon.
type Registry struct {
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Entry
}

// NewRegistry creates an empty registry. Sessions run until closed or
// until CloseAll.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Entry),
	}
}

// Create starts a new signed-out session.
func (r *Registry) Create() *Entry {
	id := uuid.NewString()
	auth := identity.NewLocal(r.deps.Identity)
	sess := intsync.New(intsync.Options{
		ID:      id,
		Backend: r.deps.Backend,
		Auth:    auth,
		Blobs:   r.deps.Blobs,
		Feed:    r.deps.Feed,
		Bus:     r.deps.Bus,
		Logger:  r.deps.Logger,
	})
	e := &Entry{ID: id, Auth: auth, Session: sess, CreatedAt: time.Now()}

	r.mu.Lock()
	r.sessions[id] = e
	r.mu.Unlock()

	sess.Start(r.ctx)
	r.deps.Logger.Info("session created", zap.String("session", id))
	return e
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, chat.NotFound("session %q not found", id)
	}
	return e, nil
}

// Close stops and forgets a session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return chat.NotFound("session %q not found", id)
	}
	e.Session.Stop()
	r.deps.Logger.Info("session closed", zap.String("session", id))
	return nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll stops every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.sessions))
	for id, e := range r.sessions {
		entries = append(entries, e)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	r.cancel()
	for _, e := range entries {
		e.Session.Stop()
	}
}
