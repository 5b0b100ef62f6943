// Package identity issues user identities and tracks who is signed in.
package identity

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/feed"
	"go.uber.org/zap"
)

var usernameRegexp = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// ErrInvalidUsername is returned for usernames outside the allowed alphabet.
var ErrInvalidUsername = chat.InvalidArgument("username must be 3-32 chars, letters, numbers and underscores only")

// Users is the user table.
type Users interface {
	CreateUser(ctx context.Context, p *chat.Profile) error
	UpdateAvatar(ctx context.Context, id chat.UserID, avatar string) error
	GetUser(ctx context.Context, id chat.UserID) (*chat.Profile, error)
	FindUserByUsername(ctx context.Context, username string) (*chat.Profile, error)
}

// Registry creates users. It is shared by every session.
type Registry struct {
	users  Users
	feed   *feed.Feed
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry creates a registry. A nil logger discards logs.
func NewRegistry(users Users, f *feed.Feed, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{users: users, feed: f, logger: logger.Named("identity"), now: time.Now}
}

// SignUp registers a new user. Usernames keep their case but must be
// unique ignoring it.
func (r *Registry) SignUp(ctx context.Context, username, avatar string) (*chat.Profile, error) {
	username = strings.TrimSpace(username)
	if !usernameRegexp.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	existing, err := r.users.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, chat.AlreadyExists("username %q is already taken", username)
	}

	p := &chat.Profile{
		ID:        chat.NewUserID(),
		Username:  username,
		Avatar:    avatar,
		CreatedAt: r.now().UTC(),
	}
	if err := r.users.CreateUser(ctx, p); err != nil {
		return nil, err
	}
	r.feed.ProfileChanged(*p)
	r.logger.Info("user registered", zap.String("user", string(p.ID)), zap.String("username", username))
	return p, nil
}

// SetAvatar replaces a user's avatar and announces the profile change.
func (r *Registry) SetAvatar(ctx context.Context, id chat.UserID, avatar string) (*chat.Profile, error) {
	if err := r.users.UpdateAvatar(ctx, id, avatar); err != nil {
		return nil, err
	}
	p, err := r.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, chat.NotFound("user %q not found", id)
	}
	r.feed.ProfileChanged(*p)
	return p, nil
}

// FetchUserInfo returns the profile of uid, or nil when there is none.
func (r *Registry) FetchUserInfo(ctx context.Context, uid chat.UserID) (*chat.Profile, error) {
	if uid == "" {
		return nil, nil
	}
	return r.users.GetUser(ctx, uid)
}

// Local is the auth state of one client: at most one signed-in user, plus
// a stream that signals every change.
type Local struct {
	registry *Registry

	mu      sync.Mutex
	current chat.UserID
	subs    map[int]chan struct{}
	next    int
}

// NewLocal creates a signed-out auth state.
func NewLocal(r *Registry) *Local {
	return &Local{registry: r, subs: make(map[int]chan struct{})}
}

// Registry returns the registry backing this auth state.
func (l *Local) Registry() *Registry { return l.registry }

// SignIn signs in the user with the given username.
func (l *Local) SignIn(ctx context.Context, username string) (*chat.Profile, error) {
	p, err := l.registry.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, chat.NotFound("user %q not found", username)
	}
	l.set(p.ID)
	return p, nil
}

// SignOut clears the signed-in user.
func (l *Local) SignOut() {
	l.set("")
}

// CurrentUserID returns the signed-in user, if any.
func (l *Local) CurrentUserID() (chat.UserID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.current != ""
}

// FetchUserInfo returns the profile of uid, or nil when there is none.
func (l *Local) FetchUserInfo(ctx context.Context, uid chat.UserID) (*chat.Profile, error) {
	return l.registry.FetchUserInfo(ctx, uid)
}

// Changes returns a channel signalled after every auth change, and a
// cancel function. Signals coalesce: readers should call CurrentUserID.
func (l *Local) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	id := l.next
	l.next++
	l.subs[id] = ch
	l.mu.Unlock()

	return ch, func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *Local) set(uid chat.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == uid {
		return
	}
	l.current = uid
	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
