// Package session owns the authentication token and the resolved identity of
// the current user.
//
// Consumers read the session through Store accessors only. Authorization
// checks here are advisory: they drive what the client shows and where it
// navigates, never what the server allows.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/acmxim/envoy/internal/storage"
	"github.com/acmxim/envoy/internal/transport"
	"github.com/acmxim/envoy/pkg/logger"
	"github.com/acmxim/envoy/pkg/types"
)

var (
	// ErrNotLoggedIn is returned by Authorize when there is no token.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrNotAdmin is returned by Authorize when the identity lacks the role.
	ErrNotAdmin = errors.New("admin role required")
)

// AuthAPI is the slice of the REST adapter the store needs.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (types.AuthResponse, error)
	Register(ctx context.Context, req types.RegisterRequest) (types.AuthResponse, error)
	Me(ctx context.Context, token string) (types.Identity, error)
}

// State is an immutable view of the session.
type State struct {
	// Token is empty when logged out.
	Token string
	// Identity is nil unless Token was validated since the last login.
	Identity *types.Identity
}

// LoggedIn reports whether a token is held.
func (s State) LoggedIn() bool { return s.Token != "" }

// Store is the process-wide session.
type Store struct {
	api    AuthAPI
	tokens storage.TokenStore
	now    func() time.Time

	mu       sync.RWMutex
	state    State
	gen      uint64
	watchers map[int]func(State)
	nextID   int

	identity singleflight.Group
}

// NewStore creates an empty (logged out) store. Call Init to restore a
// persisted session.
func NewStore(api AuthAPI, tokens storage.TokenStore) *Store {
	if tokens == nil {
		tokens = storage.NewMemoryStore("")
	}
	return &Store{
		api:      api,
		tokens:   tokens,
		now:      time.Now,
		watchers: make(map[int]func(State)),
	}
}

// Token implements transport.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// State returns the current session.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentIdentity returns the identity, if resolved.
func (s *Store) CurrentIdentity() (types.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Identity == nil {
		return types.Identity{}, false
	}
	return *s.state.Identity, true
}

// IsAdmin reports whether the resolved identity has the admin role.
func (s *Store) IsAdmin() bool {
	id, ok := s.CurrentIdentity()
	return ok && id.IsAdmin()
}

// Authorize is the navigation gate for role-restricted views.
func (s *Store) Authorize(required types.Role) error {
	st := s.State()
	if !st.LoggedIn() {
		return ErrNotLoggedIn
	}
	if required == types.RoleAdmin && (st.Identity == nil || !st.Identity.IsAdmin()) {
		return ErrNotAdmin
	}
	return nil
}

// Watch registers fn to be called after every session change. The returned
// function unregisters it.
func (s *Store) Watch(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

// Init restores a persisted token and validates it. Any failure clears the
// token silently: the user is simply logged out.
func (s *Store) Init(ctx context.Context) {
	token, err := s.tokens.Load()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warnf("session: load token: %v", err)
		}
		return
	}

	if expired(token, s.now()) {
		logger.Debugf("session: persisted token expired, discarding")
		s.clear()
		return
	}

	gen := s.install(token)
	if _, err := s.resolve(ctx, gen, token); err != nil {
		logger.Debugf("session: persisted token rejected: %v", err)
		s.clearIfGen(gen)
	}
}

// Login authenticates, stores the token, then resolves the identity on a best
// effort basis. When the identity fetch fails Login still succeeds and the
// session stays authenticated but unidentified.
func (s *Store) Login(ctx context.Context, email, password string) error {
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.afterAuth(ctx, resp)
	return nil
}

// Register creates an account. When the server answers with a token the
// session is established exactly as with Login.
func (s *Store) Register(ctx context.Context, name, email, password string) error {
	resp, err := s.api.Register(ctx, types.RegisterRequest{Name: name, Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if resp.Token != "" {
		s.afterAuth(ctx, resp)
	}
	return nil
}

func (s *Store) afterAuth(ctx context.Context, resp types.AuthResponse) {
	gen := s.install(resp.Token)
	if err := s.tokens.Save(resp.Token); err != nil {
		logger.Warnf("session: persist token: %v", err)
	}
	if _, err := s.resolve(ctx, gen, resp.Token); err != nil {
		logger.Warnf("session: identity unavailable after login: %v", err)
	}
}

// Refresh re-resolves the identity for the current token. Callers use it to
// recover from the degraded (token without identity) state.
func (s *Store) Refresh(ctx context.Context) (types.Identity, error) {
	s.mu.RLock()
	token, gen := s.state.Token, s.gen
	s.mu.RUnlock()
	if token == "" {
		return types.Identity{}, ErrNotLoggedIn
	}
	return s.resolve(ctx, gen, token)
}

// Logout clears the token and identity. It never fails; requests already in
// flight keep the token they captured.
func (s *Store) Logout() {
	s.clear()
}

// install replaces the token, drops any identity and starts a new generation.
func (s *Store) install(token string) uint64 {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = State{Token: token}
	watchers := s.snapshotWatchersLocked()
	st := s.state
	s.mu.Unlock()

	notify(watchers, st)
	return gen
}

func (s *Store) clear() {
	s.mu.Lock()
	s.gen++
	s.state = State{}
	watchers := s.snapshotWatchersLocked()
	s.mu.Unlock()

	if err := s.tokens.Delete(); err != nil {
		logger.Warnf("session: delete token: %v", err)
	}
	notify(watchers, State{})
}

func (s *Store) clearIfGen(gen uint64) {
	s.mu.RLock()
	current := s.gen
	s.mu.RUnlock()
	if current == gen {
		s.clear()
	}
}

// resolve fetches the identity for token and applies it only if the session
// generation has not moved on in the meantime. A token the server rejects
// ends the session.
func (s *Store) resolve(ctx context.Context, gen uint64, token string) (types.Identity, error) {
	v, err, _ := s.identity.Do(token, func() (interface{}, error) {
		return s.api.Me(ctx, token)
	})
	if err != nil {
		if transport.KindOf(err) == transport.KindUnauthorized {
			s.clearIfGen(gen)
		}
		return types.Identity{}, err
	}
	id := v.(types.Identity)

	s.mu.Lock()
	if s.gen != gen || s.state.Token != token {
		s.mu.Unlock()
		return id, nil
	}
	s.state.Identity = &id
	watchers := s.snapshotWatchersLocked()
	st := s.state
	s.mu.Unlock()

	notify(watchers, st)
	return id, nil
}

func (s *Store) snapshotWatchersLocked() []func(State) {
	out := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func(State), st State) {
	for _, fn := range watchers {
		fn(st)
	}
}

// expired reports whether token is a JWT whose exp claim is in the past. The
// signature is not verified; the server stays authoritative.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.Time.After(now)
}
