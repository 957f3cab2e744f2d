package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager binds provider sessions to opaque browser session ids and
// broadcasts auth state changes.
type Manager struct {
	provider Provider
	store    Store
	verifier *TokenVerifier
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	refreshes singleflight.Group

	subMu  sync.RWMutex
	subs   map[uint64]func(Event)
	nextID uint64
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithTokenVerifier enables local access token verification.
func WithTokenVerifier(v *TokenVerifier) ManagerOption {
	return func(m *Manager) { m.verifier = v }
}

// WithSessionTTL bounds how long a browser session id stays valid in the store.
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager wires a provider and a store.
func NewManager(provider Provider, store Store, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		provider: provider,
		store:    store,
		ttl:      7 * 24 * time.Hour,
		logger:   logger.With(zap.String("component", "auth")),
		now:      time.Now,
		subs:     make(map[uint64]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignIn authenticates with email and password and returns a new session id.
func (m *Manager) SignIn(ctx context.Context, email, password string) (string, *Session, error) {
	session, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	sid, err := m.persist(ctx, session)
	if err != nil {
		return "", nil, err
	}

	m.logger.Info("signed in", zap.String("user", session.User.ID))
	m.emit(Event{Type: EventSignedIn, SessionID: sid, Session: session})
	return sid, session, nil
}

// SignUp registers a user. The returned session id is empty when the
// provider requires email confirmation before issuing a session.
func (m *Manager) SignUp(ctx context.Context, email, password string, profile map[string]any) (string, *User, error) {
	session, user, err := m.provider.SignUp(ctx, email, password, profile)
	if err != nil {
		return "", nil, err
	}
	if session == nil {
		m.logger.Info("signed up pending confirmation", zap.String("user", user.ID))
		return "", user, nil
	}

	sid, err := m.persist(ctx, session)
	if err != nil {
		return "", nil, err
	}

	m.logger.Info("signed up", zap.String("user", session.User.ID))
	m.emit(Event{Type: EventSignedIn, SessionID: sid, Session: session})
	return sid, &session.User, nil
}

// GetSession returns the live session for sid, or nil when there is none.
// Expired sessions are refreshed once; sessions whose refresh token is
// rejected are dropped.
func (m *Manager) GetSession(ctx context.Context, sid string) (*Session, error) {
	if sid == "" {
		return nil, nil
	}

	session, err := m.store.Get(ctx, sid)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if m.valid(session) {
		return session, nil
	}
	return m.refresh(ctx, sid, session)
}

// GetUser asks the provider for the user behind sid. When the provider
// cannot be reached the user cached with the session is returned.
func (m *Manager) GetUser(ctx context.Context, sid string) (*User, error) {
	session, err := m.GetSession(ctx, sid)
	if err != nil || session == nil {
		return nil, err
	}

	user, err := m.provider.GetUser(ctx, session.AccessToken)
	switch {
	case err == nil:
		return user, nil
	case IsUnauthorized(err):
		m.drop(ctx, sid, session)
		return nil, nil
	default:
		m.logger.Warn("fetch user failed, using cached record", zap.Error(err))
		cached := session.User
		return &cached, nil
	}
}

// SignOut revokes the session remotely and forgets sid.
func (m *Manager) SignOut(ctx context.Context, sid string) error {
	session, err := m.store.Get(ctx, sid)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if err := m.provider.SignOut(ctx, session.AccessToken); err != nil {
		m.logger.Warn("remote sign out failed", zap.Error(err))
	}
	m.drop(ctx, sid, session)
	return nil
}

// OnAuthStateChange registers cb for auth events. The returned function
// unregisters it and may be called more than once.
func (m *Manager) OnAuthStateChange(cb func(Event)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = cb
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) persist(ctx context.Context, session *Session) (string, error) {
	m.normalise(session)
	sid := uuid.NewString()
	if err := m.store.Put(ctx, sid, session, m.ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return sid, nil
}

func (m *Manager) normalise(session *Session) {
	if session.ExpiresAt == 0 {
		if exp := tokenExpiry(session.AccessToken); exp > 0 {
			session.ExpiresAt = exp
		} else if session.ExpiresIn > 0 {
			session.ExpiresAt = m.now().Add(time.Duration(session.ExpiresIn) * time.Second).Unix()
		}
	}
}

func (m *Manager) valid(session *Session) bool {
	if session.AccessToken == "" {
		return false
	}
	if m.verifier != nil {
		_, err := m.verifier.Verify(session.AccessToken)
		return err == nil
	}
	return !session.Expired(m.now())
}

func (m *Manager) refresh(ctx context.Context, sid string, stale *Session) (*Session, error) {
	if stale.RefreshToken == "" {
		m.drop(ctx, sid, stale)
		return nil, nil
	}

	v, err, _ := m.refreshes.Do(sid, func() (any, error) {
		fresh, err := m.provider.Refresh(ctx, stale.RefreshToken)
		if err != nil {
			return nil, err
		}
		m.normalise(fresh)
		if err := m.store.Put(ctx, sid, fresh, m.ttl); err != nil {
			return nil, fmt.Errorf("store refreshed session: %w", err)
		}
		m.emit(Event{Type: EventTokenRefreshed, SessionID: sid, Session: fresh})
		return fresh, nil
	})
	switch {
	case rejectsRefresh(err):
		m.logger.Info("session refresh rejected", zap.Error(err))
		m.drop(ctx, sid, stale)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return v.(*Session), nil
}

// rejectsRefresh reports whether the provider refused the refresh token
// itself. Outages and rate limits keep the session for a later attempt.
func rejectsRefresh(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func (m *Manager) drop(ctx context.Context, sid string, session *Session) {
	if err := m.store.Delete(ctx, sid); err != nil {
		m.logger.Warn("delete session failed", zap.Error(err))
	}
	m.logger.Info("signed out", zap.String("user", session.User.ID))
	m.emit(Event{Type: EventSignedOut, SessionID: sid, Session: session})
}

func (m *Manager) emit(evt Event) {
	m.subMu.RLock()
	callbacks := make([]func(Event), 0, len(m.subs))
	for _, cb := range m.subs {
		callbacks = append(callbacks, cb)
	}
	m.subMu.RUnlock()

	for _, cb := range callbacks {
		cb(evt)
	}
}
