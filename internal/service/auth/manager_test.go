package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu         sync.Mutex
	signIn     func(email, password string) (*Session, error)
	refresh    func(token string) (*Session, error)
	getUser    func(token string) (*User, error)
	signedOut  []string
	refreshes  int
	signUpResp func() (*Session, *User, error)
}

func (p *fakeProvider) SignInWithPassword(_ context.Context, email, password string) (*Session, error) {
	return p.signIn(email, password)
}

func (p *fakeProvider) SignUp(context.Context, string, string, map[string]any) (*Session, *User, error) {
	return p.signUpResp()
}

func (p *fakeProvider) Refresh(_ context.Context, token string) (*Session, error) {
	p.mu.Lock()
	p.refreshes++
	p.mu.Unlock()
	return p.refresh(token)
}

func (p *fakeProvider) GetUser(_ context.Context, token string) (*User, error) {
	return p.getUser(token)
}

func (p *fakeProvider) SignOut(_ context.Context, token string) error {
	p.mu.Lock()
	p.signedOut = append(p.signedOut, token)
	p.mu.Unlock()
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func liveSession(token string) *Session {
	return &Session{
		AccessToken:  token,
		RefreshToken: "refresh-" + token,
		ExpiresAt:    epoch.Add(time.Hour).Unix(),
		User:         User{ID: "u1", Email: "diver@example.com"},
	}
}

func TestManagerSignInStoresSession(t *testing.T) {
	provider := &fakeProvider{signIn: func(string, string) (*Session, error) { return liveSession("at"), nil }}
	m := NewManager(provider, NewMemoryStore(), nil, WithClock(fixedClock(epoch)))

	var events []Event
	unsubscribe := m.OnAuthStateChange(func(e Event) { events = append(events, e) })
	defer unsubscribe()

	sid, _, err := m.SignIn(context.Background(), "diver@example.com", "pw")
	require.NoError(t, err)
	require.NotEmpty(t, sid)

	session, err := m.GetSession(context.Background(), sid)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "at", session.AccessToken)

	require.Len(t, events, 1)
	assert.Equal(t, EventSignedIn, events[0].Type)
	assert.Equal(t, sid, events[0].SessionID)
}

func TestManagerSignInFailure(t *testing.T) {
	provider := &fakeProvider{signIn: func(string, string) (*Session, error) {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Message: "Invalid login credentials"}
	}}
	m := NewManager(provider, NewMemoryStore(), nil)

	sid, _, err := m.SignIn(context.Background(), "diver@example.com", "bad")

	assert.Empty(t, sid)
	assert.EqualError(t, err, "Invalid login credentials")
}

func TestManagerGetSessionAbsent(t *testing.T) {
	m := NewManager(&fakeProvider{}, NewMemoryStore(), nil)

	for _, sid := range []string{"", "unknown"} {
		session, err := m.GetSession(context.Background(), sid)
		assert.NoError(t, err)
		assert.Nil(t, session)
	}
}

func TestManagerRefreshesExpiredSession(t *testing.T) {
	store := NewMemoryStore()
	provider := &fakeProvider{refresh: func(token string) (*Session, error) {
		assert.Equal(t, "refresh-old", token)
		return liveSession("new"), nil
	}}
	m := NewManager(provider, store, nil, WithClock(fixedClock(epoch)))

	stale := liveSession("old")
	stale.ExpiresAt = epoch.Add(-time.Minute).Unix()
	require.NoError(t, store.Put(context.Background(), "sid", stale, 0))

	var refreshed bool
	defer m.OnAuthStateChange(func(e Event) { refreshed = refreshed || e.Type == EventTokenRefreshed })()

	session, err := m.GetSession(context.Background(), "sid")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "new", session.AccessToken)
	assert.True(t, refreshed)

	again, err := m.GetSession(context.Background(), "sid")
	require.NoError(t, err)
	assert.Equal(t, "new", again.AccessToken)
	assert.Equal(t, 1, provider.refreshes)
}

func TestManagerDropsSessionWhenRefreshRejected(t *testing.T) {
	store := NewMemoryStore()
	provider := &fakeProvider{refresh: func(string) (*Session, error) {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Message: "Invalid Refresh Token"}
	}}
	m := NewManager(provider, store, nil, WithClock(fixedClock(epoch)))

	stale := liveSession("old")
	stale.ExpiresAt = epoch.Add(-time.Minute).Unix()
	require.NoError(t, store.Put(context.Background(), "sid", stale, 0))

	var signedOut []Event
	defer m.OnAuthStateChange(func(e Event) {
		if e.Type == EventSignedOut {
			signedOut = append(signedOut, e)
		}
	})()

	session, err := m.GetSession(context.Background(), "sid")
	assert.NoError(t, err)
	assert.Nil(t, session)
	require.Len(t, signedOut, 1)
	assert.Equal(t, "u1", signedOut[0].Session.User.ID)

	_, err = store.Get(context.Background(), "sid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerRefreshTransportErrorKeepsSession(t *testing.T) {
	store := NewMemoryStore()
	provider := &fakeProvider{refresh: func(string) (*Session, error) { return nil, errors.New("dial tcp: refused") }}
	m := NewManager(provider, store, nil, WithClock(fixedClock(epoch)))

	stale := liveSession("old")
	stale.ExpiresAt = epoch.Add(-time.Minute).Unix()
	require.NoError(t, store.Put(context.Background(), "sid", stale, 0))

	session, err := m.GetSession(context.Background(), "sid")
	assert.Error(t, err)
	assert.Nil(t, session)

	_, err = store.Get(context.Background(), "sid")
	assert.NoError(t, err)
}

func TestManagerRefreshOutageKeepsSession(t *testing.T) {
	for _, refreshErr := range []error{
		&APIError{StatusCode: http.StatusServiceUnavailable, Message: "upstream unavailable"},
		&APIError{StatusCode: http.StatusTooManyRequests, Message: "rate limited"},
		ErrNotConfigured,
	} {
		store := NewMemoryStore()
		provider := &fakeProvider{refresh: func(string) (*Session, error) { return nil, refreshErr }}
		m := NewManager(provider, store, nil, WithClock(fixedClock(epoch)))

		stale := liveSession("old")
		stale.ExpiresAt = epoch.Add(-time.Minute).Unix()
		require.NoError(t, store.Put(context.Background(), "sid", stale, 0))

		var signedOut bool
		unsubscribe := m.OnAuthStateChange(func(e Event) { signedOut = signedOut || e.Type == EventSignedOut })

		session, err := m.GetSession(context.Background(), "sid")
		assert.ErrorIs(t, err, refreshErr)
		assert.Nil(t, session)
		assert.False(t, signedOut, refreshErr.Error())

		_, err = store.Get(context.Background(), "sid")
		assert.NoError(t, err, refreshErr.Error())
		unsubscribe()
	}
}

func TestManagerDropsSessionOnTokenRejections(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		store := NewMemoryStore()
		provider := &fakeProvider{refresh: func(string) (*Session, error) {
			return nil, &APIError{StatusCode: status, Code: "refresh_token_not_found", Message: "Invalid Refresh Token"}
		}}
		m := NewManager(provider, store, nil, WithClock(fixedClock(epoch)))

		stale := liveSession("old")
		stale.ExpiresAt = epoch.Add(-time.Minute).Unix()
		require.NoError(t, store.Put(context.Background(), "sid", stale, 0))

		session, err := m.GetSession(context.Background(), "sid")
		assert.NoError(t, err)
		assert.Nil(t, session)

		_, err = store.Get(context.Background(), "sid")
		assert.ErrorIs(t, err, ErrSessionNotFound, "status %d", status)
	}
}

func TestManagerSignOut(t *testing.T) {
	provider := &fakeProvider{signIn: func(string, string) (*Session, error) { return liveSession("at"), nil }}
	m := NewManager(provider, NewMemoryStore(), nil, WithClock(fixedClock(epoch)))

	sid, _, err := m.SignIn(context.Background(), "diver@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, m.SignOut(context.Background(), sid))
	assert.Equal(t, []string{"at"}, provider.signedOut)

	session, err := m.GetSession(context.Background(), sid)
	assert.NoError(t, err)
	assert.Nil(t, session)

	assert.NoError(t, m.SignOut(context.Background(), sid))
}

func TestManagerGetUser(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "sid", liveSession("at"), 0))

	t.Run("fresh record", func(t *testing.T) {
		provider := &fakeProvider{getUser: func(string) (*User, error) {
			return &User{ID: "u1", Email: "new@example.com"}, nil
		}}
		m := NewManager(provider, store, nil, WithClock(fixedClock(epoch)))

		user, err := m.GetUser(context.Background(), "sid")
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", user.Email)
	})

	t.Run("provider unreachable", func(t *testing.T) {
		provider := &fakeProvider{getUser: func(string) (*User, error) { return nil, errors.New("timeout") }}
		m := NewManager(provider, store, nil, WithClock(fixedClock(epoch)))

		user, err := m.GetUser(context.Background(), "sid")
		require.NoError(t, err)
		assert.Equal(t, "diver@example.com", user.Email)
	})

	t.Run("token rejected", func(t *testing.T) {
		provider := &fakeProvider{getUser: func(string) (*User, error) {
			return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "invalid JWT"}
		}}
		m := NewManager(provider, store, nil, WithClock(fixedClock(epoch)))

		user, err := m.GetUser(context.Background(), "sid")
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestManagerSignUpPendingConfirmation(t *testing.T) {
	provider := &fakeProvider{signUpResp: func() (*Session, *User, error) {
		return nil, &User{ID: "u9", Email: "new@example.com"}, nil
	}}
	m := NewManager(provider, NewMemoryStore(), nil)

	sid, user, err := m.SignUp(context.Background(), "new@example.com", "pw", map[string]any{"name": "New"})

	require.NoError(t, err)
	assert.Empty(t, sid)
	assert.Equal(t, "u9", user.ID)
}

func TestManagerUnsubscribeIsIdempotent(t *testing.T) {
	provider := &fakeProvider{signIn: func(string, string) (*Session, error) { return liveSession("at"), nil }}
	m := NewManager(provider, NewMemoryStore(), nil)

	calls := 0
	unsubscribe := m.OnAuthStateChange(func(Event) { calls++ })
	unsubscribe()
	unsubscribe()

	_, _, err := m.SignIn(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestManagerVerifiesTokensWithSecret(t *testing.T) {
	const secret = "super-secret"
	signed := func(exp time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(exp),
		})
		s, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}

	store := NewMemoryStore()
	m := NewManager(&fakeProvider{}, store, nil, WithTokenVerifier(NewTokenVerifier(secret)))

	require.NoError(t, store.Put(context.Background(), "good", &Session{AccessToken: signed(time.Now().Add(time.Hour))}, 0))
	require.NoError(t, store.Put(context.Background(), "forged", &Session{AccessToken: "eyJhbGciOiJIUzI1NiJ9.e30.bad"}, 0))

	session, err := m.GetSession(context.Background(), "good")
	require.NoError(t, err)
	assert.NotNil(t, session)

	session, err = m.GetSession(context.Background(), "forged")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestNormaliseReadsExpiryFromToken(t *testing.T) {
	exp := epoch.Add(2 * time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	raw, err := token.SignedString([]byte("k"))
	require.NoError(t, err)

	m := NewManager(&fakeProvider{}, NewMemoryStore(), nil, WithClock(fixedClock(epoch)))
	session := &Session{AccessToken: raw, ExpiresIn: 60}
	m.normalise(session)
	assert.Equal(t, exp.Unix(), session.ExpiresAt)

	opaque := &Session{AccessToken: "opaque", ExpiresIn: 60}
	m.normalise(opaque)
	assert.Equal(t, epoch.Add(time.Minute).Unix(), opaque.ExpiresAt)
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore()
	now := epoch
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(context.Background(), "sid", liveSession("at"), time.Minute))
	_, err := store.Get(context.Background(), "sid")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(context.Background(), "sid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
