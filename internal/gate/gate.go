// Package gate decides whether protected content may be shown for a session.
//
// A Gate starts Unknown and settles exactly once into Authenticated or
// Unauthenticated. Settled states are terminal unless the gate watches
// auth events, in which case a sign-out of its own session revokes it.
package gate

import (
	"context"
	"sync"

	"github.com/floatchat/backend/internal/service/auth"
)

// State is the gate's view of the session.
type State int32

const (
	Unknown State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Check asks the authentication collaborator for the current session.
// A nil session means none exists.
type Check func(ctx context.Context) (*auth.Session, error)

// Gate guards one mounted view.
type Gate struct {
	sessionID string

	mu      sync.Mutex
	state   State
	session *auth.Session
	started bool
	err     error
}

// New returns an Unknown gate for the browser session id.
func New(sessionID string) *Gate {
	return &Gate{sessionID: sessionID}
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Session returns the session that authenticated the gate, if any.
func (g *Gate) Session() *auth.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// SessionID returns the browser session id the gate was built for.
func (g *Gate) SessionID() string {
	return g.sessionID
}

// Err returns the error reported by the check, if any.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Resolve runs check on the first call only. Later and concurrent calls
// return the current state without querying again. When ctx ends before
// check returns, the result is discarded and the gate stays Unknown.
// A failing check settles the gate as Unauthenticated.
func (g *Gate) Resolve(ctx context.Context, check Check) State {
	g.mu.Lock()
	if g.started {
		state := g.state
		g.mu.Unlock()
		return state
	}
	g.started = true
	g.mu.Unlock()

	session, err := check(ctx)
	if ctx.Err() != nil {
		return Unknown
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Unknown {
		return g.state
	}
	g.err = err
	if err == nil && session != nil {
		g.state = Authenticated
		g.session = session
	} else {
		g.state = Unauthenticated
	}
	return g.state
}

// Watch subscribes the gate to auth events for its lifetime. A sign-out
// of the gate's own session moves it to Unauthenticated and calls onRevoked
// once. The returned stop function must be called on teardown.
func (g *Gate) Watch(subscribe func(func(auth.Event)) func(), onRevoked func()) (stop func()) {
	var once sync.Once
	return subscribe(func(evt auth.Event) {
		if evt.Type != auth.EventSignedOut || evt.SessionID != g.sessionID {
			return
		}

		g.mu.Lock()
		revoked := g.state == Authenticated
		g.state = Unauthenticated
		g.session = nil
		g.started = true
		g.mu.Unlock()

		if revoked && onRevoked != nil {
			once.Do(onRevoked)
		}
	})
}
