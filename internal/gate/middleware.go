package gate

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/floatchat/backend/internal/service/auth"
	"github.com/floatchat/backend/pkg/utils"
)

// SessionSource is the part of the auth manager the guard needs.
type SessionSource interface {
	GetSession(ctx context.Context, sid string) (*auth.Session, error)
}

type contextKey struct{}

type guarded struct {
	sessionID string
	session   *auth.Session
}

// FromContext returns the session attached by a Guard.
func FromContext(ctx context.Context) (sid string, session *auth.Session, ok bool) {
	g, ok := ctx.Value(contextKey{}).(guarded)
	if !ok {
		return "", nil, false
	}
	return g.sessionID, g.session, true
}

// WithSession attaches an authenticated session to ctx.
func WithSession(ctx context.Context, sid string, session *auth.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, guarded{sessionID: sid, session: session})
}

// Guard evaluates a fresh Gate for every request it protects.
type Guard struct {
	sessions    SessionSource
	cookie      Cookie
	signInPath  string
	timeout     time.Duration
	placeholder http.Handler
	logger      *zap.Logger
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// WithTimeout bounds the session check; zero means no bound.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) { g.timeout = d }
}

// WithPlaceholder replaces the page served while the state is still Unknown.
func WithPlaceholder(h http.Handler) GuardOption {
	return func(g *Guard) { g.placeholder = h }
}

// NewGuard builds a guard that redirects unauthenticated visitors to signInPath.
func NewGuard(sessions SessionSource, cookie Cookie, signInPath string, logger *zap.Logger, opts ...GuardOption) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{
		sessions:    sessions,
		cookie:      cookie,
		signInPath:  signInPath,
		timeout:     5 * time.Second,
		placeholder: http.HandlerFunc(defaultPlaceholder),
		logger:      logger.With(zap.String("component", "gate")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate resolves a new gate for r.
func (g *Guard) Evaluate(r *http.Request) *Gate {
	sid := g.cookie.Read(r)
	gt := New(sid)

	ctx := r.Context()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	gt.Resolve(ctx, func(ctx context.Context) (*auth.Session, error) {
		if sid == "" {
			return nil, nil
		}
		session, err := g.sessions.GetSession(ctx, sid)
		if err != nil {
			g.logger.Warn("session check failed", zap.Error(err))
		}
		return session, err
	})
	return gt
}

// Page protects HTML views: unauthenticated visitors are redirected.
func (g *Guard) Page(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt := g.Evaluate(r)
		if r.Context().Err() != nil {
			return
		}

		switch gt.State() {
		case Authenticated:
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), gt.SessionID(), gt.Session())))
		case Unauthenticated:
			http.Redirect(w, r, g.signInPath, http.StatusSeeOther)
		default:
			g.placeholder.ServeHTTP(w, r)
		}
	})
}

// API protects JSON endpoints: unauthenticated callers get 401.
func (g *Guard) API(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt := g.Evaluate(r)
		if r.Context().Err() != nil {
			return
		}

		switch gt.State() {
		case Authenticated:
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), gt.SessionID(), gt.Session())))
		case Unauthenticated:
			utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		default:
			w.Header().Set("Retry-After", "1")
			utils.RespondError(w, http.StatusServiceUnavailable, "authentication check pending")
		}
	})
}

func defaultPlaceholder(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`<!doctype html><meta http-equiv="refresh" content="1"><p>Checking authentication...</p>`))
}
