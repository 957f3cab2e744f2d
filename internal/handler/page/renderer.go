// Package page renders the server-side HTML views.
package page

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/floatchat/backend/internal/gate"
	"github.com/floatchat/backend/internal/model/chat"
	"github.com/floatchat/backend/internal/notify"
	"github.com/floatchat/backend/internal/service/auth"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed content/pages.yaml
var contentYAML []byte

// Template names.
const (
	Marketing   = "marketing"
	Login       = "login"
	Signup      = "signup"
	Chat        = "chat"
	Placeholder = "placeholder"
)

// ChatPath is where the guarded chat page lives.
const ChatPath = "/floatchatai"

// NavLink is one navigation entry.
type NavLink struct {
	Label  string
	Path   string
	Active bool
}

// Form echoes submitted form fields back into a re-rendered page.
type Form struct {
	Name  string
	Email string
}

// View is the data every template receives.
type View struct {
	Title        string
	Nav          []NavLink
	User         *auth.User
	Flash        *notify.Message
	Page         *Content
	Form         Form
	Conversation chat.Conversation

	// Static views skip the session lookup and leave pending flash messages alone.
	Static bool
}

// Renderer executes the embedded templates inside the shared layout.
type Renderer struct {
	templates map[string]*template.Template
	pages     []Content
	sessions  gate.SessionSource
	cookie    gate.Cookie
	logger    *zap.Logger
}

// NewRenderer parses the embedded templates and page content. sessions may be
// nil when authentication is not configured.
func NewRenderer(sessions gate.SessionSource, cookie gate.Cookie, logger *zap.Logger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pages, err := parseContent(contentYAML)
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*template.Template)
	for _, name := range []string{Marketing, Login, Signup, Chat, Placeholder} {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		templates[name] = tmpl
	}

	return &Renderer{
		templates: templates,
		pages:     pages,
		sessions:  sessions,
		cookie:    cookie,
		logger:    logger.With(zap.String("component", "page")),
	}, nil
}

// Pages returns the marketing pages in navigation order.
func (rd *Renderer) Pages() []Content {
	return rd.pages
}

// Render writes the named template with status. Navigation, the signed-in
// user and any pending flash message are filled in when missing.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, view View) {
	tmpl, ok := rd.templates[name]
	if !ok {
		rd.logger.Error("unknown template", zap.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if view.Nav == nil {
		view.Nav = rd.nav(r.URL.Path)
	}
	if view.User == nil && !view.Static {
		view.User = rd.user(r)
	}
	if view.Flash == nil && !view.Static {
		if msg, ok := notify.Pop(w, r); ok {
			view.Flash = &msg
		}
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", view); err != nil {
		rd.logger.Error("render failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (rd *Renderer) nav(current string) []NavLink {
	links := make([]NavLink, 0, len(rd.pages)+1)
	for _, p := range rd.pages {
		links = append(links, NavLink{Label: p.Nav, Path: p.Path, Active: p.Path == current})
	}
	return append(links, NavLink{Label: "FloatChatAI", Path: ChatPath, Active: current == ChatPath})
}

func (rd *Renderer) user(r *http.Request) *auth.User {
	if _, session, ok := gate.FromContext(r.Context()); ok && session != nil {
		return &session.User
	}
	if rd.sessions == nil {
		return nil
	}

	sid := rd.cookie.Read(r)
	if sid == "" {
		return nil
	}
	session, err := rd.sessions.GetSession(r.Context(), sid)
	if err != nil {
		rd.logger.Debug("nav session lookup failed", zap.Error(err))
		return nil
	}
	if session == nil {
		return nil
	}
	return &session.User
}
