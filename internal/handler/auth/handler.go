// Package auth serves the sign-in, sign-up and sign-out forms.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/floatchat/backend/internal/gate"
	"github.com/floatchat/backend/internal/handler/page"
	"github.com/floatchat/backend/internal/notify"
	authservice "github.com/floatchat/backend/internal/service/auth"
)

const (
	loginFlash  = 1500 * time.Millisecond
	signupFlash = 2000 * time.Millisecond
)

// Authenticator is the part of the auth manager the forms need.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (string, *authservice.Session, error)
	SignUp(ctx context.Context, email, password string, profile map[string]any) (string, *authservice.User, error)
	SignOut(ctx context.Context, sid string) error
	GetSession(ctx context.Context, sid string) (*authservice.Session, error)
}

// Handler wires the auth forms to the session manager.
type Handler struct {
	auth       Authenticator
	renderer   *page.Renderer
	cookie     gate.Cookie
	signInPath string
	logger     *zap.Logger
}

// New creates an auth form handler.
func New(auth Authenticator, renderer *page.Renderer, cookie gate.Cookie, signInPath string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		auth:       auth,
		renderer:   renderer,
		cookie:     cookie,
		signInPath: signInPath,
		logger:     logger.With(zap.String("component", "auth-handler")),
	}
}

// RegisterRoutes mounts the form endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(h.signInPath, h.loginForm)
	r.Post(h.signInPath, h.login)
	r.Get("/signup", h.signupForm)
	r.Post("/signup", h.signup)
	r.Post("/logout", h.logout)
}

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) {
	if h.signedIn(r) {
		http.Redirect(w, r, page.ChatPath, http.StatusSeeOther)
		return
	}
	h.renderer.Render(w, r, http.StatusOK, page.Login, page.View{Title: "Sign In"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderMessage(w, r, http.StatusBadRequest, page.Login, page.Form{}, "Login failed: invalid form submission", loginFlash)
		return
	}
	form := page.Form{Email: strings.TrimSpace(r.PostFormValue("email"))}
	password := r.PostFormValue("password")

	sid, _, err := h.auth.SignIn(r.Context(), form.Email, password)
	if err != nil {
		h.logger.Info("sign in rejected", zap.Error(err))
		h.renderMessage(w, r, failureStatus(err), page.Login, form, "Login failed: "+errorMessage(err), loginFlash)
		return
	}

	h.cookie.Write(w, sid)
	notify.NewFlash(w, h.cookie.Secure).Notify("Login successful! Redirecting...", loginFlash)
	http.Redirect(w, r, page.ChatPath, http.StatusSeeOther)
}

func (h *Handler) signupForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, page.Signup, page.View{Title: "Sign Up"})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderMessage(w, r, http.StatusBadRequest, page.Signup, page.Form{}, "Signup failed: invalid form submission", signupFlash)
		return
	}
	form := page.Form{
		Name:  strings.TrimSpace(r.PostFormValue("name")),
		Email: strings.TrimSpace(r.PostFormValue("email")),
	}
	password := r.PostFormValue("password")

	if password != r.PostFormValue("confirmPassword") {
		h.renderMessage(w, r, http.StatusBadRequest, page.Signup, form, "❌ Passwords do not match!", signupFlash)
		return
	}

	sid, _, err := h.auth.SignUp(r.Context(), form.Email, password, map[string]any{"name": form.Name})
	if err != nil {
		h.logger.Info("sign up rejected", zap.Error(err))
		h.renderMessage(w, r, failureStatus(err), page.Signup, form, "Signup failed: "+errorMessage(err), signupFlash)
		return
	}

	if sid != "" {
		h.cookie.Write(w, sid)
	}
	notify.NewFlash(w, h.cookie.Secure).Notify("✅ Signup successful! Redirecting...", signupFlash)
	http.Redirect(w, r, page.ChatPath, http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if sid := h.cookie.Read(r); sid != "" {
		if err := h.auth.SignOut(r.Context(), sid); err != nil {
			h.logger.Warn("sign out failed", zap.Error(err))
		}
	}
	h.cookie.Clear(w)
	http.Redirect(w, r, h.signInPath, http.StatusSeeOther)
}

func (h *Handler) signedIn(r *http.Request) bool {
	sid := h.cookie.Read(r)
	if sid == "" {
		return false
	}
	session, err := h.auth.GetSession(r.Context(), sid)
	return err == nil && session != nil
}

// renderMessage re-renders a form on the same response with an inline message.
func (h *Handler) renderMessage(w http.ResponseWriter, r *http.Request, status int, name string, form page.Form, text string, d time.Duration) {
	rec := &notify.Recorder{}
	rec.Notify(text, d)
	msg, _ := rec.Last()
	h.renderer.Render(w, r, status, name, page.View{Title: formTitle(name), Form: form, Flash: &msg})
}

func formTitle(name string) string {
	if name == page.Signup {
		return "Sign Up"
	}
	return "Sign In"
}

func errorMessage(err error) string {
	var apiErr *authservice.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "authentication service unavailable"
}

func failureStatus(err error) int {
	var apiErr *authservice.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 {
		return apiErr.StatusCode
	}
	return http.StatusBadGateway
}
