package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/floatchat/backend/internal/gate"
	"github.com/floatchat/backend/internal/handler/page"
	chatmodel "github.com/floatchat/backend/internal/model/chat"
	"github.com/floatchat/backend/internal/notify"
	"github.com/floatchat/backend/internal/service/auth"
	chatservice "github.com/floatchat/backend/internal/service/chat"
	"github.com/floatchat/backend/pkg/utils"
)

const (
	busyNotice = "A reply is still on its way. Please wait."

	// maxMessageBytes bounds one submitted message on every transport.
	maxMessageBytes = 64 * 1024
)

// UserSource looks up the signed-in user behind a browser session.
type UserSource interface {
	GetUser(ctx context.Context, sid string) (*auth.User, error)
}

// Handler serves the chat page and the conversation API.
type Handler struct {
	chatSvc   *chatservice.Service
	renderer  *page.Renderer
	users     UserSource
	subscribe func(func(auth.Event)) func()
	secure    bool
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithUsers enables the account endpoint.
func WithUsers(users UserSource) Option {
	return func(h *Handler) { h.users = users }
}

// WithSessionWatch closes websocket views when their session signs out.
func WithSessionWatch(subscribe func(func(auth.Event)) func()) Option {
	return func(h *Handler) { h.subscribe = subscribe }
}

// WithSecureCookies marks flash cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(h *Handler) { h.secure = secure }
}

// WithOriginCheck restricts websocket upgrades.
func WithOriginCheck(check func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = check }
}

// New creates a chat handler.
func New(chatSvc *chatservice.Service, renderer *page.Renderer, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		chatSvc:  chatSvc,
		renderer: renderer,
		logger:   logger.With(zap.String("component", "chat-handler")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the conversation API. Callers must guard it.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleOpen)
	r.Get("/conversations/{id}", h.handleGet)
	r.Post("/conversations/{id}/messages", h.handleSubmit)
	r.Get("/conversations/{id}/ws", h.handleWebSocket)
}

// RegisterPageRoutes mounts the chat page. Callers must guard it.
func (h *Handler) RegisterPageRoutes(r chi.Router) {
	r.Get(page.ChatPath, h.handlePage)
	r.Post(page.ChatPath, h.handlePageSubmit)
}

type submitResponse struct {
	Accepted bool             `json:"accepted"`
	Turns    []chatmodel.Turn `json:"turns"`
	Busy     bool             `json:"busy"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.Open(r.Context(), owner(r), sessionID(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.Get(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "message too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ownerID, id := owner(r), chi.URLParam(r, "id")
	exchange, err := h.chatSvc.Exchange(r.Context(), ownerID, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	// The transcript outlives the request, so a client that goes away
	// still gets its reply recorded.
	res := exchange.Submit(context.WithoutCancel(r.Context()), payload.Message)
	turns := res.Turns
	if !res.Accepted {
		turns = exchange.Turns()
	}
	utils.RespondJSON(w, http.StatusOK, submitResponse{
		Accepted: res.Accepted,
		Turns:    turns,
		Busy:     exchange.Busy(),
	})
}

// HandleMe returns the signed-in user.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	sid, session, _ := gate.FromContext(r.Context())
	if h.users == nil {
		if session == nil {
			utils.RespondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		utils.RespondJSON(w, http.StatusOK, accountView(&session.User))
		return
	}

	user, err := h.users.GetUser(r.Context(), sid)
	if err != nil {
		h.logger.Warn("user lookup failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "user lookup failed")
		return
	}
	if user == nil {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	utils.RespondJSON(w, http.StatusOK, accountView(user))
}

func accountView(u *auth.User) map[string]string {
	return map[string]string{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.DisplayName(),
	}
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	ownerID := owner(r)
	if id := r.URL.Query().Get("c"); id != "" {
		conv, err := h.chatSvc.Get(r.Context(), ownerID, id)
		if err == nil {
			h.renderer.Render(w, r, http.StatusOK, page.Chat, page.View{Title: "FloatChat AI", Conversation: conv})
			return
		}
	}

	conv, err := h.chatSvc.Open(r.Context(), ownerID, sessionID(r))
	if err != nil {
		h.logger.Error("open conversation failed", zap.Error(err))
		http.Error(w, "could not start a conversation", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, conversationURL(conv.ID), http.StatusSeeOther)
}

func (h *Handler) handlePageSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	id := r.PostFormValue("conversation")

	exchange, err := h.chatSvc.Exchange(r.Context(), owner(r), id)
	if err != nil {
		http.Redirect(w, r, page.ChatPath, http.StatusSeeOther)
		return
	}

	res := exchange.Submit(context.WithoutCancel(r.Context()), r.PostFormValue("message"))
	if !res.Accepted && exchange.Busy() {
		notify.NewFlash(w, h.secure).Notify(busyNotice, 2*time.Second)
	}
	http.Redirect(w, r, conversationURL(id), http.StatusSeeOther)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatservice.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatservice.ErrOwnerRequired):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	default:
		h.logger.Error("chat request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

// owner identifies the conversation owner from the guarded session.
func owner(r *http.Request) string {
	sid, session, ok := gate.FromContext(r.Context())
	if !ok || session == nil {
		return ""
	}
	if session.User.ID != "" {
		return session.User.ID
	}
	return sid
}

// sessionID is the browser session a new conversation is bound to.
func sessionID(r *http.Request) string {
	sid, _, _ := gate.FromContext(r.Context())
	return sid
}

func conversationURL(id string) string {
	return page.ChatPath + "?c=" + url.QueryEscape(id)
}
