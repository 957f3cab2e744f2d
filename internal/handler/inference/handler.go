// Package inference exposes a local chat backend speaking the same
// {"message"} -> {"reply"} contract as the hosted one.
package inference

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatservice "github.com/floatchat/backend/internal/service/chat"
	"github.com/floatchat/backend/pkg/utils"
)

const maxMessageBytes = 16 * 1024

// Handler answers chat requests with a model-backed replier.
type Handler struct {
	replier chatservice.Replier
	logger  *zap.Logger
}

// New creates the inference handler.
func New(replier chatservice.Replier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{replier: replier, logger: logger.With(zap.String("component", "inference"))}
}

// RegisterRoutes mounts POST /chat.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.replier.Reply(r.Context(), req.Message)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.logger.Error("model reply failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "model unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{Reply: reply})
}
