package page

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler serves the public marketing pages.
type Handler struct {
	renderer *Renderer
}

// NewHandler creates a page handler.
func NewHandler(renderer *Renderer) *Handler {
	return &Handler{renderer: renderer}
}

// RegisterRoutes mounts one GET route per marketing page.
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, p := range h.renderer.Pages() {
		r.Get(p.Path, h.marketing(p))
	}
}

func (h *Handler) marketing(p Content) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.renderer.Render(w, r, http.StatusOK, Marketing, View{Title: p.Title, Page: &p})
	}
}

// Placeholder is shown while the session check has not settled.
func (h *Handler) Placeholder() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		h.renderer.Render(w, r, http.StatusServiceUnavailable, Placeholder, View{Title: "Checking authentication", Static: true})
	})
}

// NotFound sends unknown paths home.
func NotFound(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
