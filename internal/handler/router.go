package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/floatchat/backend/internal/config"
	"github.com/floatchat/backend/internal/gate"
	authhandler "github.com/floatchat/backend/internal/handler/auth"
	"github.com/floatchat/backend/internal/handler/chat"
	"github.com/floatchat/backend/internal/handler/inference"
	"github.com/floatchat/backend/internal/handler/page"
	middlewarePkg "github.com/floatchat/backend/internal/middleware"
	authService "github.com/floatchat/backend/internal/service/auth"
	chatService "github.com/floatchat/backend/internal/service/chat"
	"github.com/floatchat/backend/pkg/utils"
)

// Dependencies are the services the HTTP surface is built from.
type Dependencies struct {
	Config *config.Config
	Auth   *authService.Manager
	Chat   *chatService.Service
	// Inference backs POST /chat; nil leaves the route unmounted.
	Inference chatService.Replier
	Logger    *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config

	cookie := gate.Cookie{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.Secure,
		TTL:    cfg.Session.TTL,
	}

	renderer, err := page.NewRenderer(deps.Auth, cookie, logger)
	if err != nil {
		return nil, fmt.Errorf("build page renderer: %w", err)
	}
	pageHandler := page.NewHandler(renderer)
	authHandler := authhandler.New(deps.Auth, renderer, cookie, cfg.Gate.SignInPath, logger)

	chatOpts := []chat.Option{
		chat.WithUsers(deps.Auth),
		chat.WithSecureCookies(cfg.Session.Secure),
		chat.WithOriginCheck(originChecker(cfg.Server.CORSOrigins)),
	}
	if cfg.Gate.Watch {
		chatOpts = append(chatOpts, chat.WithSessionWatch(deps.Auth.OnAuthStateChange))
	}
	chatHandler := chat.New(deps.Chat, renderer, logger, chatOpts...)

	guard := gate.NewGuard(deps.Auth, cookie, cfg.Gate.SignInPath, logger,
		gate.WithTimeout(cfg.Gate.Timeout),
		gate.WithPlaceholder(pageHandler.Placeholder()),
	)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	pageHandler.RegisterRoutes(r)
	authHandler.RegisterRoutes(r)

	r.Group(func(protected chi.Router) {
		protected.Use(guard.Page)
		chatHandler.RegisterPageRoutes(protected)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(guard.API)
		api.Get("/me", chatHandler.HandleMe)
		api.Route("/chat", chatHandler.RegisterRoutes)
	})

	if deps.Inference != nil {
		inference.New(deps.Inference, logger).RegisterRoutes(r)
	}

	r.NotFound(page.NotFound)

	return r, nil
}

// originChecker accepts same-origin websocket upgrades plus the CORS allow list.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		allowed[strings.TrimSpace(origin)] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] || allowed[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
