package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/floatchat/backend/internal/config"
	"github.com/floatchat/backend/internal/handler"
	"github.com/floatchat/backend/internal/logging"
	"github.com/floatchat/backend/internal/service/ai"
	"github.com/floatchat/backend/internal/service/auth"
	"github.com/floatchat/backend/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using process environment", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, closeStore, err := newSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	authManager := auth.NewManager(newAuthProvider(cfg.Auth, logger), store, logger,
		auth.WithTokenVerifier(auth.NewTokenVerifier(cfg.Auth.JWTSecret)),
		auth.WithSessionTTL(cfg.Session.TTL),
	)

	replier := chat.NewHTTPReplier(cfg.Chat.Endpoint, chat.Policy{
		Timeout: cfg.Chat.Timeout,
		Retries: cfg.Chat.Retries,
		Backoff: cfg.Chat.Backoff,
	}, nil, logger)
	chatService := chat.NewService(replier, cfg.Chat.Greeting, logger)

	// Transcripts do not outlive the browser session that opened them.
	unsubscribe := authManager.OnAuthStateChange(chatService.HandleAuthEvent)
	defer unsubscribe()

	deps := handler.Dependencies{
		Config: cfg,
		Auth:   authManager,
		Chat:   chatService,
		Logger: logger,
	}
	if aiService := newAIService(ctx, cfg.AI, logger); aiService != nil {
		deps.Inference = aiService
	}

	router, err := handler.NewRouter(deps)
	if err != nil {
		return err
	}

	// Hijacked websocket connections are not tracked by Shutdown; cancelling
	// the base context ends them.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	logger.Info("FloatChat backend listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("chatEndpoint", cfg.Chat.Endpoint),
		zap.Bool("authConfigured", cfg.Auth.Enabled()),
		zap.Bool("gateWatch", cfg.Gate.Watch),
	)
	return runServer(ctx, srv)
}

func newSessionStore(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (auth.Store, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory session store")
		return auth.NewMemoryStore(), func() {}, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, err := auth.NewRedisStore(pingCtx, auth.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect session store: %w", err)
	}
	logger.Info("using redis session store", zap.String("addr", cfg.RedisAddr))
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("close session store", zap.Error(err))
		}
	}, nil
}

func newAuthProvider(cfg config.AuthConfig, logger *zap.Logger) auth.Provider {
	if !cfg.Enabled() {
		logger.Warn("SUPABASE_URL or SUPABASE_ANON_KEY not set, sign-in is disabled")
		return auth.Unavailable{}
	}
	return auth.NewGoTrueClient(cfg.SupabaseURL, cfg.AnonKey, &http.Client{Timeout: 15 * time.Second}, logger)
}

func newAIService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) *ai.Service {
	if !cfg.Enabled() {
		logger.Info("Ark credentials not configured, POST /chat disabled")
		return nil
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		logger.Warn("failed to create Ark chat model, continuing without local inference", zap.Error(err))
		return nil
	}
	aiService, err := ai.NewService(ctx, chatModel, logger)
	if err != nil {
		logger.Warn("failed to initialize AI service, continuing without local inference", zap.Error(err))
		return nil
	}
	logger.Info("local inference endpoint enabled", zap.String("model", cfg.Model))
	return aiService
}

func runServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
