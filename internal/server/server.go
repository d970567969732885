package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Davincible/chatgate/internal/account"
	"github.com/Davincible/chatgate/internal/claude"
	"github.com/Davincible/chatgate/internal/config"
	"github.com/Davincible/chatgate/internal/handlers"
	"github.com/Davincible/chatgate/internal/middleware"
	"github.com/Davincible/chatgate/internal/pow"
	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/provider/deepseek"
	"github.com/Davincible/chatgate/internal/provider/glm"
	"github.com/Davincible/chatgate/internal/provider/qwen"
	"github.com/Davincible/chatgate/internal/session"
	"github.com/Davincible/chatgate/internal/store"
)

type Server struct {
	config   *config.Manager
	registry *provider.Registry
	store    *store.SQLiteStore
	logger   *slog.Logger
	server   *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) (*Server, error) {
	cfg := configManager.Get()

	db, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}

	registry := buildRegistry(configManager, db, logger)

	return &Server{
		config:   configManager,
		registry: registry,
		store:    db,
		logger:   logger,
	}, nil
}

// buildRegistry wires every known adapter, skipping those the
// configuration disables. Registration order decides model inference
// precedence.
func buildRegistry(configManager *config.Manager, db *store.SQLiteStore, logger *slog.Logger) *provider.Registry {
	cfg := configManager.Get()
	registry := provider.NewRegistry()

	client := provider.NewClient(nil)
	tokens := provider.NewTokenCache()
	solver := pow.NewSolver(cfg.PowWorkers)

	adapters := map[string]provider.Provider{
		"deepseek": deepseek.New(client, solver, logger, providerEndpoints(configManager, "deepseek")...),
		"qwen":     qwen.New(client, tokens, db, logger, providerEndpoints(configManager, "qwen")...),
		"glm":      glm.New(client, logger, providerEndpoints(configManager, "glm")...),
	}

	for _, name := range []string{"deepseek", "qwen", "glm"} {
		if pc, ok := configManager.ProviderConfig(name); ok && pc.Disabled {
			logger.Info("provider disabled by configuration", "provider", name)
			continue
		}

		registry.Register(adapters[name])
	}

	return registry
}

func providerEndpoints(configManager *config.Manager, name string) []string {
	if pc, ok := configManager.ProviderConfig(name); ok {
		return pc.Endpoints
	}

	return nil
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr, "providers", s.registry.List())

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close account store", "error", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	resolver := account.NewResolver(s.store, s.store, s.registry, s.logger)
	shim := claude.NewShim(
		s.registry,
		resolver,
		session.NewSessions(),
		session.NewChains(),
		s.store,
		s.config,
		s.logger,
	)

	messagesHandler := handlers.NewMessagesHandler(shim)
	countTokensHandler := handlers.NewCountTokensHandler(shim)
	healthHandler := handlers.NewHealthHandler(s.registry, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/v1/messages/count_tokens", middlewareSet.DefaultChain().Handler(countTokensHandler))
	mux.Handle("/v1/messages", middlewareSet.DefaultChain().Handler(messagesHandler))

	// Catch-all so client telemetry uploads reach the blocker instead of
	// 404ing at the mux. Anything the blocker does not absorb is not found.
	mux.Handle("/", middlewareSet.HealthChain().Handler(http.NotFoundHandler()))

	return mux
}
