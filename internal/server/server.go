// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and
// routes, and decides how the server starts and stops.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB ─────────────┐
//	  credential.Cipher ─────┤
//	  oauthstate.Store ──────┼→ IntegrationService → IntegrationHandler
//	  github.Client ─────────┤
//	  metrics.Metrics ───────┘
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/devstats/internal/auth"
	"github.com/sakif/devstats/internal/config"
	"github.com/sakif/devstats/internal/credential"
	"github.com/sakif/devstats/internal/github"
	"github.com/sakif/devstats/internal/handler"
	"github.com/sakif/devstats/internal/metrics"
	"github.com/sakif/devstats/internal/middleware"
	"github.com/sakif/devstats/internal/oauthstate"
	sqliteRepo "github.com/sakif/devstats/internal/repository/sqlite"
	"github.com/sakif/devstats/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the state store. Run releases
// both after the last request and the last background sync have finished.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	states   oauthstate.Store
	sweeper  *oauthstate.MemoryStore // nil with the redis backend
	svc      *service.IntegrationService
	tokens   *auth.TokenService
	registry *prometheus.Registry
}

// New creates a Server from validated configuration.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` to avoid confusion with the
// sqlite driver package.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	cipher, err := credential.NewCipherFromHex(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("loading encryption key: %w", err)
	}

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		tokens:   tokens,
		registry: registry,
	}

	if err := s.openStateStore(ctx, m); err != nil {
		db.Close()
		return nil, err
	}

	if !cfg.GitHubConfigured() {
		logger.Warn("GITHUB_CLIENT_ID/GITHUB_CLIENT_SECRET not set; GitHub will reject the authorization flow")
	}

	gh := github.NewClient(github.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		CallbackURL:  cfg.CallbackURL(),
		APIURL:       cfg.GitHubAPIURL,
	}, m)

	s.svc = service.NewIntegrationService(db, db, s.states, gh, cipher, m, logger, service.IntegrationConfig{
		LanguageInterval: cfg.SyncLanguageInterval,
		MaxRepos:         cfg.SyncMaxRepos,
		SyncTimeout:      cfg.SyncTimeout,
	})

	s.setupRoutes(handler.NewIntegrationHandler(s.svc, cfg.FrontendURL, m, logger))
	return s, nil
}

// OpenDB creates the database directory when needed and opens the store.
// The `token` command shares it with the server.
func OpenDB(dbPath string) (*sqliteRepo.DB, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		// os.MkdirAll is `mkdir -p`; 0755 = owner rwx, others r-x.
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func (s *Server) openStateStore(ctx context.Context, m *metrics.Metrics) error {
	switch s.config.StateStore {
	case config.StateStoreRedis:
		store, err := oauthstate.NewRedisStore(ctx, oauthstate.RedisConfig{
			Addr:     s.config.RedisAddr,
			Password: s.config.RedisPassword,
			DB:       s.config.RedisDB,
			TTL:      s.config.StateTTL,
		})
		if err != nil {
			return err
		}
		s.states = store
	default:
		store := oauthstate.NewMemoryStore(s.logger,
			oauthstate.WithTTL(s.config.StateTTL),
			oauthstate.WithSweepInterval(s.config.StateSweepInterval),
			oauthstate.WithSweepHook(m.TokensSwept),
		)
		store.Start()
		s.states = store
		s.sweeper = store
	}
	return nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /healthz                  → liveness + database ping
//	GET  /metrics                  → prometheus exposition
//	GET  /integrations/callback    → public, GitHub redirects here
//	GET  /integrations/start       → auth
//	POST /integrations/sync        → auth
//	POST /integrations/disconnect  → auth
//	GET  /integrations/stats       → auth
//	GET  /integrations/status      → auth
//
// MIDDLEWARE ORDER MATTERS:
// RequestID runs first so the logger and everything after it can read the id.
func (s *Server) setupRoutes(integrations *handler.IntegrationHandler) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	health := handler.NewHealthHandler(s.db, s.logger)
	s.router.Get("/healthz", health.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	s.router.Route("/integrations", func(r chi.Router) {
		r.Get("/callback", integrations.HandleCallback)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens))
			r.Get("/start", integrations.HandleStart)
			r.Post("/sync", integrations.HandleSync)
			r.Post("/disconnect", integrations.HandleDisconnect)
			r.Get("/stats", integrations.HandleStats)
			r.Get("/status", integrations.HandleStatus)
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting connections and let in-flight requests finish.
//  2. Wait for background syncs started by OAuth callbacks.
//  3. Stop the state store sweeper (or close the redis client).
//  4. Close the database (flushes WAL, releases the file lock).
//
// All four share one 30 second budget.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.SyncTimeout + 15*time.Second, // manual syncs hold the response open
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("state_store", s.config.StateStore),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	if err := s.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr == nil {
		s.logger.Info("server stopped gracefully")
	}
	return runErr
}

// Close waits for background syncs, then releases the state store and database.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if err := s.svc.Wait(ctx); err != nil {
		errs = append(errs, err)
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if closer, ok := s.states.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing state store: %w", err))
		}
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}
