// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the wiring layer: it connects handlers, middleware and
// routes, and owns the listen/shutdown lifecycle. Everything it serves is
// built by the caller and passed in through Deps, so tests can mount the
// router with fakes and main stays the single composition root.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/handler"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/middleware"
)

// DefaultShutdownTimeout is how long in-flight jobs get to finish after a
// shutdown signal.
const DefaultShutdownTimeout = 30 * time.Second

// Config holds server configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// Deps are the collaborators the routes are built from.
type Deps struct {
	Runs      handler.RunService
	Languages []language.Language
	// History is pinged by /healthz. Nil when history is disabled.
	History handler.Pinger
	// Tokens and Keys enable authentication on the job routes. Both nil
	// leaves them open.
	Tokens *auth.TokenService
	Keys   *auth.KeyRing
	// Issuer enables POST /auth/token. Needs both Tokens and Keys.
	Issuer handler.TokenIssuer
}

// Server represents the HTTP server and its router.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

// New creates a Server and registers every route.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(deps)
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
//	GET  /healthz     → liveness, supported languages, history status
//	POST /run         → run one job, respond with its stdout
//	GET  /runs        → run history, newest first
//	GET  /runs/{id}   → one history entry
//	POST /auth/token  → trade an API key for a bearer token
//	GET  /auth/me     → who the credentials belong to
//
// Middleware order matters: the request id must exist before the logger
// reads it, and Recoverer sits inside the logger so a panic is still logged
// as a 500.
func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	health := handler.NewHealthHandler(deps.Languages, deps.History, s.logger)
	s.router.Get("/healthz", health.HandleHealth)

	runs := handler.NewRunHandler(deps.Runs, s.logger)

	authEnabled := deps.Tokens != nil || deps.Keys != nil

	var authHandler *handler.AuthHandler
	if deps.Issuer != nil {
		authHandler = handler.NewAuthHandler(deps.Issuer, s.logger)
		// Checks the API key itself.
		s.router.Post("/auth/token", authHandler.HandleToken)
	}

	s.router.Group(func(r chi.Router) {
		if authEnabled {
			r.Use(auth.RequireAuth(deps.Tokens, deps.Keys))
		}
		r.Post("/run", runs.HandleRun)
		r.Get("/runs", runs.HandleListRuns)
		r.Get("/runs/{id}", runs.HandleGetRun)

		if authEnabled && authHandler != nil {
			r.Get("/auth/me", authHandler.HandleMe)
		}
	})
}

// Start serves until ctx is canceled, then shuts down gracefully.
//
// A job holds its request open until the program exits, so there is no
// write timeout. On shutdown the listener closes first and in-flight jobs
// get ShutdownTimeout to finish; after that their contexts are canceled and
// the sandbox kills whatever is still running.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	baseCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			cancelJobs()
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
