// Package web wires the HTTP surface of the selfie-match service.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/database"
	"github.com/fotique/selfie-match/internal/match"
	"github.com/fotique/selfie-match/internal/session"
	"github.com/fotique/selfie-match/internal/storage"
	"github.com/fotique/selfie-match/internal/web/handlers"
	"github.com/fotique/selfie-match/internal/web/middleware"
)

// Dependencies are the collaborators the HTTP layer needs. All of them
// are constructed at startup and injected; the server holds no lazily
// initialized state.
type Dependencies struct {
	Orchestrator *match.Orchestrator
	SelfieCache  database.SelfieCache
	ObjectStore  storage.ObjectStore
	Indexer      handlers.Enqueuer
	Sessions     *session.Issuer
	Log          *zap.Logger
}

// Server represents the web server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer creates a new web server.
func NewServer(deps Dependencies, host string, port int) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		log:    deps.Log,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS())
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes(deps)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
