package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/fotique/selfie-match/internal/web/handlers"
	"github.com/fotique/selfie-match/internal/web/middleware"
)

func (s *Server) setupRoutes(deps Dependencies) {
	selfieHandler := handlers.NewSelfieHandler(deps.Orchestrator, deps.SelfieCache, deps.Sessions, deps.Log)
	photosHandler := handlers.NewPhotosHandler(deps.ObjectStore, deps.Indexer, deps.Log)

	s.router.Get("/api/health", handlers.HealthCheck)

	s.router.Route("/api/galleries/{galleryID}", func(r chi.Router) {
		// Guest-facing endpoints sit behind a coarse per-IP bucket; the
		// per-identity sliding window runs inside the orchestrator.
		r.Group(func(r chi.Router) {
			r.Use(middleware.IPRateLimit(2, 5))
			r.Post("/selfie/match", selfieHandler.Match)
			r.Delete("/selfie", selfieHandler.Invalidate)
		})

		r.Post("/photos", photosHandler.Upload)
	})
}
