package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-checkin/internal/constants"
	"github.com/kozaktomas/face-checkin/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	sessionsHandler := handlers.NewSessionsHandler(s.service, s.registry, s.detector)
	galleryHandler := handlers.NewGalleryHandler(s.index)
	attendanceHandler := handlers.NewAttendanceHandler()
	configHandler := handlers.NewConfigHandler(s.config, s.service)
	statsHandler := handlers.NewStatsHandler(s.service, s.registry)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Event streams must not be cut by the request timeout.
		r.Get("/sessions/{id}/events", sessionsHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(constants.SessionCommandTimeout * 3))

			r.Get("/config", configHandler.Get)
			r.Get("/stats", statsHandler.Get)

			// Capture sessions
			r.Post("/sessions", sessionsHandler.Create)
			r.Get("/sessions/{id}", sessionsHandler.Get)
			r.Post("/sessions/{id}/frames", sessionsHandler.Frames)
			r.Post("/sessions/{id}/retake", sessionsHandler.Retake)
			r.Post("/sessions/{id}/confirm", sessionsHandler.Confirm)
			r.Post("/sessions/{id}/record", sessionsHandler.Record)
			r.Delete("/sessions/{id}", sessionsHandler.Cancel)

			// Gallery
			r.Get("/gallery", galleryHandler.List)
			r.Get("/gallery/{identityId}", galleryHandler.Get)
			r.Delete("/gallery/{identityId}", galleryHandler.Delete)

			// Attendance
			r.Get("/attendance", attendanceHandler.List)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}` + "\n"))
	})
}
