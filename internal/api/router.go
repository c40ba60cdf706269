package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/internal/config"
	"github.com/savegress/hl7bridge/internal/session"
)

// Server represents the API server
type Server struct {
	config   *config.Config
	router   chi.Router
	handlers *Handlers
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, manager *session.Manager, downstream Downstream, logger *zap.Logger) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		handlers: NewHandlers(cfg, manager, downstream, logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HealthCheck)
	s.router.Get("/health/detailed", s.handlers.DetailedHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/upload", s.handlers.Upload)
		r.Post("/confirm", s.handlers.Confirm)

		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/progress", s.handlers.JobProgress)
			r.Get("/stream", s.handlers.JobStream)
			r.Get("/results", s.handlers.JobResults)
		})

		r.Get("/sessions/{id}", s.handlers.GetSession)

		r.Route("/hl7", func(r chi.Router) {
			r.Post("/validate", s.handlers.ValidateMessage)
			r.Post("/send", s.handlers.SendMessage)
		})

		r.Get("/trigger-events", s.handlers.TriggerEvents)
		r.Get("/stats", s.handlers.Stats)
	})
}

// Router returns the chi router
func (s *Server) Router() http.Handler {
	return s.router
}
