// Package server provides the HTTP server and routing for the publishing dashboard API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/autopublish/internal/config"
	"github.com/aristath/autopublish/internal/di"
	profilehandlers "github.com/aristath/autopublish/internal/modules/profiles/handlers"
	authmiddleware "github.com/aristath/autopublish/internal/server/middleware"
)

// requestTimeout bounds every non-streaming request
const requestTimeout = 60 * time.Second

// Config holds server configuration
type Config struct {
	StartedAt time.Time
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
	// AllowedOrigins are the CORS origins of the dashboard. Empty allows any.
	AllowedOrigins []string
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	container      *di.Container
	jwt            *JWTService
	systemHandlers *SystemHandlers
	allowedOrigins []string
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	c := cfg.Container
	var jobs JobRunner
	if c.Scheduler != nil {
		jobs = c.Scheduler
	}

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Config,
		container:      c,
		jwt:            NewJWTService(cfg.Config.JWT),
		systemHandlers: NewSystemHandlers(startedAt, c.Controller, jobs, c.Databases(), cfg.Log),
		allowedOrigins: cfg.AllowedOrigins,
	}

	s.setupMiddleware()
	s.setupRoutes()

	// No WriteTimeout: event streams stay open; REST routes are bounded by requestTimeout
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// JWT returns the token service
func (s *Server) JWT() *JWTService {
	return s.jwt
}

// setupMiddleware configures middleware shared by every route
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	c := s.container

	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(authmiddleware.AuthMiddleware(s.jwt.AsTokenValidator()))

		// Event streams must not be cut by the request timeout
		r.Get("/events/stream", NewEventsStreamHandler(c.Broadcaster, s.log).ServeHTTP)
		r.Get("/events/ws", NewEventsSocketHandler(c.Broadcaster, s.allowedOrigins, s.log).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			if s.cfg == nil || !s.cfg.DevMode {
				r.Use(middleware.Compress(5))
			}

			profilehandlers.NewHandler(c.ProfileService, c.Controller, s.log).RegisterRoutes(r)
			NewRunHandlers(c.Controller, c.RunStates, s.log).RegisterRoutes(r)
			NewResultHandlers(c.Results, c.QuotaGuard, c.ProfileRepo, s.log).RegisterRoutes(r)
			s.systemHandlers.RegisterRoutes(r)
		})
	})
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
