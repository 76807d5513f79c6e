// Package server wires every module behind the versioned HTTP surface:
// request-id tagging, bearer auth, the hard handler timeout, and the error
// envelope contract.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/database"
	authhandlers "github.com/ohmystock/ohmystock/internal/modules/auth/handlers"
	briefhandlers "github.com/ohmystock/ohmystock/internal/modules/briefs/handlers"
	comparehandlers "github.com/ohmystock/ohmystock/internal/modules/compare/handlers"
	eventhandlers "github.com/ohmystock/ohmystock/internal/modules/events/handlers"
	feedbackhandlers "github.com/ohmystock/ohmystock/internal/modules/feedback/handlers"
	notificationhandlers "github.com/ohmystock/ohmystock/internal/modules/notifications/handlers"
	reporthandlers "github.com/ohmystock/ohmystock/internal/modules/reports/handlers"
	thresholdhandlers "github.com/ohmystock/ohmystock/internal/modules/thresholds/handlers"
	watchlisthandlers "github.com/ohmystock/ohmystock/internal/modules/watchlist/handlers"
)

// TokenVerifier resolves a bearer token to a user id. Implemented by the
// auth service.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Deps groups the module handlers the server mounts.
type Deps struct {
	Auth          *authhandlers.Handler
	Watchlist     *watchlisthandlers.Handler
	Thresholds    *thresholdhandlers.Handler
	Events        *eventhandlers.Handler
	Feedback      *feedbackhandlers.Handler
	Reports       *reporthandlers.Handler
	Notifications *notificationhandlers.Handler
	Briefs        *briefhandlers.Handler
	Compare       *comparehandlers.Handler
}

// Config holds server configuration.
type Config struct {
	Log      zerolog.Logger
	DB       *database.DB
	Cfg      *config.Config
	IDs      clock.IDs
	Verifier TokenVerifier
	Gatherer prometheus.Gatherer
	Deps     Deps
}

// Server represents the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	db       *database.DB
	cfg      *config.Config
	ids      clock.IDs
	verifier TokenVerifier
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		db:       cfg.DB,
		cfg:      cfg.Cfg,
		ids:      cfg.IDs,
		verifier: cfg.Verifier,
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.Deps, cfg.Gatherer)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures the shared middleware stack. Order matters:
// the request id must exist before anything logs or errors.
func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(s.cfg.AllowedCORSPorts),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// corsOrigins pairs localhost and 127.0.0.1 for every configured port.
func corsOrigins(ports []int) []string {
	origins := make([]string, 0, len(ports)*2)
	for _, port := range ports {
		origins = append(origins,
			fmt.Sprintf("http://localhost:%d", port),
			fmt.Sprintf("http://127.0.0.1:%d", port))
	}
	return origins
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes(deps Deps, gatherer prometheus.Gatherer) {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/health/db", s.handleHealthDB)
	s.router.Get("/health/system", s.handleHealthSystem)
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			deps.Auth.Routes(r)
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/me", deps.Auth.HandleMe)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/symbols/search", deps.Watchlist.HandleSymbolSearch)
			r.Route("/watchlists", deps.Watchlist.Routes)
			r.Route("/thresholds", deps.Thresholds.Routes)

			r.Route("/events", func(r chi.Router) {
				r.Get("/", deps.Events.HandleList)
				r.Get("/{id}", deps.Events.HandleDetail)
				r.Post("/{id}/feedback", deps.Feedback.HandleVote)
				r.Post("/{id}/reason-reports", deps.Reports.HandleFile)
				r.Get("/{id}/reason-revisions", deps.Reports.HandleRevisions)
				r.Get("/{id}/evidence-compare", deps.Compare.HandleGet)
			})
			r.Patch("/reason-reports/{id}/status", deps.Reports.HandleAdvance)
			r.Get("/feedback/aggregate", deps.Feedback.HandleAggregate)

			r.Mount("/notifications", deps.Notifications.Routes())
			r.Mount("/briefs", deps.Briefs.Routes())
		})
	})
}

// Handler exposes the router for httptest-based tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
