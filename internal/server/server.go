// Package server provides the diagnostics HTTP API for the state store.
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
	"github.com/rs/zerolog"

	"github.com/amats/amats/internal/config"
	"github.com/amats/amats/internal/database"
	"github.com/amats/amats/internal/docstore"
	"github.com/amats/amats/internal/events"
	"github.com/amats/amats/internal/metrics"
	"github.com/amats/amats/internal/statestore"
)

// Store is the part of the state store the API serves
type Store interface {
	State() statestore.State
	Err() error
	Ping(ctx context.Context) error
	AppendTradeRecord(ctx context.Context, r statestore.TradeRecord) (string, error)
	PutStrategyState(ctx context.Context, strategyID string, doc docstore.Document) error
	GetStrategyState(ctx context.Context, strategyID string) (docstore.Document, bool, error)
	DeleteStrategyState(ctx context.Context, strategyID string) error
	ListTrades(ctx context.Context, f statestore.TradeFilter) ([]statestore.TradeRecord, error)
}

// Config holds server configuration
type Config struct {
	Log      zerolog.Logger
	Config   *config.Config
	Store    Store
	Database *database.DB        // local store database, nil with the firestore backend
	Gatherer prometheus.Gatherer // nil disables /metrics
	Events   *events.Bus         // nil disables /api/events/stream
	Port     int
	DevMode  bool
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	store          Store
	port           int
	gatherer       prometheus.Gatherer
	systemHandlers *SystemHandlers
	logHandlers    *LogHandlers
	eventsStream   *EventsStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Config,
		store:          cfg.Store,
		port:           cfg.Port,
		gatherer:       cfg.Gatherer,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.Store, cfg.Database),
		logHandlers:    NewLogHandlers(cfg.Log, cfg.Config.Logging.File),
	}
	if cfg.Events != nil {
		s.eventsStream = NewEventsStreamHandler(cfg.Events, cfg.Log)
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	timeout := middleware.Timeout(60 * time.Second)

	s.router.With(timeout).Get("/health", s.handleHealth)

	if s.gatherer != nil {
		s.router.With(timeout).Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
	}

	s.router.Route("/api", func(r chi.Router) {
		// Event stream (long-lived, no request timeout)
		if s.eventsStream != nil {
			r.Get("/events/stream", s.eventsStream.ServeHTTP)
		}

		r = r.With(timeout)
		r.Get("/config", s.handleConfig)

		// System monitoring
		r.Get("/system", s.systemHandlers.HandleSystemStatus)
		r.Get("/system/database", s.systemHandlers.HandleDatabaseStats)

		// Logs
		r.Get("/logs", s.logHandlers.HandleGetLogs)
		r.Get("/logs/errors", s.logHandlers.HandleGetErrors)

		// Strategy state
		r.Get("/strategies/{id}/state", s.handleGetStrategyState)
		r.Put("/strategies/{id}/state", s.handlePutStrategyState)
		r.Delete("/strategies/{id}/state", s.handleDeleteStrategyState)

		// Trade history
		r.Get("/trades", s.handleListTrades)
		r.Post("/trades", s.handleAppendTrade)
	})
}

// Handler returns the root handler; used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
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
