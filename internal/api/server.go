package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/celergeo/internal/events"
	"github.com/mattjoyce/celergeo/internal/geo"
	"github.com/mattjoyce/celergeo/internal/history"
	"github.com/mattjoyce/celergeo/internal/model"
)

//go:generate mockgen -destination=mocks/mock_session.go -package=mocks github.com/mattjoyce/celergeo/internal/api Session,TraceHistory

// Session is the live geometry session served by the API.
type Session interface {
	ID() string
	Setup() model.ModelSetup
	Exited() bool
	Trace(ctx context.Context, req geo.TraceRequest) (*geo.TraceResult, error)
	OrangeStats(ctx context.Context) (model.OrangeParamsOutput, error)
}

// TraceHistory stores and serves completed traces.
type TraceHistory interface {
	Record(ctx context.Context, sessionID string, result *geo.TraceResult) (*history.TraceRecord, error)
	Get(ctx context.Context, id string) (*history.TraceRecord, error)
	List(ctx context.Context, limit int) ([]*history.TraceRecord, error)
	Image(ctx context.Context, id string) ([]byte, *history.TraceRecord, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey, when non-empty, guards POST /trace and GET /events.
	APIKey string
	// RequestTimeout bounds each engine request made on behalf of a client.
	RequestTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	session   Session
	history   TraceHistory
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// engineMu keeps a trace and its history record together.
	engineMu sync.Mutex
}

// New creates a new API server instance
func New(config Config, session Session, history TraceHistory, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		session:   session,
		history:   history,
		events:    events.NewHub(256),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Events returns the hub streamed on GET /events.
func (s *Server) Events() *events.Hub { return s.events }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // Traces of large images can be slow
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "session_id", s.session.ID())

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		// Shutdown waits for open handlers; end the event streams first.
		s.events.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/setup", s.handleSetup)
	r.Get("/stats", s.handleStats)
	r.Get("/traces", s.handleListTraces)
	r.Get("/traces/{traceID}", s.handleGetTrace)
	r.Get("/traces/{traceID}/image", s.handleTraceImage)

	r.Group(func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(s.authMiddleware)
		}
		r.Post("/trace", s.handleTrace)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
