// Package api provides the HTTP API for pricing normalization, budget
// fitting, SOW assembly and quote review.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sow-pricing/db/clickhouse"
	"sow-pricing/decision/ratecard"
	"sow-pricing/decision/review"
	"sow-pricing/decision/sow"
	"sow-pricing/internal/ratecards"
	qerrors "sow-pricing/pkg/errors"
	"sow-pricing/pkg/platform"
)

// AuditRecorder stores priced runs. Recording failures never fail a request.
type AuditRecorder interface {
	RecordRun(ctx context.Context, run clickhouse.QuoteRun, warnings []clickhouse.QuoteWarning) error
}

// RunLister lists recorded runs of a workspace.
type RunLister interface {
	GetRun(ctx context.Context, id uuid.UUID) (*clickhouse.QuoteRun, error)
	ListRuns(ctx context.Context, workspace string, limit int) ([]*clickhouse.QuoteRun, error)
	WarningCounts(ctx context.Context, workspace string) (map[string]int, error)
}

// RateCardWriter replaces entries of a workspace rate card.
type RateCardWriter interface {
	UpsertEntries(ctx context.Context, workspaceID string, entries []ratecard.Entry) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	config     *Config
	logger     zerolog.Logger

	rateCards ratecards.Source
	writer    RateCardWriter
	audit     AuditRecorder
	pingers   map[string]Pinger
	builder   *sow.Builder
	review    *review.Engine
}

// Config holds server configuration
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxRequestSize int64
	CORSOrigins    []string
	APIKey         string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxRequestSize: 2 * 1024 * 1024, // 2MB
		CORSOrigins:    []string{"*"},
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRateCards sets the source used when a request carries no rate card.
func WithRateCards(src ratecards.Source) Option {
	return func(s *Server) { s.rateCards = src }
}

// WithRateCardWriter enables rate card updates over the API.
func WithRateCardWriter(w RateCardWriter) Option {
	return func(s *Server) { s.writer = w }
}

// WithAudit records every priced table.
func WithAudit(a AuditRecorder) Option {
	return func(s *Server) { s.audit = a }
}

// WithPinger adds a dependency checked by /ready.
func WithPinger(name string, p Pinger) Option {
	return func(s *Server) { s.pingers[name] = p }
}

// NewServer creates a new API server
func NewServer(config *Config, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:  config,
		logger:  zerolog.Nop(),
		pingers: make(map[string]Pinger),
		review:  review.NewEngine(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.rateCards == nil {
		s.rateCards = ratecards.NewDefaultSource()
	}
	s.builder = sow.NewBuilder(sow.WithLogger(s.logger))
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
	}
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(platform.APIKeyMiddleware(s.config.APIKey))
		if s.config.MaxRequestSize > 0 {
			r.Use(middleware.RequestSize(s.config.MaxRequestSize))
		}

		r.Post("/pricing/normalize", s.handleNormalize)
		r.Post("/pricing/fit", s.handleFit)
		r.Post("/sow", s.handleSOW)
		r.Post("/review", s.handleReview)

		r.Get("/ratecards/{workspace}", s.handleGetRateCard)
		r.Put("/ratecards/{workspace}", s.handlePutRateCard)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Int("port", s.config.Port).Msg("Pricing API server starting")
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown starts server with graceful shutdown handling
func (s *Server) StartWithGracefulShutdown() error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
		s.logger.Info().Msg("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, o := range s.config.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
			s.jsonError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{
		"error": message,
	})
}

// quoteError writes a structured error with a status derived from its code.
func (s *Server) quoteError(w http.ResponseWriter, err *qerrors.QuoteError) {
	status := http.StatusInternalServerError
	switch err.Code {
	case qerrors.ErrCodeInvalidPayload:
		status = http.StatusBadRequest
	case qerrors.ErrCodeRateCardUnavailable:
		status = http.StatusBadGateway
	case qerrors.ErrCodePolicyViolation:
		status = http.StatusUnprocessableEntity
	}
	s.logger.WithLevel(err.Severity.LogLevel()).Err(err.Err).Str("code", err.Code).Msg(err.Message)
	s.jsonResponse(w, status, map[string]any{
		"error":   err.Message,
		"details": err,
	})
}
