// Package api provides the admin HTTP server for settle: health, the last
// tick report, manual ticks and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/xraph/settle"
	"github.com/xraph/settle/tick"
)

// Engine is the slice of *settle.Reconciler the server exposes.
type Engine interface {
	Health(ctx context.Context) error
	Tick(ctx context.Context) (*tick.Report, error)
	LastReport() *tick.Report
	Running() bool
	Started() bool
}

// Compile-time check against the concrete engine.
var _ Engine = (*settle.Reconciler)(nil)

// Server is the admin HTTP API.
type Server struct {
	engine   Engine
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves /metrics from g. Without it /metrics is not mounted.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version reported by /version.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithTickTimeout bounds a manual tick request.
func WithTickTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer creates a new API server.
func NewServer(e Engine, opts ...Option) *Server {
	s := &Server{
		engine:  e,
		logger:  slog.Default(),
		version: "dev",
		timeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the chi router with all routes mounted, wrapped in CORS.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
	})
	r.Post("/ticks", s.handleTick)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(r)
}

type statusResponse struct {
	Started    bool         `json:"started"`
	Running    bool         `json:"running"`
	LastReport *tick.Report `json:"last_report,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Started:    s.engine.Started(),
		Running:    s.engine.Running(),
		LastReport: s.engine.LastReport(),
	})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	report, err := s.engine.Tick(ctx)
	switch {
	case errors.Is(err, settle.ErrTickInProgress):
		writeError(w, http.StatusConflict, err)
	case settle.IsRetryable(err), errors.Is(err, settle.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
