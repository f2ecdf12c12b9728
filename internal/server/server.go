/**
 * HTTP surface for the document intelligence service
 *
 * - GET  /             pipeline page: model table and upload form
 * - POST /analyze      upload a document; stage progress is streamed back
 * - GET  /dashboard    Summary and NER Analysis tabs for the session
 * - GET  /api/results  the session's bundle as JSON
 * - DELETE /api/results  forget the session's bundle
 * - GET  /api/runs     recent runs from the run history
 * - GET  /health       liveness
 * - GET  /metrics      Prometheus metrics
 */

package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/adverant/nexus/docintel/internal/analysis"
	"github.com/adverant/nexus/docintel/internal/dashboard"
	"github.com/adverant/nexus/docintel/internal/logging"
	"github.com/adverant/nexus/docintel/internal/metrics"
	"github.com/adverant/nexus/docintel/internal/registry"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

// Config holds server settings
type Config struct {
	ListenAddr      string
	MaxUploadSize   int64
	SessionTTL      time.Duration
	DropTopCategory bool
	OCREngine       string
}

// Server serves the pipeline and dashboard pages
type Server struct {
	config    Config
	service   *analysis.Service
	models    *registry.Registry
	metrics   *metrics.Metrics
	templates *template.Template
	logger    *logging.Logger
	http      *http.Server
	checks    map[string]Pinger
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewServer creates the server; checks are pinged by /health.
func NewServer(cfg Config, service *analysis.Service, models *registry.Registry, m *metrics.Metrics, checks map[string]Pinger) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("analysis service is required")
	}
	if models == nil {
		return nil, fmt.Errorf("model registry is required")
	}
	if m == nil {
		m = metrics.New()
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		config:    cfg,
		service:   service,
		models:    models,
		metrics:   m,
		templates: tmpl,
		logger:    logging.NewLogger("Server"),
		checks:    checks,
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: /analyze streams for as long as the pipeline runs.
	}
	return s, nil
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.sessions)

		r.Get("/", s.handleIndex)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/dashboard", s.handleDashboard)

		r.Route("/api", func(r chi.Router) {
			r.Get("/results", s.handleResults)
			r.Delete("/results", s.handleClearResults)
			r.Get("/runs", s.handleRuns)
		})
	})

	return r
}

// Start serves until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.config.ListenAddr, "ocrEngine", s.config.OCREngine)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) dashboardOptions() dashboard.Options {
	return dashboard.Options{DropTopCategory: s.config.DropTopCategory}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"requestId", chimiddleware.GetReqID(r.Context()))
	})
}
