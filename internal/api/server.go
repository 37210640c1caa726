package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/sketchar/internal/events"
	"github.com/mattjoyce/sketchar/internal/generate"
	"github.com/mattjoyce/sketchar/internal/jobs"
	"github.com/mattjoyce/sketchar/internal/metrics"
	"github.com/mattjoyce/sketchar/internal/vision"
)

// Generator runs image-to-model jobs.
type Generator interface {
	Run(ctx context.Context, req generate.Request) (*generate.Result, error)
	Busy() bool
}

// Detector finds objects in images.
type Detector interface {
	Available() bool
	Detect(ctx context.Context, image []byte) (*vision.Result, error)
}

// JobReader defines read access to the job log.
type JobReader interface {
	Get(ctx context.Context, jobID string) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]*jobs.Job, error)
}

// Config holds API server configuration
type Config struct {
	Listen         string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	// WriteTimeout bounds POST /image_to_ar/ and must outlive a job.
	WriteTimeout   time.Duration
	PublishedPath  string
	PublicURL      string
	DefaultBackend string
	Backends       []string
	// RetryAfter is advertised to clients rejected while a job runs.
	RetryAfter time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	generator Generator
	detector  Detector
	jobs      JobReader
	events    *events.Hub
	metrics   *metrics.Collector
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. detector, jobs, hub and m may be nil.
func New(config Config, generator Generator, detector Detector, jobs JobReader, hub *events.Hub, m *metrics.Collector, logger *slog.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 20 << 20
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = 30 * time.Second
	}
	if hub == nil {
		hub = events.NewHub(64)
	}
	return &Server{
		config:    config,
		generator: generator,
		detector:  detector,
		jobs:      jobs,
		events:    hub,
		metrics:   m,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
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

// glbContentType is the registered media type for binary glTF; Go's mime
// table does not know .glb.
const glbContentType = "model/gltf-binary"

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/image_to_ar/", s.handleImageToAR)
	r.Post("/detect_objects/", s.handleDetectObjects)

	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Get("/events", s.handleEvents)

	if s.config.PublishedPath != "" && s.config.PublicURL != "" {
		prefix := strings.TrimSuffix(path.Dir(s.config.PublicURL), "/") + "/"
		files := http.StripPrefix(prefix, http.FileServer(http.Dir(filepath.Dir(s.config.PublishedPath))))
		r.Get(prefix+"*", func(w http.ResponseWriter, r *http.Request) {
			// The artifact is replaced in place by every job.
			w.Header().Set("Cache-Control", "no-store")
			if strings.EqualFold(path.Ext(r.URL.Path), ".glb") {
				w.Header().Set("Content-Type", glbContentType)
			}
			files.ServeHTTP(w, r)
		})
	}

	return r
}

// loggingMiddleware logs HTTP requests and records request metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
