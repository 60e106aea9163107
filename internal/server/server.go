// Package server exposes shard metadata and sampled correspondence examples
// over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/avcorr/internal/queue"
	"github.com/devrev/avcorr/internal/selection"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds HTTP server configuration
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxSamples caps the n query parameter of sample requests.
	MaxSamples int
	// Sample is the template every sample request starts from.
	Sample selection.SampleOptions
}

// Server represents the HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	handlers   *Handlers
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	cfg        Config
}

// NewServer creates a new HTTP server. q may be nil, in which case queue
// routes report the queue as unavailable.
func NewServer(cfg Config, sel *selection.RawVideoSelection, q *queue.RedisSampleQueue, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 1000
	}
	router := mux.NewRouter()

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handlers: NewHandlers(sel, q, cfg.Sample, cfg.MaxSamples, logger),
		gatherer: gatherer,
		logger:   logger,
		cfg:      cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(Recovery(s.logger), RequestID, Logging(s.logger))

	// Health check endpoints
	s.router.HandleFunc("/health", s.handlers.Liveness).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handlers.Readiness).Methods(http.MethodGet)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// API v1 routes
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/describe", s.handlers.Describe).Methods(http.MethodGet)
	v1.HandleFunc("/shards", s.handlers.ListShards).Methods(http.MethodGet)
	v1.HandleFunc("/videos/{shard_id}/{video_id}", s.handlers.GetVideo).Methods(http.MethodGet)
	v1.HandleFunc("/samples", s.handlers.StreamSamples).Methods(http.MethodGet)
	v1.HandleFunc("/samples/queue", s.handlers.QueueSamples).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found", r.Header.Get("X-Request-ID"))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "INVALID_REQUEST", "method not allowed", r.Header.Get("X-Request-ID"))
	})
}

// Handler returns the http.Handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
