// Package server exposes the pipeline over HTTP: upload PDFs, run the
// two-phase pass, stream progress over a websocket and scrape prometheus
// metrics. One run executes at a time; concurrent uploads queue on the
// run mutex so the neural models are never loaded twice.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/scholardoc/internal/config"
	"github.com/MeKo-Tech/scholardoc/internal/events"
	"github.com/MeKo-Tech/scholardoc/internal/pipeline"
	"github.com/MeKo-Tech/scholardoc/internal/types"
)

// Runner executes one pipeline pass. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, inputFiles []string) (*types.BatchResult, error)
}

// RunnerFactory builds a runner for one request. The config carries the
// request's output directory; the callback streams events to websocket
// subscribers.
type RunnerFactory func(cfg config.Config, cb events.Callback) Runner

// Server holds the HTTP server state and dependencies.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	newRunner  RunnerFactory
	hub        *Hub
	limiter    *RateLimiter
	runMu      sync.Mutex
	keepOutput bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRunnerFactory replaces the pipeline constructor.
func WithRunnerFactory(f RunnerFactory) Option {
	return func(s *Server) { s.newRunner = f }
}

// WithKeepOutput retains per-request output directories instead of
// removing them after the response is written.
func WithKeepOutput() Option {
	return func(s *Server) { s.keepOutput = true }
}

// NewServer creates an OCR server from configuration.
func NewServer(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		hub:    NewHub(),
		newRunner: func(cfg config.Config, cb events.Callback) Runner {
			return pipeline.New(cfg, pipeline.WithCallback(cb))
		},
	}
	if cfg.Server.RequestsPerMinute > 0 || cfg.Server.MaxDataPerDayMB > 0 {
		s.limiter = NewRateLimiter(cfg.Server.RequestsPerMinute, cfg.Server.MaxDataPerDayMB*1024*1024)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ocr", s.corsMiddleware(s.rateLimitMiddleware(s.ocrHandler)))
	mux.HandleFunc("/healthz", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/ws/progress", s.progressWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// ListenAndServe runs the server until the context is canceled, then
// shuts down gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// An OCR run over a large batch legitimately takes a long time,
		// so the write timeout tracks the request timeout.
		WriteTimeout: time.Duration(s.cfg.Server.TimeoutSec+30) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(s.cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	s.logger.Info("shutting down server")
	s.hub.CloseAll()
	return srv.Shutdown(shutdownCtx)
}
