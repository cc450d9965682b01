// Package server exposes the ingestion engine over HTTP: the public
// webhook ingress for push pipelines, and a workspace-scoped admin API
// for pipelines, field mappings, and run logs.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/inlethq/inlet/ingest"
	"github.com/inlethq/inlet/queue"
)

// Server wires the stores, job queue, and scheduler behind an HTTP mux.
type Server struct {
	pipelines *ingest.PipelineStore
	mappings  *ingest.MappingStore
	logs      *ingest.LogStore
	queue     *queue.Queue
	scheduler *ingest.PullScheduler

	// Per-pipeline webhook throttles, created on first delivery.
	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex

	httpServer *http.Server
	logger     *zap.SugaredLogger
}

// NewServer creates the HTTP server. It does not start listening.
func NewServer(
	pipelines *ingest.PipelineStore,
	mappings *ingest.MappingStore,
	logs *ingest.LogStore,
	q *queue.Queue,
	scheduler *ingest.PullScheduler,
	log *zap.SugaredLogger,
) *Server {
	return &Server{
		pipelines: pipelines,
		mappings:  mappings,
		logs:      logs,
		queue:     q,
		scheduler: scheduler,
		limiters:  make(map[string]*rate.Limiter),
		logger:    log.Named("server"),
	}
}

// Routes builds the request mux. Exposed separately from Start so tests
// can drive it through httptest.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Public webhook ingress
	mux.HandleFunc("/ingestion/", s.HandleWebhook)

	// Workspace-scoped admin API
	mux.HandleFunc("/api/ingestion/pipelines", s.HandlePipelines)
	mux.HandleFunc("/api/ingestion/pipelines/", s.HandlePipeline)
	mux.HandleFunc("/api/ingestion/mappings/", s.HandleMapping)

	mux.HandleFunc("/health", s.HandleHealth)

	return mux
}

// Start listens on the given port and blocks until the server stops.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Infow("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
