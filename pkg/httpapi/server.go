// Package httpapi exposes pkg/engine over HTTP: batch submission, job
// status polling, a live per-commit WebSocket feed, and a Prometheus
// metrics endpoint. Grounded on the teacher's pkg/server, trimmed to this
// engine's surface (no document storage, no GraphQL, no TLS config).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mnohosten/blockstm/pkg/engine"
	"github.com/mnohosten/blockstm/pkg/metrics"
)

// Server is the HTTP server exposing pkg/engine.
type Server struct {
	config    *Config
	router    *chi.Mux
	httpSrv   *http.Server
	startTime time.Time
	jobs      *jobManager
	resources *metrics.ResourceTracker

	baseConfig engine.Config // defaults applied to every submitted batch
}

// New creates a Server. baseConfig supplies the engine defaults (worker
// count, signature verification) every submitted batch starts from;
// per-request fields (NumThreads, VerifySignatures) may override it.
func New(config *Config, baseConfig engine.Config) *Server {
	s := &Server{
		config:     config,
		router:     chi.NewRouter(),
		startTime:  time.Now(),
		jobs:       newJobManager(),
		resources:  metrics.NewResourceTracker(nil),
		baseConfig: baseConfig,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/_health", s.handleHealth)
	s.router.Get("/_metrics", s.handleMetrics)

	s.router.Post("/batches", s.handleSubmitBatch)
	s.router.Get("/batches/{id}", s.handleGetBatch)
	s.router.Get("/batches/{id}/commits", s.handleWatchBatch)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{
		"uptimeSeconds": time.Since(s.startTime).Seconds(),
		"resources":     s.resources.GetStats(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	id := r.URL.Query().Get("batch")
	job, ok := s.jobs.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no such batch: %q", id))
		return
	}

	status, committed, total := job.snapshot()
	exp := metrics.NewEngineExporter(func() engine.SchedulerStats {
		return engine.SchedulerStats{Committed: committed, Pending: total - committed}
	})
	_ = status
	if err := exp.WriteMetrics(w); err != nil {
		http.Error(w, fmt.Sprintf("error writing metrics: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	txs, initial, err := req.toBatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	cfg := s.baseConfig
	if req.NumThreads > 0 {
		cfg.NumThreads = req.NumThreads
	}
	cfg.VerifySignatures = req.VerifySignatures

	job, err := s.jobs.submit(txs, initial, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ok": true,
		"id": job.id,
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no such batch: %q", id))
		return
	}

	status, committed, total := job.snapshot()
	resp := map[string]interface{}{
		"id":        job.id,
		"status":    status,
		"committed": committed,
		"total":     total,
	}

	job.mu.RLock()
	if status == jobDone {
		resp["result"] = toBatchResultResponse(job.result)
	}
	if status == jobFailed {
		resp["error"] = job.err.Error()
	}
	job.mu.RUnlock()

	writeSuccess(w, resp)
}

func (s *Server) handleWatchBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no such batch: %q", id))
		return
	}
	s.handleCommitStream(job)(w, r)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	defer s.resources.Close()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("httpapi: server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, errorType, message string) {
	writeJSON(w, statusCode, map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, result interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
	})
}
