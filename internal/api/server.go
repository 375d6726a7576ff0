// Package api serves agent history and a manual cycle trigger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"liquidAgent/internal/history"
	"liquidAgent/internal/metrics"
	"liquidAgent/internal/model"
	"liquidAgent/internal/orchestrator"
	"liquidAgent/internal/vault"
)

const (
	defaultLimit = 10
	maxLimit     = 1000
)

// Orchestrator is the part of the orchestrator the API drives.
type Orchestrator interface {
	Status() model.Status
	Trigger(ctx context.Context) (model.CycleOutcome, error)
}

// Server exposes read-only history and a manual trigger.
type Server struct {
	router  *mux.Router
	addr    string
	store   *history.Store
	orch    Orchestrator
	ledger  vault.Ledger
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewServer wires routes. ledger and m may be nil.
func NewServer(addr string, store *history.Store, orch Orchestrator, ledger vault.Ledger, m *metrics.Metrics, logger *zap.Logger) *Server {
	if addr == "" {
		addr = ":8080"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:  mux.NewRouter(),
		addr:    addr,
		store:   store,
		orch:    orch,
		ledger:  ledger,
		metrics: m,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/observations", s.handleObservations).Methods("GET")
	api.HandleFunc("/strategies", s.handleStrategies).Methods("GET")
	api.HandleFunc("/executions", s.handleExecutions).Methods("GET")
	api.HandleFunc("/cycles", s.handleCycles).Methods("GET")
	api.HandleFunc("/cycles", s.handleTrigger).Methods("POST")
	api.HandleFunc("/proposals/pending", s.handlePendingProposals).Methods("GET")

	s.router.Use(s.loggingMiddleware)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		// POST /api/cycles blocks until the cycle, including confirmations, ends.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", zap.String("addr", s.addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshots.Latest(limit))
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Strategies.Latest(limit))
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Executions.Latest(limit))
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Cycles.Latest(limit))
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not configured")
		return
	}
	outcome, err := s.orch.Trigger(r.Context())
	switch {
	case errors.Is(err, orchestrator.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Warn("manual cycle aborted", zap.String("cycle_id", outcome.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handlePendingProposals(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	pending, err := vault.PendingProposals(r.Context(), s.ledger)
	if err != nil {
		s.logger.Error("list pending proposals failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read proposals")
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]interface{}{
		"error":   true,
		"message": message,
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapper.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
