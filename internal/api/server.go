// Package api exposes the manager's operations over HTTP for the backup
// pipeline, operational tooling, and dashboards.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mariia-platform/backupd/internal/config"
	"github.com/mariia-platform/backupd/internal/engine"
	"github.com/mariia-platform/backupd/internal/metrics"
	"github.com/mariia-platform/backupd/internal/state"
)

// maxArtifactBytes bounds a single submitted artifact payload.
const maxArtifactBytes = 10 << 30

type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	manager    *engine.Manager
	router     chi.Router
	httpServer *http.Server
	limiter    *rate.Limiter
	startTime  time.Time

	maxBodyBytes int64
}

// NewServer builds the HTTP surface around a manager.
func NewServer(cfg *config.Config, manager *engine.Manager, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		manager:   manager,
		limiter:      rate.NewLimiter(rate.Limit(cfg.Server.RatePerSecond), cfg.Server.RateBurst),
		startTime:    time.Now(),
		maxBodyBytes: maxArtifactBytes,
	}

	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/artifacts/{artifactID}/distribute", s.handleDistribute)
		r.Post("/artifacts/{artifactID}/verify", s.handleVerify)
		r.Post("/health/probe", s.handleProbe)
		r.Post("/failover", s.handleFailover)
		r.Get("/cost", s.handleCost)
		r.Get("/state", s.handleState)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 24 * time.Hour, // distribute blocks for the upload duration
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")

	// An oversized payload is rejected outright, never truncated: a partial
	// body would distribute and checksum as a valid artifact.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("artifact payload exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("read artifact payload: %w", err))
		return
	}

	strategy := engine.Strategy(r.URL.Query().Get("strategy"))
	if strategy == "" {
		strategy = engine.StrategyBalanced
	}

	spec := engine.ArtifactSpec{
		ID:             artifactID,
		Name:           r.URL.Query().Get("name"),
		Kind:           state.ArtifactKind(r.URL.Query().Get("kind")),
		SourceChecksum: r.Header.Get("X-Content-Sha256"),
	}

	result, err := s.manager.Distribute(r.Context(), spec, data, strategy)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, engine.ErrInsufficientHealthyBackends):
			status = http.StatusServiceUnavailable
		case engine.IsIntegrityError(err):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, engine.ErrStateStoreUnavailable):
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")

	result, err := s.manager.VerifyConsistency(r.Context(), artifactID)
	switch {
	case errors.Is(err, engine.ErrUnknownArtifact):
		writeError(w, http.StatusNotFound, err)
	case engine.IsIntegrityError(err):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.ProbeHealth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type failoverRequest struct {
	BackendID string `json:"backend_id"`
	Reason    string `json:"reason"`
}

func (s *Server) handleFailover(w http.ResponseWriter, r *http.Request) {
	var req failoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.BackendID == "" {
		writeError(w, http.StatusBadRequest, errors.New("backend_id is required"))
		return
	}
	if req.Reason == "" {
		req.Reason = "manual failover"
	}

	ev, err := s.manager.Failover(r.Context(), req.BackendID, req.Reason)
	switch {
	case errors.Is(err, engine.ErrUnknownBackend):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrAllBackendsUnhealthy):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, ev)
	}
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.CostSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.StrategyReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
