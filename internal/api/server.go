package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"invoice-collector/internal/collector"
	"invoice-collector/internal/idempotency"
	"invoice-collector/internal/ledger"
	"invoice-collector/internal/models"
	"invoice-collector/internal/ratelimit"
	"invoice-collector/internal/telemetry"
)

// Runner performs one collection.
type Runner interface {
	Run(ctx context.Context, key string) (collector.Outcome, error)
}

// AuditReader exposes a session's event trail.
type AuditReader interface {
	AuditTrail(ctx context.Context, sessionID string) ([]models.AuditEvent, error)
}

// Server exposes the session ledger, the idempotency cache and a run trigger.
// Only one run executes at a time.
type Server struct {
	runner  Runner
	ledger  *ledger.Ledger
	cache   *idempotency.Cache
	audit   AuditReader
	limiter *ratelimit.TokenBucket
	logger  *slog.Logger

	busy   atomic.Bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs the API server. Any collaborator may be nil; the routes that
// need it then answer 501.
func New(runner Runner, l *ledger.Ledger, c *idempotency.Cache, audit AuditReader, limiter *ratelimit.TokenBucket, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:  runner,
		ledger:  l,
		cache:   c,
		audit:   audit,
		limiter: limiter,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.busy.Load()})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Get("/sessions/{id}/completed", s.handleSessionCompleted)
	r.Get("/sessions/{id}/audit", s.handleAudit)
	r.Get("/replay/{key}", s.handleReplay)
	r.Post("/runs", s.handleRun)
	return r
}

// Close cancels an in-flight run and waits for it to finish recording.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until no run is executing.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "session ledger disabled", http.StatusNotImplemented)
		return
	}
	sessions, err := s.ledger.List(r.Context())
	if err != nil {
		http.Error(w, "failed to read sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "session ledger disabled", http.StatusNotImplemented)
		return
	}
	session, err := s.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ledger.ErrSessionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to read session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionCompleted(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "session ledger disabled", http.StatusNotImplemented)
		return
	}
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"completed":  s.ledger.CheckSessionCompleted(r.Context(), id),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		http.Error(w, "audit trail requires the postgres ledger", http.StatusNotImplemented)
		return
	}
	events, err := s.audit.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "failed to read audit trail", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, "idempotency cache disabled", http.StatusNotImplemented)
		return
	}
	summary, ok := s.cache.MaybeReplay(r.Context(), chi.URLParam(r, "key"))
	if !ok {
		http.Error(w, "no valid entry for key", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(summary)
}

type runResponse struct {
	Status         string          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Summary        json.RawMessage `json:"summary,omitempty"`
}

// handleRun starts a collection in the background. A fresh cached result for
// the key is answered directly.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, "collector disabled", http.StatusNotImplemented)
		return
	}
	key := r.Header.Get("Idempotency-Key")

	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), tenantFromRequest(r))
		if err != nil {
			s.logger.Error("rate limiter unavailable", "error", err)
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !d.Allowed {
			telemetry.RunRateLimited.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	if s.cache != nil {
		if summary, ok := s.cache.MaybeReplay(r.Context(), key); ok {
			writeJSON(w, http.StatusOK, runResponse{Status: "replayed", IdempotencyKey: key, Summary: summary})
			return
		}
	}

	if !s.busy.CompareAndSwap(false, true) {
		http.Error(w, "a collection run is already in progress", http.StatusConflict)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		out, err := s.runner.Run(s.ctx, key)
		if err != nil {
			s.logger.Error("collection run failed", "key", key, "error", err)
			return
		}
		s.logger.Info("collection run finished", "key", key,
			"replayed", out.Replayed, "invoices", out.Summary.InvoicesCollected)
	}()

	writeJSON(w, http.StatusAccepted, runResponse{Status: "started", IdempotencyKey: key})
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
