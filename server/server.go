// Package server exposes the health, statistics and control endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tickettoken/ticket-indexer/database"
	"github.com/tickettoken/ticket-indexer/indexer"
	"github.com/tickettoken/ticket-indexer/ledger"
	"github.com/tickettoken/ticket-indexer/logger"
	"github.com/tickettoken/ticket-indexer/onchain"
	"github.com/tickettoken/ticket-indexer/reconciliation"
)

const (
	MaxSlotLag             = 10000
	defaultRecentActivity  = 20
	maxRecentActivity      = 200
	maxUnresolvedListed    = 100
	maxHistoryLimit        = 100
	healthCheckTimeout     = 5 * time.Second
	shutdownTimeout        = 10 * time.Second
	statusHealthy          = "healthy"
	statusUnhealthy        = "unhealthy"
	indexerStatusRunning   = "running"
	indexerStatusStopped   = "stopped"
	indexerStatusLagging   = "lagging"
	indexerStatusUnhealthy = "unhealthy"
)

type Store interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (*database.Stats, error)
	RecentActivity(ctx context.Context, limit int) ([]database.AssetEvent, error)
	UnresolvedDiscrepancies(ctx context.Context, limit int) ([]database.OwnershipDiscrepancy, error)
}

type SlotSource interface {
	GetSlot(ctx context.Context) (uint64, error)
}

type IngestionControl interface {
	Start() error
	Stop()
	Running() bool
}

type Reconciler interface {
	RunReconciliation(ctx context.Context) (*database.ReconciliationRun, error)
	ResolveDiscrepancy(ctx context.Context, id uint64, resolution string) (*database.OwnershipDiscrepancy, error)
	Status(ctx context.Context) (*reconciliation.Status, error)
}

// TokenInspector answers token questions straight from the ledger.
type TokenInspector interface {
	GetTokenState(ctx context.Context, tokenID string) (onchain.TokenState, error)
	VerifyOwnership(ctx context.Context, tokenID, expectedOwner string) (onchain.Verification, error)
	GetNFTMetadata(ctx context.Context, tokenID string) *onchain.NFTMetadata
	GetTransactionHistory(ctx context.Context, tokenID string, limit int) (iter.Seq[onchain.HistoryEntry], error)
}

type Deps struct {
	Store      Store
	Ledger     SlotSource
	Progress   *indexer.Progress
	Ingestion  IngestionControl
	Reconciler Reconciler
	Tokens     TokenInspector
	Gatherer   prometheus.Gatherer
}

type Server struct {
	deps Deps
}

func New(deps Deps) *Server {
	if deps.Progress == nil {
		deps.Progress = indexer.NewProgress()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	r.HandleFunc("/recent-activity", s.recentActivity).Methods(http.MethodGet)
	r.HandleFunc("/reconciliation/status", s.reconciliationStatus).Methods(http.MethodGet)
	r.HandleFunc("/reconciliation/run", s.runReconciliation).Methods(http.MethodPost)
	r.HandleFunc("/reconciliation/discrepancies/{id:[0-9]+}/resolve", s.resolveDiscrepancy).Methods(http.MethodPost)
	r.HandleFunc("/control/start", s.startIngestion).Methods(http.MethodPost)
	r.HandleFunc("/control/stop", s.stopIngestion).Methods(http.MethodPost)
	if s.deps.Tokens != nil {
		r.HandleFunc("/tokens/{tokenId}", s.tokenState).Methods(http.MethodGet)
		r.HandleFunc("/tokens/{tokenId}/ownership", s.tokenOwnership).Methods(http.MethodGet)
		r.HandleFunc("/tokens/{tokenId}/history", s.tokenHistory).Methods(http.MethodGet)
	}
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Run serves on address until ctx is done.
func (s *Server) Run(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening on %s", address)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errChan; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type indexerHealth struct {
	Status            string `json:"status"`
	LastProcessedSlot uint64 `json:"lastProcessedSlot"`
	CurrentSlot       uint64 `json:"currentSlot,omitempty"`
	Lag               uint64 `json:"lag"`
}

type healthChecks struct {
	Database string        `json:"database"`
	Indexer  indexerHealth `json:"indexer"`
}

type healthResponse struct {
	Status    string       `json:"status"`
	Checks    healthChecks `json:"checks"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: statusHealthy, Timestamp: time.Now()}

	resp.Checks.Database = statusHealthy
	if err := s.deps.Store.Ping(ctx); err != nil {
		logger.Warn("Health: database: %s", err)
		resp.Checks.Database = statusUnhealthy
		resp.Status = statusUnhealthy
	}

	progress := s.deps.Progress.Snapshot()
	ix := indexerHealth{Status: indexerStatusStopped, LastProcessedSlot: progress.LastProcessedSlot}
	if s.deps.Ingestion != nil && s.deps.Ingestion.Running() {
		ix.Status = indexerStatusRunning
	}

	currentSlot, err := s.deps.Ledger.GetSlot(ctx)
	switch {
	case err != nil:
		logger.Warn("Health: ledger slot: %s", err)
		ix.Status = indexerStatusUnhealthy
		resp.Status = statusUnhealthy
	default:
		ix.CurrentSlot = currentSlot
		if currentSlot > progress.LastProcessedSlot {
			ix.Lag = currentSlot - progress.LastProcessedSlot
		}
		if ix.Lag > MaxSlotLag {
			ix.Status = indexerStatusLagging
			resp.Status = statusUnhealthy
		}
	}
	resp.Checks.Indexer = ix

	code := http.StatusOK
	if resp.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) recentActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, defaultRecentActivity, maxRecentActivity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.deps.Store.RecentActivity(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []database.AssetEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) reconciliationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Reconciler.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	unresolved, err := s.deps.Store.UnresolvedDiscrepancies(r.Context(), maxUnresolvedListed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if unresolved == nil {
		unresolved = []database.OwnershipDiscrepancy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"discrepancies": unresolved,
	})
}

// runReconciliation answers once the run has finished. The run is not tied
// to the request, so a disconnecting client does not cancel it.
func (s *Server) runReconciliation(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Reconciler.RunReconciliation(context.WithoutCancel(r.Context()))
	if run == nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := map[string]any{"run": run}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) resolveDiscrepancy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req resolveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid json"))
			return
		}
	}

	d, err := s.deps.Reconciler.ResolveDiscrepancy(r.Context(), id, req.Resolution)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) startIngestion(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Ingestion.Start(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": s.deps.Ingestion.Running()})
}

func (s *Server) stopIngestion(w http.ResponseWriter, _ *http.Request) {
	s.deps.Ingestion.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": s.deps.Ingestion.Running()})
}

func (s *Server) tokenState(w http.ResponseWriter, r *http.Request) {
	tokenID := mux.Vars(r)["tokenId"]
	state, err := s.deps.Tokens.GetTokenState(r.Context(), tokenID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := map[string]any{"tokenId": tokenID, "state": state}
	if state.Exists {
		resp["metadata"] = s.deps.Tokens.GetNFTMetadata(r.Context(), tokenID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) tokenOwnership(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if !ledger.IsValidAddress(owner) {
		writeError(w, http.StatusBadRequest, errors.New("owner must be a valid address"))
		return
	}

	verification, err := s.deps.Tokens.VerifyOwnership(r.Context(), mux.Vars(r)["tokenId"], owner)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

func (s *Server) tokenHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, onchain.DefaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	history, err := s.deps.Tokens.GetTransactionHistory(r.Context(), mux.Vars(r)["tokenId"], limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	entries := []onchain.HistoryEntry{}
	for entry := range history {
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func limitParam(r *http.Request, fallback, ceiling int) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(parsed, ceiling), nil
}

func writeLedgerError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrInvalidAddress) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusBadGateway, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error writing response: %s", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		logger.Error("HTTP %d: %s", code, err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
