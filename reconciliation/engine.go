// Package reconciliation compares the derived token projection with what the
// ledger reports and records every difference as a discrepancy.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tickettoken/ticket-indexer/config"
	"github.com/tickettoken/ticket-indexer/database"
	"github.com/tickettoken/ticket-indexer/logger"
	"github.com/tickettoken/ticket-indexer/metrics"
	"github.com/tickettoken/ticket-indexer/onchain"
)

const (
	autoResolution   = "auto-resolved: projection updated from ledger state"
	manualResolution = "resolved manually"
	staleRunMessage  = "process restarted while the run was in progress"
)

var ErrCancelled = errors.New("reconciliation cancelled")

type Store interface {
	CreateRun(ctx context.Context, run *database.ReconciliationRun) error
	SaveRun(ctx context.Context, run *database.ReconciliationRun) error
	LatestRun(ctx context.Context) (*database.ReconciliationRun, error)
	FailStaleRuns(ctx context.Context, message string) (int64, error)
	TrackedTokens(ctx context.Context, afterID uint64, limit int) ([]database.Token, error)
	InsertDiscrepancy(ctx context.Context, d *database.OwnershipDiscrepancy) error
	ResolveDiscrepancy(ctx context.Context, id uint64, resolution string) (*database.OwnershipDiscrepancy, error)
	CountUnresolvedDiscrepancies(ctx context.Context) (int64, error)
	ApplyChainState(ctx context.Context, tokenID, owner string, burned bool) error
}

type StateReader interface {
	GetTokenState(ctx context.Context, tokenID string) (onchain.TokenState, error)
}

type Status struct {
	Running                 bool                        `json:"running"`
	LatestRun               *database.ReconciliationRun `json:"latestRun"`
	UnresolvedDiscrepancies int64                       `json:"unresolvedDiscrepancies"`
}

// flight is the run in progress. Callers that arrive while it is running wait
// on done and share its result.
type flight struct {
	done   chan struct{}
	cancel context.CancelFunc
	run    *database.ReconciliationRun
	err    error
}

type Engine struct {
	store   Store
	reader  StateReader
	params  config.ReconciliationConfig
	metrics metrics.Sink

	mu       sync.Mutex
	inflight *flight
}

func NewEngine(store Store, reader StateReader, params config.ReconciliationConfig, sink metrics.Sink) *Engine {
	if params.BatchSize <= 0 {
		params.BatchSize = config.DefaultReconciliationBatchSize
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Engine{store: store, reader: reader, params: params, metrics: sink}
}

// RunReconciliation checks every tracked token against the ledger. Only one
// run is active at a time: a call made while a run is in progress waits for
// it and returns its result.
func (e *Engine) RunReconciliation(ctx context.Context) (*database.ReconciliationRun, error) {
	e.mu.Lock()
	if f := e.inflight; f != nil {
		e.mu.Unlock()
		select {
		case <-f.done:
			return f.run, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	f := &flight{done: make(chan struct{}), cancel: cancel}
	e.inflight = f
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.inflight = nil
		e.mu.Unlock()
		close(f.done)
	}()

	f.run, f.err = e.execute(runCtx)
	return f.run, f.err
}

// Stop cancels the run in progress. It reports whether there was one.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight == nil {
		return false
	}
	e.inflight.cancel()
	return true
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight != nil
}

func (e *Engine) execute(ctx context.Context) (*database.ReconciliationRun, error) {
	run := &database.ReconciliationRun{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Status:    database.RunRunning,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		e.metrics.ReconciliationRun(database.RunFailed)
		return nil, fmt.Errorf("RunReconciliation: CreateRun: %w", err)
	}
	logger.Info("Reconciliation run %s started", run.RunID)

	err := e.reconcile(ctx, run)
	return run, e.finalize(ctx, run, err)
}

// finalize ends the run exactly once, also when ctx was cancelled.
func (e *Engine) finalize(ctx context.Context, run *database.ReconciliationRun, runErr error) error {
	now := time.Now()
	run.CompletedAt = &now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()

	if runErr != nil {
		message := runErr.Error()
		run.Status = database.RunFailed
		run.ErrorMessage = &message
	} else {
		run.Status = database.RunCompleted
	}

	if err := e.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("Reconciliation run %s cannot be finalized: %s", run.RunID, err)
		if runErr == nil {
			runErr = fmt.Errorf("RunReconciliation: SaveRun: %w", err)
		}
	}
	e.metrics.ReconciliationRun(run.Status)

	if runErr != nil {
		logger.Error("Reconciliation run %s failed after %d tokens: %s", run.RunID, run.TicketsChecked, runErr)
		return runErr
	}
	logger.Info(
		"Reconciliation run %s checked %d tokens, found %d discrepancies, resolved %d in %d milliseconds",
		run.RunID, run.TicketsChecked, run.DiscrepanciesFound, run.DiscrepanciesResolved, run.DurationMs,
	)
	return nil
}

func (e *Engine) reconcile(ctx context.Context, run *database.ReconciliationRun) error {
	var afterID uint64
	for {
		tokens, err := e.store.TrackedTokens(ctx, afterID, e.params.BatchSize)
		if ctx.Err() != nil {
			return ErrCancelled
		}
		if err != nil {
			return fmt.Errorf("TrackedTokens: %w", err)
		}

		for _, token := range tokens {
			if ctx.Err() != nil {
				return ErrCancelled
			}
			afterID = token.ID
			if err := e.checkToken(ctx, run, token); err != nil {
				if ctx.Err() != nil {
					return ErrCancelled
				}
				return err
			}
		}

		if len(tokens) < e.params.BatchSize {
			return nil
		}
	}
}

func (e *Engine) checkToken(ctx context.Context, run *database.ReconciliationRun, token database.Token) error {
	state, err := e.reader.GetTokenState(ctx, token.TokenID)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		logger.Warn("Reconciliation run %s skipping token %s: %s", run.RunID, token.TokenID, err)
		return nil
	}
	run.TicketsChecked++

	if d := Compare(token, state); d != nil {
		d.RunID = run.ID
		d.DetectedAt = time.Now()
		if err := e.store.InsertDiscrepancy(ctx, d); err != nil {
			return fmt.Errorf("InsertDiscrepancy: %w", err)
		}
		run.DiscrepanciesFound++
		e.metrics.DiscrepancyFound(d.DiscrepancyType)
		logger.Info("Token %s: %s (database %s, ledger %s)",
			token.TokenID, d.DiscrepancyType, deref(d.DatabaseOwner), deref(d.OnChainOwner))

		if e.params.AutoResolve {
			if err := e.autoResolve(ctx, token, state, d); err != nil {
				return err
			}
			run.DiscrepanciesResolved++
		}
	}

	if err := e.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("SaveRun: %w", err)
	}
	return nil
}

// Compare returns the discrepancy between the projection of a token and its
// ledger state, or nil when they agree. A token the projection already knows
// as burned is never reported.
func Compare(token database.Token, state onchain.TokenState) *database.OwnershipDiscrepancy {
	if token.Burned {
		return nil
	}
	verification := onchain.CheckOwnership(state, token.Owner)
	if verification.Valid {
		return nil
	}

	dbOwner := token.Owner
	d := &database.OwnershipDiscrepancy{TokenID: token.TokenID, DatabaseOwner: &dbOwner}
	if verification.ActualOwner != "" {
		actual := verification.ActualOwner
		d.OnChainOwner = &actual
	}

	switch verification.Reason {
	case onchain.ReasonTokenNotFound:
		d.DiscrepancyType = database.DiscrepancyTokenNotFound
	case onchain.ReasonTokenBurned:
		d.DiscrepancyType = database.DiscrepancyTokenBurnedNotReflected
	default:
		d.DiscrepancyType = database.DiscrepancyOwnershipMismatch
	}
	return d
}

func (e *Engine) autoResolve(
	ctx context.Context, token database.Token, state onchain.TokenState, d *database.OwnershipDiscrepancy,
) error {
	owner, burned := state.Owner, state.Burned
	if owner == "" {
		owner = token.Owner
	}
	if err := e.store.ApplyChainState(ctx, token.TokenID, owner, burned); err != nil {
		return fmt.Errorf("ApplyChainState: %w", err)
	}
	if _, err := e.store.ResolveDiscrepancy(ctx, d.ID, autoResolution); err != nil {
		return fmt.Errorf("ResolveDiscrepancy: %w", err)
	}
	return nil
}

// ResolveDiscrepancy marks a discrepancy as handled. Runs that reported it
// are left untouched.
func (e *Engine) ResolveDiscrepancy(
	ctx context.Context, id uint64, resolution string,
) (*database.OwnershipDiscrepancy, error) {
	if resolution == "" {
		resolution = manualResolution
	}
	d, err := e.store.ResolveDiscrepancy(ctx, id, resolution)
	if err != nil {
		return nil, fmt.Errorf("ResolveDiscrepancy %d: %w", id, err)
	}
	return d, nil
}

func (e *Engine) Status(ctx context.Context) (*Status, error) {
	latest, err := e.store.LatestRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}
	unresolved, err := e.store.CountUnresolvedDiscrepancies(ctx)
	if err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}
	return &Status{Running: e.Running(), LatestRun: latest, UnresolvedDiscrepancies: unresolved}, nil
}

// RecoverStaleRuns fails runs that a previous process left running.
func (e *Engine) RecoverStaleRuns(ctx context.Context) error {
	n, err := e.store.FailStaleRuns(ctx, staleRunMessage)
	if err != nil {
		return fmt.Errorf("RecoverStaleRuns: %w", err)
	}
	if n > 0 {
		logger.Warn("Marked %d stale reconciliation runs as failed", n)
	}
	return nil
}

// Schedule runs a reconciliation every interval until ctx is done.
func (e *Engine) Schedule(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return nil
		case <-ticker.C:
			if _, err := e.RunReconciliation(ctx); err != nil && !errors.Is(err, ErrCancelled) {
				logger.Error("Scheduled reconciliation: %s", err)
			}
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
