package indexer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/pkg/errors"
	"github.com/tickettoken/ticket-indexer/config"
	"github.com/tickettoken/ticket-indexer/database"
	"github.com/tickettoken/ticket-indexer/ledger"
	"github.com/tickettoken/ticket-indexer/logger"
)

// maxMissingAttempts is how many consecutive passes a signature may come
// back as not found before it is recorded as failed.
const maxMissingAttempts = 5

var errNotReady = errors.New("indexer is not running under Run")

type StateStore interface {
	LoadIndexerState(ctx context.Context) (*database.IndexerState, error)
	SaveIndexerState(ctx context.Context, state *database.IndexerState) error
}

// Indexer follows the signatures of the ticket program and feeds them to
// the ingestor, oldest first.
type Indexer struct {
	params   config.IndexerConfig
	client   ledger.Client
	ingestor *Ingestor
	states   StateStore
	progress *Progress
	pool     pond.ResultPool[*prepared]

	// missing counts consecutive not-found answers per signature. Owned by
	// the goroutine running IndexOnce.
	missing map[string]int

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func CreateIndexer(
	cfg config.IndexerConfig, client ledger.Client, ingestor *Ingestor, states StateStore, progress *Progress,
) (*Indexer, error) {
	if err := ledger.ValidateAddress(cfg.ProgramAddress); err != nil {
		return nil, fmt.Errorf("CreateIndexer: program address: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultWorkers
	}
	if cfg.PollMillis <= 0 {
		cfg.PollMillis = config.DefaultPollMillis
	}
	if progress == nil {
		progress = NewProgress()
	}

	return &Indexer{
		params:   cfg,
		client:   client,
		ingestor: ingestor,
		states:   states,
		progress: progress,
		pool:     pond.NewResultPool[*prepared](cfg.Workers),
		missing:  map[string]int{},
	}, nil
}

func (ix *Indexer) Progress() *Progress {
	return ix.progress
}

// Run owns the lifetime of the ingestion loop. It starts the loop when
// auto start is configured and stops it when ctx is done.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.mu.Lock()
	ix.baseCtx = ctx
	ix.mu.Unlock()

	if ix.params.AutoStart {
		if err := ix.Start(); err != nil {
			return err
		}
	}

	<-ctx.Done()
	ix.Stop()
	ix.pool.StopAndWait()
	return nil
}

// Start launches the ingestion loop. Starting a running loop does nothing.
func (ix *Indexer) Start() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.baseCtx == nil {
		return errNotReady
	}
	if ix.done != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ix.baseCtx)
	ix.cancel = cancel
	ix.done = make(chan struct{})
	go ix.loop(ctx, ix.done)

	logger.Info("Ingestion started for program %s", ix.params.ProgramAddress)
	return nil
}

// Stop stops the ingestion loop and waits until the current batch is
// committed.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	cancel, done := ix.cancel, ix.done
	ix.cancel, ix.done = nil, nil
	ix.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("Ingestion stopped")
}

func (ix *Indexer) Running() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.done != nil
}

func (ix *Indexer) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		ix.mu.Lock()
		if ix.done == done {
			ix.cancel()
			ix.cancel, ix.done = nil, nil
		}
		ix.mu.Unlock()
		close(done)
	}()

	state, err := ix.states.LoadIndexerState(ctx)
	if err != nil {
		logger.Error("Ingestion cannot load state: %s", err)
		return
	}
	state.IndexerVersion = ix.params.Version
	state.SetRunning(true)
	if err := ix.states.SaveIndexerState(ctx, state); err != nil {
		logger.Error("Ingestion cannot save state: %s", err)
		return
	}
	ix.progress.update(state)

	defer func() {
		state.SetRunning(false)
		if err := ix.states.SaveIndexerState(context.WithoutCancel(ctx), state); err != nil {
			logger.Error("Ingestion cannot save state: %s", err)
		}
		ix.progress.update(state)
	}()

	for {
		processed, err := ix.IndexOnce(ctx, state)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error("Ingestion error: %s", err)
		}
		if processed > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(ix.params.PollInterval()):
		}
	}
}

// IndexOnce processes every signature newer than the last processed one.
// state only advances across signatures that were committed, in order, and
// is saved after every batch.
func (ix *Indexer) IndexOnce(ctx context.Context, state *database.IndexerState) (int, error) {
	infos, err := ix.pendingSignatures(ctx, state.LastProcessedSignature)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		logger.Debug("Up to date, last slot %d", state.LastProcessedSlot)
		return 0, nil
	}
	logger.Info("Indexing %d new transactions after slot %d", len(infos), state.LastProcessedSlot)

	processed := 0
	for start := 0; start < len(infos); start += ix.params.BatchSize {
		batch := infos[start:min(start+ix.params.BatchSize, len(infos))]

		startTime := time.Now()
		n, batchErr := ix.processBatch(ctx, state, batch)
		processed += n

		if n > 0 {
			if err := ix.states.SaveIndexerState(context.WithoutCancel(ctx), state); err != nil {
				return processed, errors.Wrap(err, "IndexOnce")
			}
			ix.progress.update(state)
		}
		if batchErr != nil {
			return processed, fmt.Errorf("IndexOnce: %w", batchErr)
		}
		logger.Info(
			"Indexed %d transactions up to slot %d in %d milliseconds",
			n, state.LastProcessedSlot, time.Since(startTime).Milliseconds(),
		)
	}

	return processed, nil
}

// pendingSignatures pages back from the newest signature of the program
// until the last processed one and returns them oldest first.
func (ix *Indexer) pendingSignatures(ctx context.Context, until string) ([]ledger.SignatureInfo, error) {
	var (
		all    []ledger.SignatureInfo
		before string
	)
	for {
		page, err := ix.client.GetSignaturesForAddress(ctx, ix.params.ProgramAddress, ledger.SignaturesOptions{
			Limit:  ix.params.BatchSize,
			Before: before,
			Until:  until,
		})
		if err != nil {
			return nil, fmt.Errorf("pendingSignatures: %w", err)
		}
		all = append(all, page...)
		if len(page) < ix.params.BatchSize {
			break
		}
		before = page[len(page)-1].Signature
	}

	slices.Reverse(all)
	return all, nil
}

// processBatch prepares the batch on the worker pool and commits the results
// in order. It returns the number of committed signatures.
func (ix *Indexer) processBatch(
	ctx context.Context, state *database.IndexerState, batch []ledger.SignatureInfo,
) (int, error) {
	tasks := make([]pond.Result[*prepared], len(batch))
	for i, info := range batch {
		tasks[i] = ix.pool.Submit(func() *prepared {
			return ix.ingestor.prepare(ctx, info)
		})
	}

	for i, task := range tasks {
		p, err := task.Wait()
		if err != nil {
			return i, err
		}
		if p.err != nil && !ix.giveUpOnMissing(p) {
			return i, p.err
		}
		if _, err := ix.ingestor.commit(ctx, p); err != nil {
			return i, err
		}
		delete(ix.missing, p.info.Signature)
		state.UpdateProgress(p.info.Slot, p.info.Signature)
	}
	return len(batch), nil
}

// giveUpOnMissing reports whether p failed because the ledger has no
// transaction for its signature maxMissingAttempts times in a row. If so p is
// turned into a failed record so the signatures after it can be committed.
func (ix *Indexer) giveUpOnMissing(p *prepared) bool {
	sig := p.info.Signature
	if !errors.Is(p.err, ledger.ErrNotFound) {
		delete(ix.missing, sig)
		return false
	}
	ix.missing[sig]++
	if ix.missing[sig] < maxMissingAttempts {
		logger.Warn("Transaction %s not found (%d/%d)", sig, ix.missing[sig], maxMissingAttempts)
		return false
	}

	logger.Error("Transaction %s not found after %d attempts, recording it as failed", sig, maxMissingAttempts)
	p.chainErr = p.err.Error()
	p.err = nil
	return true
}
