package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tickettoken/ticket-indexer/database"
	"github.com/tickettoken/ticket-indexer/ledger"
	"github.com/tickettoken/ticket-indexer/logger"
	"github.com/tickettoken/ticket-indexer/metrics"
)

// Store is the part of the derived store the ingestor writes to.
type Store interface {
	TransactionExists(ctx context.Context, signature string) (bool, error)
	SaveTransaction(ctx context.Context, tx *database.IndexedTransaction) error
	SaveIndexed(ctx context.Context, tx *database.IndexedTransaction, event *database.AssetEvent) error
	HasMint(ctx context.Context, tokenID string) (bool, error)
}

type AuditLog interface {
	Insert(ctx context.Context, tx *ledger.Transaction) error
}

// Outcome describes what ProcessTransaction did with one signature.
type Outcome struct {
	Signature       string
	Skipped         bool
	InstructionType ledger.InstructionType
	Status          string
	Event           Event
	Reason          string
}

type Ingestor struct {
	client  ledger.Client
	store   Store
	audit   AuditLog
	metrics metrics.Sink
}

func NewIngestor(client ledger.Client, store Store, audit AuditLog, sink metrics.Sink) *Ingestor {
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Ingestor{client: client, store: store, audit: audit, metrics: sink}
}

// prepared is a signature that has been checked and fetched but not yet
// written. Preparing only reads, so it can run concurrently; committing
// must happen in ledger order.
type prepared struct {
	info    ledger.SignatureInfo
	started time.Time
	err     error

	skipped         bool
	chainErr        string
	tx              *ledger.Transaction
	instructionType ledger.InstructionType
	event           Event
	extractErr      error
}

// ProcessTransaction indexes the transaction behind info. It is safe to call
// more than once for the same signature: a signature that is already stored
// is skipped without any ledger call.
func (in *Ingestor) ProcessTransaction(ctx context.Context, info ledger.SignatureInfo) (*Outcome, error) {
	p := in.prepare(ctx, info)
	if p.err != nil {
		return nil, p.err
	}
	return in.commit(ctx, p)
}

func (in *Ingestor) prepare(ctx context.Context, info ledger.SignatureInfo) *prepared {
	p := &prepared{info: info, started: time.Now()}

	if err := ledger.ValidateSignature(info.Signature); err != nil {
		p.err = err
		return p
	}

	if info.Failed() {
		p.chainErr = info.Err
		return p
	}

	exists, err := in.store.TransactionExists(ctx, info.Signature)
	if err != nil {
		p.err = fmt.Errorf("ProcessTransaction: TransactionExists: %w", err)
		return p
	}
	if exists {
		p.skipped = true
		return p
	}

	tx, err := in.client.GetParsedTransaction(ctx, info.Signature)
	if err != nil {
		p.err = fmt.Errorf("ProcessTransaction: GetParsedTransaction: %w", err)
		return p
	}
	if tx.BlockTime == nil && info.BlockTime != nil {
		withTime := *tx
		withTime.BlockTime = info.BlockTime
		tx = &withTime
	}
	p.tx = tx

	if !tx.Succeeded() {
		p.chainErr = tx.Err
		return p
	}

	p.instructionType = ledger.ClassifyLogs(tx.LogMessages)
	p.event, p.extractErr = Extract(p.instructionType, tx)
	return p
}

func (in *Ingestor) commit(ctx context.Context, p *prepared) (*Outcome, error) {
	outcome := &Outcome{
		Signature:       p.info.Signature,
		InstructionType: ledger.InstructionUnknown,
		Status:          database.StatusFailed,
	}

	if p.skipped {
		logger.Debug("Transaction %s already indexed", p.info.Signature)
		outcome.Skipped = true
		outcome.Status = ""
		return outcome, nil
	}

	if p.chainErr != "" {
		outcome.Reason = p.chainErr
		if p.tx != nil {
			if err := in.insertAudit(ctx, p.tx); err != nil {
				return nil, err
			}
		}
		record := in.record(p, ledger.InstructionUnknown, database.StatusFailed, &p.chainErr)
		return in.finish(outcome, p, in.store.SaveTransaction(ctx, record))
	}

	if p.extractErr == nil {
		if burn, ok := p.event.(BurnEvent); ok {
			minted, err := in.store.HasMint(ctx, burn.Mint)
			if err != nil {
				return nil, fmt.Errorf("ProcessTransaction: HasMint: %w", err)
			}
			if !minted {
				p.extractErr = invalid("burn of untracked token %s", burn.Mint)
			}
		}
	}

	if err := in.insertAudit(ctx, p.tx); err != nil {
		return nil, err
	}

	if p.extractErr != nil {
		logger.Warn("Transaction %s (%s) rejected: %s", p.info.Signature, p.instructionType, p.extractErr)
		message := p.extractErr.Error()
		outcome.Reason = message
		record := in.record(p, ledger.InstructionUnknown, database.StatusFailed, &message)
		return in.finish(outcome, p, in.store.SaveTransaction(ctx, record))
	}

	outcome.InstructionType = p.instructionType
	outcome.Status = database.StatusSuccess
	outcome.Event = p.event

	record := in.record(p, p.instructionType, database.StatusSuccess, nil)
	var assetEvent *database.AssetEvent
	if p.event != nil {
		assetEvent = toAssetEvent(p.event, p.tx)
	}
	return in.finish(outcome, p, in.store.SaveIndexed(ctx, record, assetEvent))
}

func (in *Ingestor) insertAudit(ctx context.Context, tx *ledger.Transaction) error {
	err := in.audit.Insert(ctx, tx)
	if errors.Is(err, database.ErrDuplicate) {
		logger.Debug("Audit record of %s already stored", tx.Signature)
		return nil
	}
	if err != nil {
		return fmt.Errorf("ProcessTransaction: audit insert: %w", err)
	}
	return nil
}

// finish treats a duplicate signature as a lost race with another worker.
func (in *Ingestor) finish(outcome *Outcome, p *prepared, err error) (*Outcome, error) {
	if errors.Is(err, database.ErrDuplicate) {
		logger.Debug("Transaction %s stored concurrently", p.info.Signature)
		outcome.Skipped = true
		return outcome, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ProcessTransaction: save: %w", err)
	}

	in.metrics.TransactionProcessed(string(outcome.InstructionType), outcome.Status)
	in.metrics.ProcessingDuration(time.Since(p.started))
	return outcome, nil
}

func (in *Ingestor) record(
	p *prepared, instructionType ledger.InstructionType, status string, errMessage *string,
) *database.IndexedTransaction {
	record := &database.IndexedTransaction{
		Signature:       p.info.Signature,
		Slot:            p.info.Slot,
		BlockTime:       p.info.BlockTime,
		InstructionType: string(instructionType),
		Status:          status,
		ErrorMessage:    errMessage,
		IndexedAt:       time.Now(),
	}
	if p.tx != nil {
		record.Slot = p.tx.Slot
		record.BlockTime = p.tx.BlockTime
		record.FeeLamports = p.tx.Fee
	}
	return record
}

func occurredAt(blockTime *time.Time) time.Time {
	if blockTime == nil {
		return time.Now()
	}
	return *blockTime
}
