package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/tickettoken/ticket-indexer/boff"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const IngestionStateName = "ingestion"

var ErrNotFound = errors.New("database: record not found")

// Store is the derived store. Every call runs under the database retry
// policy; duplicates are reported as ErrDuplicate and never retried.
type Store struct {
	db    *gorm.DB
	retry boff.Options
}

func NewStore(db *gorm.DB, retry boff.Options) *Store {
	return &Store{db: db, retry: retry}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) do(ctx context.Context, fn func(db *gorm.DB) error) error {
	return boff.RetryNoReturn(ctx, func(ctx context.Context) error {
		return translateError(fn(s.db.WithContext(ctx)))
	}, s.retry)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) TransactionExists(ctx context.Context, signature string) (bool, error) {
	var count int64
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Model(&IndexedTransaction{}).Where("signature = ?", signature).Count(&count).Error
	})
	return count > 0, err
}

// SaveTransaction inserts a transaction that carries no event.
func (s *Store) SaveTransaction(ctx context.Context, tx *IndexedTransaction) error {
	return s.do(ctx, func(db *gorm.DB) error {
		return db.Create(tx).Error
	})
}

// SaveIndexed inserts the transaction, its event and the resulting token
// projection in one database transaction.
func (s *Store) SaveIndexed(ctx context.Context, tx *IndexedTransaction, event *AssetEvent) error {
	return s.do(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(dbTx *gorm.DB) error {
			if err := dbTx.Create(tx).Error; err != nil {
				return err
			}
			if event == nil {
				return nil
			}
			if err := dbTx.Create(event).Error; err != nil {
				return err
			}
			return applyEvent(dbTx, event)
		})
	})
}

// applyEvent moves the token projection forward. Events older than the last
// applied slot are recorded but do not change the projection.
func applyEvent(db *gorm.DB, event *AssetEvent) error {
	var token Token
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_id = ?", event.TokenID).
		First(&token).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		token = Token{TokenID: event.TokenID}
	case err != nil:
		return err
	case token.LastSlot > event.Slot:
		return nil
	}

	switch event.EventType {
	case EventMint, EventTransfer:
		token.Owner = event.NewOwner
		token.Burned = false
	case EventBurn:
		token.Burned = true
	}
	token.LastSignature = event.Signature
	token.LastSlot = event.Slot
	token.UpdatedAt = time.Now()

	return db.Save(&token).Error
}

// HasMint reports whether a MINT event was recorded for tokenID.
func (s *Store) HasMint(ctx context.Context, tokenID string) (bool, error) {
	var count int64
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Model(&AssetEvent{}).
			Where("token_id = ? AND event_type = ?", tokenID, EventMint).
			Count(&count).Error
	})
	return count > 0, err
}

// TrackedTokens returns up to limit tokens with ID greater than afterID.
func (s *Store) TrackedTokens(ctx context.Context, afterID uint64, limit int) ([]Token, error) {
	var tokens []Token
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Where("id > ?", afterID).Order("id").Limit(limit).Find(&tokens).Error
	})
	return tokens, err
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (*Token, error) {
	var token Token
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Where("token_id = ?", tokenID).First(&token).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// ApplyChainState overwrites the projection of tokenID with what the ledger
// reports.
func (s *Store) ApplyChainState(ctx context.Context, tokenID, owner string, burned bool) error {
	return s.do(ctx, func(db *gorm.DB) error {
		return db.Model(&Token{}).
			Where("token_id = ?", tokenID).
			Updates(map[string]interface{}{
				"owner":      owner,
				"burned":     burned,
				"updated_at": time.Now(),
			}).Error
	})
}

func (s *Store) CreateRun(ctx context.Context, run *ReconciliationRun) error {
	return s.do(ctx, func(db *gorm.DB) error {
		return db.Create(run).Error
	})
}

// SaveRun persists the counters and status of run.
func (s *Store) SaveRun(ctx context.Context, run *ReconciliationRun) error {
	return s.do(ctx, func(db *gorm.DB) error {
		return db.Save(run).Error
	})
}

func (s *Store) LatestRun(ctx context.Context) (*ReconciliationRun, error) {
	var run ReconciliationRun
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Order("id DESC").First(&run).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FailStaleRuns marks runs left running by a previous process as failed.
func (s *Store) FailStaleRuns(ctx context.Context, message string) (int64, error) {
	var affected int64
	err := s.do(ctx, func(db *gorm.DB) error {
		now := time.Now()
		res := db.Model(&ReconciliationRun{}).
			Where("status = ?", RunRunning).
			Updates(map[string]interface{}{
				"status":        RunFailed,
				"completed_at":  now,
				"error_message": message,
			})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

func (s *Store) InsertDiscrepancy(ctx context.Context, d *OwnershipDiscrepancy) error {
	return s.do(ctx, func(db *gorm.DB) error {
		return db.Create(d).Error
	})
}

// ResolveDiscrepancy marks an unresolved discrepancy as resolved. Resolving
// an already resolved discrepancy returns it unchanged.
func (s *Store) ResolveDiscrepancy(ctx context.Context, id uint64, resolution string) (*OwnershipDiscrepancy, error) {
	var d OwnershipDiscrepancy
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(dbTx *gorm.DB) error {
			err := dbTx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, id).Error
			if err != nil {
				return err
			}
			if d.Resolved {
				return nil
			}
			now := time.Now()
			d.Resolved = true
			d.ResolvedAt = &now
			d.Resolution = &resolution
			return dbTx.Save(&d).Error
		})
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) UnresolvedDiscrepancies(ctx context.Context, limit int) ([]OwnershipDiscrepancy, error) {
	var res []OwnershipDiscrepancy
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Where("resolved = ?", false).Order("id DESC").Limit(limit).Find(&res).Error
	})
	return res, err
}

func (s *Store) CountUnresolvedDiscrepancies(ctx context.Context) (int64, error) {
	var count int64
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Model(&OwnershipDiscrepancy{}).Where("resolved = ?", false).Count(&count).Error
	})
	return count, err
}
