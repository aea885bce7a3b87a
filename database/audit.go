package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/pkg/errors"
	"github.com/tickettoken/ticket-indexer/ledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type auditBody struct {
	Signature         string                `json:"signature"`
	Slot              uint64                `json:"slot"`
	BlockTime         *int64                `json:"blockTime"`
	Status            string                `json:"status"`
	Err               string                `json:"err,omitempty"`
	Fee               uint64                `json:"fee"`
	Accounts          []string              `json:"accounts"`
	Instructions      []ledger.Instruction  `json:"instructions"`
	LogMessages       []string              `json:"logMessages"`
	PreTokenBalances  []ledger.TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []ledger.TokenBalance `json:"postTokenBalances"`
}

// CanonicalAuditBody returns the RFC 8785 canonical JSON of tx and the hex
// sha256 of it.
func CanonicalAuditBody(tx *ledger.Transaction) ([]byte, string, error) {
	body := auditBody{
		Signature:         tx.Signature,
		Slot:              tx.Slot,
		Status:            StatusSuccess,
		Err:               tx.Err,
		Fee:               tx.Fee,
		Accounts:          nonNil(tx.Accounts),
		Instructions:      nonNil(tx.Instructions),
		LogMessages:       nonNil(tx.LogMessages),
		PreTokenBalances:  nonNil(tx.PreTokenBalances),
		PostTokenBalances: nonNil(tx.PostTokenBalances),
	}
	if !tx.Succeeded() {
		body.Status = StatusFailed
	}
	if tx.BlockTime != nil {
		unix := tx.BlockTime.Unix()
		body.BlockTime = &unix
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, "", errors.Wrap(err, "CanonicalAuditBody: marshal")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", errors.Wrap(err, "CanonicalAuditBody: canonicalize")
	}
	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// AuditLog is the append-only store of fetched transaction bodies, keyed by
// signature.
type AuditLog struct {
	store *Store
}

func NewAuditLog(store *Store) *AuditLog {
	return &AuditLog{store: store}
}

// Insert records tx. A second insert of the same signature returns an error
// matching ErrDuplicate.
func (a *AuditLog) Insert(ctx context.Context, tx *ledger.Transaction) error {
	body, hash, err := CanonicalAuditBody(tx)
	if err != nil {
		return err
	}
	record := &TransactionAuditLog{
		Signature:  tx.Signature,
		Slot:       tx.Slot,
		Body:       datatypes.JSON(body),
		BodyHash:   hash,
		RecordedAt: time.Now(),
	}
	return a.store.do(ctx, func(db *gorm.DB) error {
		return db.Create(record).Error
	})
}

// Get returns the audit record of signature.
func (a *AuditLog) Get(ctx context.Context, signature string) (*TransactionAuditLog, error) {
	var record TransactionAuditLog
	err := a.store.do(ctx, func(db *gorm.DB) error {
		return db.Where("signature = ?", signature).First(&record).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
