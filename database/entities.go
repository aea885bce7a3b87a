package database

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	EventMint     = "MINT"
	EventTransfer = "TRANSFER"
	EventBurn     = "BURN"

	DiscrepancyOwnershipMismatch       = "OWNERSHIP_MISMATCH"
	DiscrepancyTokenBurnedNotReflected = "TOKEN_BURNED_NOT_REFLECTED"
	DiscrepancyTokenNotFound           = "TOKEN_NOT_FOUND"

	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// BaseEntity is an abstract entity, all other entities should be derived from it
type BaseEntity struct {
	ID uint64 `gorm:"primaryKey"`
}

// IndexedTransaction is written once per signature and never changed.
type IndexedTransaction struct {
	BaseEntity
	Signature       string `gorm:"type:varchar(88);uniqueIndex"`
	Slot            uint64 `gorm:"index"`
	BlockTime       *time.Time
	InstructionType string  `gorm:"type:varchar(16);index"`
	Status          string  `gorm:"type:varchar(16)"`
	ErrorMessage    *string `gorm:"type:varchar(2000)"`
	FeeLamports     uint64
	IndexedAt       time.Time
}

type AssetEvent struct {
	BaseEntity
	TokenID       string `gorm:"type:varchar(44);index"`
	EventType     string `gorm:"type:varchar(16);uniqueIndex:idx_event_signature_type"`
	PreviousOwner string `gorm:"type:varchar(44)"`
	NewOwner      string `gorm:"type:varchar(44)"`
	Signature     string `gorm:"type:varchar(88);uniqueIndex:idx_event_signature_type"`
	Slot          uint64
	OccurredAt    time.Time
}

// Token is the derived ownership of one token, the projection that
// reconciliation checks against the ledger.
type Token struct {
	BaseEntity
	TokenID       string `gorm:"type:varchar(44);uniqueIndex"`
	Owner         string `gorm:"type:varchar(44)"`
	Burned        bool
	LastSignature string `gorm:"type:varchar(88)"`
	LastSlot      uint64
	UpdatedAt     time.Time
}

type OwnershipDiscrepancy struct {
	BaseEntity
	RunID           uint64  `gorm:"index"`
	TokenID         string  `gorm:"type:varchar(44);index"`
	DiscrepancyType string  `gorm:"type:varchar(32)"`
	OnChainOwner    *string `gorm:"type:varchar(44)"`
	DatabaseOwner   *string `gorm:"type:varchar(44)"`
	DetectedAt      time.Time
	Resolved        bool `gorm:"index"`
	ResolvedAt      *time.Time
	Resolution      *string `gorm:"type:varchar(1000)"`
}

type ReconciliationRun struct {
	BaseEntity
	RunID                 string `gorm:"type:varchar(36);uniqueIndex"`
	StartedAt             time.Time
	CompletedAt           *time.Time
	Status                string `gorm:"type:varchar(16)"`
	TicketsChecked        int
	DiscrepanciesFound    int
	DiscrepanciesResolved int
	DurationMs            int64
	ErrorMessage          *string `gorm:"type:varchar(2000)"`
}

// IndexerState is a single row with the ingestion progress.
type IndexerState struct {
	BaseEntity
	Name                   string `gorm:"type:varchar(50);uniqueIndex"`
	LastProcessedSlot      uint64
	LastProcessedSignature string `gorm:"type:varchar(88)"`
	IndexerVersion         string `gorm:"type:varchar(32)"`
	IsRunning              bool
	StartedAt              *time.Time
	UpdatedAt              time.Time
}

// TransactionAuditLog keeps the canonical body of every fetched
// transaction. Rows are only ever inserted.
type TransactionAuditLog struct {
	BaseEntity
	Signature  string `gorm:"type:varchar(88);uniqueIndex"`
	Slot       uint64
	Body       datatypes.JSON `gorm:"type:json"`
	BodyHash   string         `gorm:"type:char(64)"`
	RecordedAt time.Time
}

func (r *ReconciliationRun) Finished() bool {
	return r.Status != RunRunning
}

func (s *IndexerState) UpdateProgress(slot uint64, signature string) {
	s.LastProcessedSlot = slot
	s.LastProcessedSignature = signature
	s.UpdatedAt = time.Now()
}

func (s *IndexerState) SetRunning(running bool) {
	s.IsRunning = running
	now := time.Now()
	if running {
		s.StartedAt = &now
	}
	s.UpdatedAt = now
}
