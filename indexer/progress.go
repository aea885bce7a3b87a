package indexer

import (
	"sync"
	"time"

	"github.com/tickettoken/ticket-indexer/database"
)

// Progress is the ingestion state shared with the health check. Only the
// ingestion loop writes to it.
type Progress struct {
	mu   sync.RWMutex
	snap ProgressSnapshot
}

type ProgressSnapshot struct {
	Running                bool       `json:"running"`
	LastProcessedSlot      uint64     `json:"lastProcessedSlot"`
	LastProcessedSignature string     `json:"lastProcessedSignature"`
	IndexerVersion         string     `json:"indexerVersion"`
	StartedAt              *time.Time `json:"startedAt,omitempty"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

func NewProgress() *Progress {
	return &Progress{}
}

// NewProgressFromState seeds the progress with a stored state, so that health
// reports the last known slot before the loop is started.
func NewProgressFromState(state *database.IndexerState) *Progress {
	p := NewProgress()
	if state != nil {
		p.update(state)
		p.snap.Running = false
	}
	return p
}

func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

func (p *Progress) update(state *database.IndexerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = ProgressSnapshot{
		Running:                state.IsRunning,
		LastProcessedSlot:      state.LastProcessedSlot,
		LastProcessedSignature: state.LastProcessedSignature,
		IndexerVersion:         state.IndexerVersion,
		StartedAt:              state.StartedAt,
		UpdatedAt:              state.UpdatedAt,
	}
}
