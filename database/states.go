package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (s *Store) LoadIndexerState(ctx context.Context) (*IndexerState, error) {
	var state IndexerState
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Where(&IndexerState{Name: IngestionStateName}).First(&state).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "LoadIndexerState")
	}
	return &state, nil
}

func (s *Store) SaveIndexerState(ctx context.Context, state *IndexerState) error {
	state.Name = IngestionStateName
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Save(state).Error
	})
	if err != nil {
		return errors.Wrap(err, "SaveIndexerState")
	}
	return nil
}
