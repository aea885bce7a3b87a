package database

import (
	"context"

	"gorm.io/gorm"
)

type Stats struct {
	Transactions            int64            `json:"transactions"`
	TransactionsByType      map[string]int64 `json:"transactionsByType"`
	FailedTransactions      int64            `json:"failedTransactions"`
	Events                  int64            `json:"events"`
	Tokens                  int64            `json:"tokens"`
	BurnedTokens            int64            `json:"burnedTokens"`
	UnresolvedDiscrepancies int64            `json:"unresolvedDiscrepancies"`
	ReconciliationRuns      int64            `json:"reconciliationRuns"`
}

type typeCount struct {
	InstructionType string
	Count           int64
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TransactionsByType: map[string]int64{}}

	err := s.do(ctx, func(db *gorm.DB) error {
		var byType []typeCount
		err := db.Model(&IndexedTransaction{}).
			Select("instruction_type, count(*) as count").
			Group("instruction_type").
			Scan(&byType).Error
		if err != nil {
			return err
		}
		stats.Transactions = 0
		for _, c := range byType {
			stats.TransactionsByType[c.InstructionType] = c.Count
			stats.Transactions += c.Count
		}

		counts := []struct {
			query *gorm.DB
			dest  *int64
		}{
			{db.Model(&IndexedTransaction{}).Where("status = ?", StatusFailed), &stats.FailedTransactions},
			{db.Model(&AssetEvent{}), &stats.Events},
			{db.Model(&Token{}), &stats.Tokens},
			{db.Model(&Token{}).Where("burned = ?", true), &stats.BurnedTokens},
			{db.Model(&OwnershipDiscrepancy{}).Where("resolved = ?", false), &stats.UnresolvedDiscrepancies},
			{db.Model(&ReconciliationRun{}), &stats.ReconciliationRuns},
		}
		for _, c := range counts {
			if err := c.query.Count(c.dest).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// RecentActivity returns the latest events, newest first.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]AssetEvent, error) {
	var events []AssetEvent
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Order("slot DESC, id DESC").Limit(limit).Find(&events).Error
	})
	return events, err
}
