// Package onchain derives token state directly from the ledger. Nothing here
// writes anything; all reads may run concurrently.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/tickettoken/ticket-indexer/ledger"
	"github.com/tickettoken/ticket-indexer/logger"
)

const DefaultHistoryLimit = 10

// Reasons reported by CheckOwnership.
const (
	ReasonTokenNotFound     = "TOKEN_NOT_FOUND"
	ReasonTokenBurned       = "TOKEN_BURNED"
	ReasonOwnershipMismatch = "OWNERSHIP_MISMATCH"
)

// TokenState is a point in time view of a token. Owner is empty when unknown.
type TokenState struct {
	Exists bool   `json:"exists"`
	Burned bool   `json:"burned"`
	Owner  string `json:"owner,omitempty"`
	Supply string `json:"supply"`
	Frozen bool   `json:"frozen"`
}

type Verification struct {
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
	ActualOwner string `json:"actualOwner,omitempty"`
}

type HistoryEntry struct {
	Signature string                 `json:"signature"`
	Slot      uint64                 `json:"slot"`
	BlockTime *time.Time             `json:"blockTime"`
	Type      ledger.InstructionType `json:"type"`
	Success   bool                   `json:"success"`
}

type Reader struct {
	client ledger.Client
}

func NewReader(client ledger.Client) *Reader {
	return &Reader{client: client}
}

var notFound = TokenState{Exists: false, Burned: true, Supply: "0"}

// GetTokenState reads the mint, its largest holder and the holder's token
// account. A mint with zero supply is burned whatever its accounts say, and
// so is a mint without any holder account.
func (r *Reader) GetTokenState(ctx context.Context, tokenID string) (TokenState, error) {
	if err := ledger.ValidateAddress(tokenID); err != nil {
		return TokenState{}, err
	}

	mintAccount, err := r.client.GetParsedAccountInfo(ctx, tokenID)
	if errors.Is(err, ledger.ErrNotFound) {
		return notFound, nil
	}
	if err != nil {
		return TokenState{}, fmt.Errorf("GetTokenState: mint %s: %w", tokenID, err)
	}

	mint, err := mintAccount.Mint()
	if err != nil {
		logger.Debug("account %s is not a token mint: %s", tokenID, err)
		return notFound, nil
	}

	if mint.Supply == "0" {
		return TokenState{Exists: true, Burned: true, Supply: mint.Supply}, nil
	}

	largest, err := r.client.GetTokenLargestAccounts(ctx, tokenID)
	if errors.Is(err, ledger.ErrNotFound) {
		return notFound, nil
	}
	if err != nil {
		return TokenState{}, fmt.Errorf("GetTokenState: largest accounts of %s: %w", tokenID, err)
	}
	if len(largest) == 0 {
		return TokenState{Exists: true, Burned: true, Supply: mint.Supply}, nil
	}

	holderAccount, err := r.client.GetParsedAccountInfo(ctx, largest[0].Address)
	if errors.Is(err, ledger.ErrNotFound) {
		return TokenState{Exists: true, Burned: true, Supply: mint.Supply}, nil
	}
	if err != nil {
		return TokenState{}, fmt.Errorf("GetTokenState: holder %s: %w", largest[0].Address, err)
	}

	holder, err := holderAccount.TokenAccount()
	if err != nil {
		return TokenState{}, fmt.Errorf("GetTokenState: holder %s: %w", largest[0].Address, err)
	}

	if holder.Frozen() || holder.TokenAmount.Amount == "0" {
		return TokenState{
			Exists: true,
			Burned: true,
			Owner:  holder.Owner,
			Supply: mint.Supply,
			Frozen: holder.Frozen(),
		}, nil
	}

	return TokenState{
		Exists: true,
		Burned: false,
		Owner:  holder.Owner,
		Supply: mint.Supply,
	}, nil
}

// CheckOwnership is the one ownership rule. Live ownership gating and
// reconciliation both go through it.
func CheckOwnership(state TokenState, expectedOwner string) Verification {
	switch {
	case !state.Exists:
		return Verification{Valid: false, Reason: ReasonTokenNotFound}
	case state.Burned:
		return Verification{Valid: false, Reason: ReasonTokenBurned, ActualOwner: state.Owner}
	case state.Owner != expectedOwner:
		return Verification{Valid: false, Reason: ReasonOwnershipMismatch, ActualOwner: state.Owner}
	default:
		return Verification{Valid: true, ActualOwner: state.Owner}
	}
}

func (r *Reader) VerifyOwnership(ctx context.Context, tokenID, expectedOwner string) (Verification, error) {
	state, err := r.GetTokenState(ctx, tokenID)
	if err != nil {
		return Verification{}, err
	}
	return CheckOwnership(state, expectedOwner), nil
}

// GetTransactionHistory lists the signatures touching tokenID once, at call
// time, and returns a sequence that fetches each transaction when it is
// reached. The sequence can be consumed only once; transactions that cannot
// be fetched are left out.
func (r *Reader) GetTransactionHistory(ctx context.Context, tokenID string, limit int) (iter.Seq[HistoryEntry], error) {
	if err := ledger.ValidateAddress(tokenID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	sigs, err := r.client.GetSignaturesForAddress(ctx, tokenID, ledger.SignaturesOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("GetTransactionHistory: %w", err)
	}

	var consumed atomic.Bool
	return func(yield func(HistoryEntry) bool) {
		if !consumed.CompareAndSwap(false, true) {
			return
		}

		for _, sig := range sigs {
			if ctx.Err() != nil {
				return
			}

			tx, err := r.client.GetParsedTransaction(ctx, sig.Signature)
			if err != nil {
				logger.Debug("history of %s: skipping %s: %s", tokenID, sig.Signature, err)
				continue
			}

			blockTime := tx.BlockTime
			if blockTime == nil {
				blockTime = sig.BlockTime
			}
			entry := HistoryEntry{
				Signature: sig.Signature,
				Slot:      sig.Slot,
				BlockTime: blockTime,
				Type:      ledger.ClassifyLogs(tx.LogMessages),
				Success:   tx.Succeeded() && !sig.Failed(),
			}
			if !yield(entry) {
				return
			}
		}
	}, nil
}
