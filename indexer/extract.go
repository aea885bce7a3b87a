package indexer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tickettoken/ticket-indexer/database"
	"github.com/tickettoken/ticket-indexer/ledger"
)

var ErrInvalidEventData = errors.New("invalid event data")

// Event is the validated asset movement carried by a classified
// transaction. It is one of MintEvent, TransferEvent or BurnEvent.
type Event interface {
	TokenID() string
	eventType() string
}

type MintEvent struct {
	Mint  string
	Owner string
}

type TransferEvent struct {
	Mint          string
	PreviousOwner string
	NewOwner      string
}

type BurnEvent struct {
	Mint string
}

func (e MintEvent) TokenID() string     { return e.Mint }
func (e TransferEvent) TokenID() string { return e.Mint }
func (e BurnEvent) TokenID() string     { return e.Mint }

func (MintEvent) eventType() string     { return database.EventMint }
func (TransferEvent) eventType() string { return database.EventTransfer }
func (BurnEvent) eventType() string     { return database.EventBurn }

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidEventData, fmt.Sprintf(format, args...))
}

func ExtractMint(tx *ledger.Transaction) (MintEvent, error) {
	if len(tx.PostTokenBalances) == 0 {
		return MintEvent{}, invalid("mint without post token balance")
	}
	balance := tx.PostTokenBalances[0]
	if !ledger.IsValidAddress(balance.Mint) {
		return MintEvent{}, invalid("mint %q", balance.Mint)
	}
	if !ledger.IsValidAddress(balance.Owner) {
		return MintEvent{}, invalid("owner %q", balance.Owner)
	}
	return MintEvent{Mint: balance.Mint, Owner: balance.Owner}, nil
}

// ExtractTransfer reads the token and new owner from the post balance that
// holds the token and the previous owner from the pre balance of the same
// mint that held it. A missing pre balance leaves PreviousOwner empty.
func ExtractTransfer(tx *ledger.Transaction) (TransferEvent, error) {
	if len(tx.PostTokenBalances) == 0 {
		return TransferEvent{}, invalid("transfer without post token balance")
	}
	post, ok := holder(tx.PostTokenBalances, "")
	if !ok {
		return TransferEvent{}, invalid("transfer without holding post balance")
	}
	if !ledger.IsValidAddress(post.Mint) {
		return TransferEvent{}, invalid("mint %q", post.Mint)
	}
	if !ledger.IsValidAddress(post.Owner) {
		return TransferEvent{}, invalid("new owner %q", post.Owner)
	}

	event := TransferEvent{Mint: post.Mint, NewOwner: post.Owner}
	if pre, ok := holder(tx.PreTokenBalances, post.Mint); ok {
		if !ledger.IsValidAddress(pre.Owner) {
			return TransferEvent{}, invalid("previous owner %q", pre.Owner)
		}
		event.PreviousOwner = pre.Owner
	}
	return event, nil
}

// holder returns the first balance with an owner and a non-zero amount,
// limited to mint when it is set. Balances without an amount count as held.
func holder(balances []ledger.TokenBalance, mint string) (ledger.TokenBalance, bool) {
	for _, b := range balances {
		if mint != "" && b.Mint != mint {
			continue
		}
		if b.Owner == "" || isZeroAmount(b.Amount) {
			continue
		}
		return b, true
	}
	return ledger.TokenBalance{}, false
}

func isZeroAmount(amount string) bool {
	return amount != "" && strings.Trim(amount, "0") == ""
}

func ExtractBurn(tx *ledger.Transaction) (BurnEvent, error) {
	if len(tx.PreTokenBalances) == 0 {
		return BurnEvent{}, invalid("burn without pre token balance")
	}
	mint := tx.PreTokenBalances[0].Mint
	if !ledger.IsValidAddress(mint) {
		return BurnEvent{}, invalid("mint %q", mint)
	}
	return BurnEvent{Mint: mint}, nil
}

// Extract returns the event of tx for the given classification. UNKNOWN
// transactions carry no event.
func Extract(instructionType ledger.InstructionType, tx *ledger.Transaction) (Event, error) {
	switch instructionType {
	case ledger.InstructionMintNFT:
		return ExtractMint(tx)
	case ledger.InstructionTransfer:
		return ExtractTransfer(tx)
	case ledger.InstructionBurn:
		return ExtractBurn(tx)
	default:
		return nil, nil
	}
}

func toAssetEvent(event Event, tx *ledger.Transaction) *database.AssetEvent {
	assetEvent := &database.AssetEvent{
		TokenID:    event.TokenID(),
		EventType:  event.eventType(),
		Signature:  tx.Signature,
		Slot:       tx.Slot,
		OccurredAt: occurredAt(tx.BlockTime),
	}
	switch e := event.(type) {
	case MintEvent:
		assetEvent.NewOwner = e.Owner
	case TransferEvent:
		assetEvent.PreviousOwner = e.PreviousOwner
		assetEvent.NewOwner = e.NewOwner
	}
	return assetEvent
}
