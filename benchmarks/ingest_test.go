package benchmarks

import (
	"context"
	"testing"

	"github.com/tickettoken/ticket-indexer/database"
	"github.com/tickettoken/ticket-indexer/indexer"
	"github.com/tickettoken/ticket-indexer/ledger"
	"github.com/tickettoken/ticket-indexer/ledger/ledgertest"
	chaintest "github.com/tickettoken/ticket-indexer/testing"
)

type nopStore struct{}

func (nopStore) TransactionExists(context.Context, string) (bool, error) { return false, nil }
func (nopStore) SaveTransaction(context.Context, *database.IndexedTransaction) error {
	return nil
}
func (nopStore) SaveIndexed(context.Context, *database.IndexedTransaction, *database.AssetEvent) error {
	return nil
}
func (nopStore) HasMint(context.Context, string) (bool, error) { return true, nil }

type nopAudit struct{}

func (nopAudit) Insert(context.Context, *ledger.Transaction) error { return nil }

func transfer(signature string) *ledger.Transaction {
	mint := chaintest.Address(1)
	return &ledger.Transaction{
		Signature:         signature,
		Slot:              245000123,
		Fee:               5000,
		Accounts:          []string{chaintest.Address(2), chaintest.Address(3), mint},
		LogMessages:       []string{"Program log: Instruction: Transfer", "Program log: success"},
		PreTokenBalances:  []ledger.TokenBalance{{AccountIndex: 1, Mint: mint, Owner: chaintest.Address(2), Amount: "1"}},
		PostTokenBalances: []ledger.TokenBalance{{AccountIndex: 2, Mint: mint, Owner: chaintest.Address(3), Amount: "1"}},
	}
}

func BenchmarkProcessTransaction(b *testing.B) {
	ctx := context.Background()
	sig := chaintest.Signature(1)
	fake := ledgertest.NewFake()
	fake.AddTransaction(transfer(sig))
	ingestor := indexer.NewIngestor(fake, nopStore{}, nopAudit{}, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ingestor.ProcessTransaction(ctx, ledger.SignatureInfo{Signature: sig, Slot: 245000123}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCanonicalAuditBody(b *testing.B) {
	tx := transfer(chaintest.Signature(1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := database.CanonicalAuditBody(tx); err != nil {
			b.Fatal(err)
		}
	}
}
