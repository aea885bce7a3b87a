// Package ledger is the read side of the Solana RPC API that the indexer
// depends on. Everything above this package works with the plain types
// defined here, never with RPC response shapes.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("ledger: not found")
	ErrInvalidAddress   = errors.New("ledger: invalid address")
	ErrInvalidSignature = errors.New("ledger: invalid signature")
)

type Client interface {
	GetParsedTransaction(ctx context.Context, signature string) (*Transaction, error)
	GetParsedAccountInfo(ctx context.Context, address string) (*AccountInfo, error)
	GetTokenLargestAccounts(ctx context.Context, mint string) ([]LargestAccount, error)
	GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOptions) ([]SignatureInfo, error)
	GetSlot(ctx context.Context) (uint64, error)
}

// SignatureInfo is the short form of a transaction as returned by
// getSignaturesForAddress. Err is the ledger's own error for transactions
// that executed and failed; it is empty on success.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Err       string
}

func (s SignatureInfo) Failed() bool {
	return s.Err != ""
}

type SignaturesOptions struct {
	Limit  int
	Before string
	Until  string
}

type Transaction struct {
	Signature         string         `json:"signature"`
	Slot              uint64         `json:"slot"`
	BlockTime         *time.Time     `json:"blockTime"`
	Err               string         `json:"err,omitempty"`
	Fee               uint64         `json:"fee"`
	Accounts          []string       `json:"accounts"`
	Instructions      []Instruction  `json:"instructions"`
	LogMessages       []string       `json:"logMessages"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

func (t *Transaction) Succeeded() bool {
	return t.Err == ""
}

type Instruction struct {
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"` // base58
}

type TokenBalance struct {
	AccountIndex uint16 `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	Amount       string `json:"amount"`
	Decimals     uint8  `json:"decimals"`
}

type LargestAccount struct {
	Address string
	Amount  string
}

// AccountInfo holds either the jsonParsed representation of an account
// (Parsed) or its raw bytes (Data) when the node has no parser for the
// owning program.
type AccountInfo struct {
	Address  string
	Owner    string
	Lamports uint64
	Data     []byte
	Parsed   json.RawMessage
}
