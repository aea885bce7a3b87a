// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tickettoken/ticket-indexer/ledger"
)

const (
	MethodGetTransaction          = "getTransaction"
	MethodGetAccountInfo          = "getAccountInfo"
	MethodGetTokenLargestAccounts = "getTokenLargestAccounts"
	MethodGetSignaturesForAddress = "getSignaturesForAddress"
	MethodGetSlot                 = "getSlot"
)

// Fake answers from maps. Missing entries are reported as ledger.ErrNotFound,
// except for largest accounts and signatures, which are empty.
type Fake struct {
	mu           sync.Mutex
	transactions map[string]*ledger.Transaction
	accounts     map[string]*ledger.AccountInfo
	largest      map[string][]ledger.LargestAccount
	signatures   map[string][]ledger.SignatureInfo
	errs         map[string]error
	calls        map[string]int
	slot         uint64
}

func NewFake() *Fake {
	return &Fake{
		transactions: map[string]*ledger.Transaction{},
		accounts:     map[string]*ledger.AccountInfo{},
		largest:      map[string][]ledger.LargestAccount{},
		signatures:   map[string][]ledger.SignatureInfo{},
		errs:         map[string]error{},
		calls:        map[string]int{},
	}
}

func (f *Fake) AddTransaction(tx *ledger.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[tx.Signature] = tx
}

func (f *Fake) SetSignatures(address string, sigs []ledger.SignatureInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signatures[address] = sigs
}

func (f *Fake) SetSlot(slot uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slot = slot
}

// SetMint registers a jsonParsed mint account.
func (f *Fake) SetMint(mint, supply string) {
	f.setParsed(mint, "mint", map[string]any{
		"supply":        supply,
		"decimals":      0,
		"isInitialized": true,
	})
}

// SetHolder registers holder as the largest token account of mint.
func (f *Fake) SetHolder(mint, holder, owner, amount, state string) {
	f.setParsed(holder, "account", map[string]any{
		"mint":  mint,
		"owner": owner,
		"state": state,
		"tokenAmount": map[string]any{
			"amount":         amount,
			"decimals":       0,
			"uiAmountString": amount,
		},
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.largest[mint] = []ledger.LargestAccount{{Address: holder, Amount: amount}}
}

// SetRawAccount registers an account holding binary data.
func (f *Fake) SetRawAccount(address string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[address] = &ledger.AccountInfo{Address: address, Data: data}
}

func (f *Fake) setParsed(address, accountType string, info map[string]any) {
	parsed, err := json.Marshal(map[string]any{
		"program": "spl-token",
		"parsed":  map[string]any{"type": accountType, "info": info},
	})
	if err != nil {
		panic(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[address] = &ledger.AccountInfo{Address: address, Parsed: parsed}
}

// Fail makes method fail with err for key; an empty key fails every call.
func (f *Fake) Fail(method, key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method+":"+key] = err
}

func (f *Fake) Clear(method, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, method+":"+key)
}

func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) enter(method, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if err, ok := f.errs[method+":"+key]; ok {
		return err
	}
	if err, ok := f.errs[method+":"]; ok {
		return err
	}
	return nil
}

func (f *Fake) GetParsedTransaction(_ context.Context, signature string) (*ledger.Transaction, error) {
	if err := f.enter(MethodGetTransaction, signature); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.transactions[signature]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", signature, ledger.ErrNotFound)
	}
	return tx, nil
}

func (f *Fake) GetParsedAccountInfo(_ context.Context, address string) (*ledger.AccountInfo, error) {
	if err := f.enter(MethodGetAccountInfo, address); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[address]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return acc, nil
}

func (f *Fake) GetTokenLargestAccounts(_ context.Context, mint string) ([]ledger.LargestAccount, error) {
	if err := f.enter(MethodGetTokenLargestAccounts, mint); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.largest[mint], nil
}

func (f *Fake) GetSignaturesForAddress(_ context.Context, address string, opts ledger.SignaturesOptions) ([]ledger.SignatureInfo, error) {
	if err := f.enter(MethodGetSignaturesForAddress, address); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	// newest first, starting after Before and cut at Until, like the node does
	var res []ledger.SignatureInfo
	started := opts.Before == ""
	for _, s := range f.signatures[address] {
		if !started {
			started = s.Signature == opts.Before
			continue
		}
		if opts.Until != "" && s.Signature == opts.Until {
			break
		}
		res = append(res, s)
		if opts.Limit > 0 && len(res) == opts.Limit {
			break
		}
	}
	return res, nil
}

func (f *Fake) GetSlot(context.Context) (uint64, error) {
	if err := f.enter(MethodGetSlot, ""); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slot, nil
}
