package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tickettoken/ticket-indexer/boff"
	"github.com/tickettoken/ticket-indexer/config"
	"github.com/tickettoken/ticket-indexer/metrics"
	chaintest "github.com/tickettoken/ticket-indexer/testing"
)

func TestValidation(t *testing.T) {
	assert.True(t, IsValidAddress("HXtBm8XZbxaTt41uqaKhwUAa6Z1aPyvJdsZVENiWsetg"))
	assert.True(t, IsValidAddress("DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK"))
	assert.True(t, IsValidAddress("11111111111111111111111111111111"))
	assert.False(t, IsValidAddress("INVALID0ADDRESS"))
	assert.False(t, IsValidAddress("HXtBm8XZbxaTt41uqaKhwUAa6Z1aPyvJdsZVENiWset0"))
	assert.False(t, IsValidAddress(""))

	assert.True(t, IsValidSignature(chaintest.Signature(1)))
	assert.False(t, IsValidSignature("HXtBm8XZbxaTt41uqaKhwUAa6Z1aPyvJdsZVENiWsetg"))

	err := ValidateAddress("INVALID0ADDRESS")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.ErrorIs(t, ValidateSignature("abc"), ErrInvalidSignature)
}

func newTestClient(t *testing.T) (*SolanaClient, *chaintest.MockNode) {
	t.Helper()
	node := chaintest.NewMockNode()
	server := httptest.NewServer(node.Router())
	t.Cleanup(server.Close)

	client, err := NewSolanaClient(config.ChainConfig{
		NodeURL:       server.URL,
		Commitment:    "confirmed",
		TimeoutMillis: 2000,
	})
	require.NoError(t, err)
	return client, node
}

func TestGetParsedAccountInfoMint(t *testing.T) {
	client, node := newTestClient(t)
	mint := chaintest.Address(3)

	node.SetRawResult("getAccountInfo", mint, `{
		"context": {"slot": 10},
		"value": {
			"data": {"program": "spl-token", "parsed": {"type": "mint", "info": {"decimals": 0, "supply": "1", "isInitialized": true, "mintAuthority": null, "freezeAuthority": null}}, "space": 82},
			"executable": false, "lamports": 1461600, "owner": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "rentEpoch": 0, "space": 82
		}
	}`)

	info, err := client.GetParsedAccountInfo(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", info.Owner)

	m, err := info.Mint()
	require.NoError(t, err)
	assert.Equal(t, "1", m.Supply)

	_, err = info.TokenAccount()
	assert.Error(t, err)
}

func TestGetParsedAccountInfoNotFound(t *testing.T) {
	client, node := newTestClient(t)
	node.SetRawResult("getAccountInfo", "", `{"context": {"slot": 10}, "value": null}`)

	_, err := client.GetParsedAccountInfo(context.Background(), chaintest.Address(4))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.GetParsedAccountInfo(context.Background(), "INVALID0ADDRESS")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestGetTokenLargestAccounts(t *testing.T) {
	client, node := newTestClient(t)
	holder := chaintest.Address(5)
	node.SetRawResult("getTokenLargestAccounts", "", fmt.Sprintf(`{
		"context": {"slot": 10},
		"value": [{"address": %q, "amount": "1", "decimals": 0, "uiAmount": 1, "uiAmountString": "1"}]
	}`, holder))

	accounts, err := client.GetTokenLargestAccounts(context.Background(), chaintest.Address(3))
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, holder, accounts[0].Address)
	assert.Equal(t, "1", accounts[0].Amount)
}

func TestGetSignaturesForAddress(t *testing.T) {
	client, node := newTestClient(t)
	program := chaintest.Address(2)
	ok, failed := chaintest.Signature(1), chaintest.Signature(2)
	node.SetRawResult("getSignaturesForAddress", program, fmt.Sprintf(`[
		{"signature": %q, "slot": 101, "err": null, "blockTime": 1700000100},
		{"signature": %q, "slot": 100, "err": {"InstructionError": [0, "Custom"]}, "blockTime": null}
	]`, ok, failed))

	sigs, err := client.GetSignaturesForAddress(context.Background(), program, SignaturesOptions{Limit: 10, Until: chaintest.Signature(9)})
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	assert.Equal(t, ok, sigs[0].Signature)
	assert.False(t, sigs[0].Failed())
	require.NotNil(t, sigs[0].BlockTime)
	assert.Equal(t, int64(1700000100), sigs[0].BlockTime.Unix())

	assert.True(t, sigs[1].Failed())
	assert.Contains(t, sigs[1].Err, "InstructionError")
	assert.Nil(t, sigs[1].BlockTime)
}

func TestGetParsedTransaction(t *testing.T) {
	client, node := newTestClient(t)

	payer := solana.MustPublicKeyFromBase58(chaintest.Address(1))
	program := solana.MustPublicKeyFromBase58(chaintest.Address(2))
	mint := chaintest.Address(3)
	owner, newOwner := chaintest.Address(10), chaintest.Address(11)
	sig := chaintest.Signature(7)

	ins := solana.NewInstruction(
		program,
		solana.AccountMetaSlice{solana.Meta(solana.MustPublicKeyFromBase58(mint)).WRITE()},
		[]byte{1, 2, 3},
	)
	tx, err := solana.NewTransaction([]solana.Instruction{ins}, solana.Hash{}, solana.TransactionPayer(payer))
	require.NoError(t, err)
	tx.Signatures = []solana.Signature{solana.MustSignatureFromBase58(sig)}
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	balance := func(owner string) string {
		return fmt.Sprintf(`{"accountIndex": 1, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "1", "decimals": 0, "uiAmount": 1, "uiAmountString": "1"}}`, mint, owner)
	}
	node.SetRawResult("getTransaction", sig, fmt.Sprintf(`{
		"slot": 321,
		"blockTime": 1700000000,
		"transaction": [%q, "base64"],
		"meta": {
			"err": null,
			"fee": 5000,
			"preBalances": [], "postBalances": [],
			"logMessages": ["Program log: Instruction: Transfer"],
			"preTokenBalances": [%s],
			"postTokenBalances": [%s],
			"loadedAddresses": {"writable": [], "readonly": []}
		}
	}`, base64.StdEncoding.EncodeToString(raw), balance(owner), balance(newOwner)))

	got, err := client.GetParsedTransaction(context.Background(), sig)
	require.NoError(t, err)

	assert.Equal(t, sig, got.Signature)
	assert.Equal(t, uint64(321), got.Slot)
	assert.True(t, got.Succeeded())
	assert.Equal(t, uint64(5000), got.Fee)
	assert.Equal(t, []string{"Program log: Instruction: Transfer"}, got.LogMessages)
	assert.Equal(t, payer.String(), got.Accounts[0])

	require.Len(t, got.Instructions, 1)
	assert.Equal(t, program.String(), got.Instructions[0].ProgramID)
	assert.Equal(t, []string{mint}, got.Instructions[0].Accounts)
	assert.Equal(t, solana.Base58([]byte{1, 2, 3}).String(), got.Instructions[0].Data)

	require.Len(t, got.PreTokenBalances, 1)
	assert.Equal(t, owner, got.PreTokenBalances[0].Owner)
	assert.Equal(t, newOwner, got.PostTokenBalances[0].Owner)
	assert.Equal(t, mint, got.PostTokenBalances[0].Mint)
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	client, node := newTestClient(t)
	node.SetResult("getSlot", "", 99)
	node.FailNext("getSlot", http.StatusTooManyRequests, "7")

	_, err := client.GetSlot(context.Background())
	require.Error(t, err)

	var statusErr *boff.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, boff.IsRateLimited(err))

	d, ok := boff.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)
}

func TestRetryingClient(t *testing.T) {
	client, node := newTestClient(t)
	node.SetResult("getSlot", "", 99)
	node.FailNext("getSlot", http.StatusServiceUnavailable, "")
	node.FailNext("getSlot", http.StatusTooManyRequests, "0")

	opts := boff.RPCOptions()
	opts.InitialDelay = time.Millisecond
	opts.MaxDelay = 5 * time.Millisecond
	retrying := NewRetryingClient(client, opts, metrics.Nop{})

	slot, err := retrying.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(99), slot)
	assert.Equal(t, 3, node.Calls("getSlot"))
}

func TestRetryingClientDoesNotRetryNotFound(t *testing.T) {
	client, node := newTestClient(t)
	node.SetRawResult("getAccountInfo", "", `{"context": {"slot": 10}, "value": null}`)

	opts := boff.RPCOptions()
	opts.InitialDelay = time.Millisecond
	retrying := NewRetryingClient(client, opts, nil)

	_, err := retrying.GetParsedAccountInfo(context.Background(), chaintest.Address(4))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, node.Calls("getAccountInfo"))
}
