package onchain

import (
	"bytes"
	"context"
	"errors"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tickettoken/ticket-indexer/ledger"
	"github.com/tickettoken/ticket-indexer/ledger/ledgertest"
	chaintest "github.com/tickettoken/ticket-indexer/testing"
)

var (
	mintAddr   = chaintest.Address(1)
	holderAddr = chaintest.Address(2)
	alice      = chaintest.Address(3)
	bob        = chaintest.Address(4)
)

func TestGetTokenStateActive(t *testing.T) {
	fake := ledgertest.NewFake()
	fake.SetMint(mintAddr, "1")
	fake.SetHolder(mintAddr, holderAddr, alice, "1", ledger.TokenAccountStateInitialized)

	state, err := NewReader(fake).GetTokenState(context.Background(), mintAddr)
	require.NoError(t, err)
	assert.Equal(t, TokenState{Exists: true, Burned: false, Owner: alice, Supply: "1"}, state)
}

func TestGetTokenStateBurnPrecedence(t *testing.T) {
	fake := ledgertest.NewFake()
	fake.SetMint(mintAddr, "0")
	fake.SetHolder(mintAddr, holderAddr, alice, "1", ledger.TokenAccountStateInitialized)

	state, err := NewReader(fake).GetTokenState(context.Background(), mintAddr)
	require.NoError(t, err)
	assert.True(t, state.Burned)
	assert.True(t, state.Exists)
	assert.Empty(t, state.Owner)
	assert.Equal(t, 0, fake.Calls(ledgertest.MethodGetTokenLargestAccounts))
}

func TestGetTokenStateNotFound(t *testing.T) {
	fake := ledgertest.NewFake()

	state, err := NewReader(fake).GetTokenState(context.Background(), mintAddr)
	require.NoError(t, err)
	assert.Equal(t, TokenState{Exists: false, Burned: true, Supply: "0"}, state)
}

func TestGetTokenStateNoHolder(t *testing.T) {
	fake := ledgertest.NewFake()
	fake.SetMint(mintAddr, "1")

	state, err := NewReader(fake).GetTokenState(context.Background(), mintAddr)
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.True(t, state.Burned)
}

func TestGetTokenStateFrozenOrEmpty(t *testing.T) {
	fake := ledgertest.NewFake()
	fake.SetMint(mintAddr, "1")
	fake.SetHolder(mintAddr, holderAddr, alice, "1", ledger.TokenAccountStateFrozen)

	state, err := NewReader(fake).GetTokenState(context.Background(), mintAddr)
	require.NoError(t, err)
	assert.True(t, state.Burned)
	assert.True(t, state.Frozen)
	assert.Equal(t, alice, state.Owner)

	fake.SetHolder(mintAddr, holderAddr, bob, "0", ledger.TokenAccountStateInitialized)
	state, err = NewReader(fake).GetTokenState(context.Background(), mintAddr)
	require.NoError(t, err)
	assert.True(t, state.Burned)
	assert.False(t, state.Frozen)
	assert.Equal(t, bob, state.Owner)
}

func TestGetTokenStatePropagatesErrors(t *testing.T) {
	fake := ledgertest.NewFake()
	rpcErr := errors.New("connection reset")
	fake.Fail(ledgertest.MethodGetAccountInfo, mintAddr, rpcErr)

	_, err := NewReader(fake).GetTokenState(context.Background(), mintAddr)
	assert.ErrorIs(t, err, rpcErr)

	_, err = NewReader(fake).GetTokenState(context.Background(), "INVALID0ADDRESS")
	assert.ErrorIs(t, err, ledger.ErrInvalidAddress)
}

func TestCheckOwnership(t *testing.T) {
	tests := []struct {
		name  string
		state TokenState
		want  Verification
	}{
		{"not found", TokenState{Burned: true}, Verification{Reason: ReasonTokenNotFound}},
		{"burned", TokenState{Exists: true, Burned: true, Owner: alice}, Verification{Reason: ReasonTokenBurned, ActualOwner: alice}},
		{"mismatch", TokenState{Exists: true, Owner: bob}, Verification{Reason: ReasonOwnershipMismatch, ActualOwner: bob}},
		{"valid", TokenState{Exists: true, Owner: alice}, Verification{Valid: true, ActualOwner: alice}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CheckOwnership(tc.state, alice))
		})
	}
}

func TestVerifyOwnership(t *testing.T) {
	fake := ledgertest.NewFake()
	fake.SetMint(mintAddr, "1")
	fake.SetHolder(mintAddr, holderAddr, bob, "1", ledger.TokenAccountStateInitialized)

	v, err := NewReader(fake).VerifyOwnership(context.Background(), mintAddr, alice)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonOwnershipMismatch, v.Reason)
	assert.Equal(t, bob, v.ActualOwner)
}

func TestGetTransactionHistory(t *testing.T) {
	fake := ledgertest.NewFake()
	s1, s2, s3 := chaintest.Signature(1), chaintest.Signature(2), chaintest.Signature(3)
	fake.SetSignatures(mintAddr, []ledger.SignatureInfo{
		{Signature: s3, Slot: 30},
		{Signature: s2, Slot: 20},
		{Signature: s1, Slot: 10},
	})
	fake.AddTransaction(&ledger.Transaction{Signature: s3, Slot: 30, LogMessages: []string{"Program log: Instruction: Transfer"}})
	fake.AddTransaction(&ledger.Transaction{Signature: s1, Slot: 10, LogMessages: []string{"Program log: Instruction: MintNft"}})

	history, err := NewReader(fake).GetTransactionHistory(context.Background(), mintAddr, 0)
	require.NoError(t, err)

	var entries []HistoryEntry
	for e := range history {
		entries = append(entries, e)
	}

	require.Len(t, entries, 2)
	assert.Equal(t, s3, entries[0].Signature)
	assert.Equal(t, ledger.InstructionTransfer, entries[0].Type)
	assert.True(t, entries[0].Success)
	assert.Equal(t, s1, entries[1].Signature)
	assert.Equal(t, ledger.InstructionMintNFT, entries[1].Type)

	calls := fake.Calls(ledgertest.MethodGetTransaction)
	for range history {
		t.Fatal("history must not restart")
	}
	assert.Equal(t, calls, fake.Calls(ledgertest.MethodGetTransaction))
	assert.Equal(t, 1, fake.Calls(ledgertest.MethodGetSignaturesForAddress))
}

func TestGetTransactionHistoryIsLazy(t *testing.T) {
	fake := ledgertest.NewFake()
	s1, s2 := chaintest.Signature(1), chaintest.Signature(2)
	fake.SetSignatures(mintAddr, []ledger.SignatureInfo{{Signature: s2}, {Signature: s1}})
	fake.AddTransaction(&ledger.Transaction{Signature: s2})
	fake.AddTransaction(&ledger.Transaction{Signature: s1})

	history, err := NewReader(fake).GetTransactionHistory(context.Background(), mintAddr, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, fake.Calls(ledgertest.MethodGetTransaction))

	for range history {
		break
	}
	assert.Equal(t, 1, fake.Calls(ledgertest.MethodGetTransaction))
}

func TestGetNFTMetadata(t *testing.T) {
	mintKey := solana.MustPublicKeyFromBase58(mintAddr)
	creator := solana.MustPublicKeyFromBase58(alice)
	collection := solana.MustPublicKeyFromBase58(bob)

	creators := []metadataCreator{{Address: creator, Verified: true, Share: 100}}
	acc := metadataAccount{
		Key:             4,
		UpdateAuthority: creator,
		Mint:            mintKey,
		Data: metadataData{
			Name:                 "Concert #1\x00\x00\x00",
			Symbol:               "TIX\x00",
			URI:                  "https://example.org/1.json\x00\x00",
			SellerFeeBasisPoints: 500,
			Creators:             &creators,
		},
		IsMutable:  true,
		Collection: &metadataCollection{Verified: true, Key: collection},
	}
	var buf bytes.Buffer
	require.NoError(t, bin.NewBorshEncoder(&buf).Encode(&acc))

	addr, err := MetadataAddress(mintKey)
	require.NoError(t, err)

	fake := ledgertest.NewFake()
	fake.SetRawAccount(addr.String(), buf.Bytes())

	metadata := NewReader(fake).GetNFTMetadata(context.Background(), mintAddr)
	require.NotNil(t, metadata)
	assert.Equal(t, "Concert #1", metadata.Name)
	assert.Equal(t, "TIX", metadata.Symbol)
	assert.Equal(t, "https://example.org/1.json", metadata.URI)
	assert.Equal(t, uint16(500), metadata.SellerFeeBasisPoints)
	require.Len(t, metadata.Creators, 1)
	assert.Equal(t, alice, metadata.Creators[0].Address)
	require.NotNil(t, metadata.Collection)
	assert.Equal(t, bob, metadata.Collection.Address)
}

func TestGetNFTMetadataBestEffort(t *testing.T) {
	fake := ledgertest.NewFake()
	assert.Nil(t, NewReader(fake).GetNFTMetadata(context.Background(), mintAddr))
	assert.Nil(t, NewReader(fake).GetNFTMetadata(context.Background(), "INVALID0ADDRESS"))

	addr, err := MetadataAddress(solana.MustPublicKeyFromBase58(mintAddr))
	require.NoError(t, err)
	fake.SetRawAccount(addr.String(), []byte{4, 1, 2})
	assert.Nil(t, NewReader(fake).GetNFTMetadata(context.Background(), mintAddr))
}
