package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/tickettoken/ticket-indexer/boff"
	"github.com/tickettoken/ticket-indexer/config"
	"golang.org/x/time/rate"
)

// SolanaClient implements Client on top of a Solana JSON-RPC node. It does
// not retry; wrap it in a RetryingClient for that.
type SolanaClient struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	limiter    *rate.Limiter
	timeout    time.Duration
}

func NewSolanaClient(cfg config.ChainConfig) (*SolanaClient, error) {
	nodeURL, err := cfg.FullNodeURL()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: statusTransport{base: http.DefaultTransport},
	}
	rpcClient := rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(nodeURL.String(), &jsonrpc.RPCClientOpts{
		HTTPClient: httpClient,
	}))

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultTimeoutMillis) * time.Millisecond
	}

	return &SolanaClient{
		rpc:        rpcClient,
		commitment: rpc.CommitmentType(cfg.Commitment),
		limiter:    rate.NewLimiter(limit, burst),
		timeout:    timeout,
	}, nil
}

func (c *SolanaClient) GetParsedTransaction(ctx context.Context, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, signature)
	}

	maxVersion := uint64(0)
	var out *rpc.GetTransactionResult
	err = c.call(ctx, func(ctx context.Context) (err error) {
		out, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}

	return convertTransaction(signature, out)
}

func (c *SolanaClient) GetParsedAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	var out *rpc.GetAccountInfoResult
	err = c.call(ctx, func(ctx context.Context) (err error) {
		out, err = c.rpc.GetAccountInfoWithOpts(ctx, pk, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingJSONParsed,
			Commitment: c.commitment,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, ErrNotFound
	}

	info := &AccountInfo{
		Address:  address,
		Owner:    out.Value.Owner.String(),
		Lamports: out.Value.Lamports,
	}
	if out.Value.Data != nil {
		info.Data = out.Value.Data.GetBinary()
		info.Parsed = out.Value.Data.GetRawJSON()
	}
	return info, nil
}

func (c *SolanaClient) GetTokenLargestAccounts(ctx context.Context, mint string) ([]LargestAccount, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, mint)
	}

	var out *rpc.GetTokenLargestAccountsResult
	err = c.call(ctx, func(ctx context.Context) (err error) {
		out, err = c.rpc.GetTokenLargestAccounts(ctx, pk, c.commitment)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	accounts := make([]LargestAccount, 0, len(out.Value))
	for _, acc := range out.Value {
		if acc == nil {
			continue
		}
		accounts = append(accounts, LargestAccount{
			Address: acc.Address.String(),
			Amount:  acc.Amount,
		})
	}
	return accounts, nil
}

func (c *SolanaClient) GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOptions) ([]SignatureInfo, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	rpcOpts := &rpc.GetSignaturesForAddressOpts{Commitment: c.commitment}
	if opts.Limit > 0 {
		limit := opts.Limit
		rpcOpts.Limit = &limit
	}
	if opts.Before != "" {
		if rpcOpts.Before, err = solana.SignatureFromBase58(opts.Before); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, opts.Before)
		}
	}
	if opts.Until != "" {
		if rpcOpts.Until, err = solana.SignatureFromBase58(opts.Until); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, opts.Until)
		}
	}

	var out []*rpc.TransactionSignature
	err = c.call(ctx, func(ctx context.Context) (err error) {
		out, err = c.rpc.GetSignaturesForAddressWithOpts(ctx, pk, rpcOpts)
		return err
	})
	if err != nil {
		return nil, err
	}

	infos := make([]SignatureInfo, 0, len(out))
	for _, s := range out {
		if s == nil {
			continue
		}
		info := SignatureInfo{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
			Err:       errString(s.Err),
		}
		if s.BlockTime != nil {
			t := s.BlockTime.Time().UTC()
			info.BlockTime = &t
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *SolanaClient) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.call(ctx, func(ctx context.Context) (err error) {
		slot, err = c.rpc.GetSlot(ctx, c.commitment)
		return err
	})
	return slot, err
}

// call applies the client side rate limit and the per request timeout, and
// translates errors into the kinds understood by boff and the callers.
func (c *SolanaClient) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, capture := withStatusCapture(ctx)
	return translateError(fn(ctx), capture.get())
}

func translateError(err error, status *boff.StatusError) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rpc.ErrNotFound) {
		return ErrNotFound
	}
	if status != nil {
		status.Err = err
		return status
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return &boff.JSONRPCError{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	return err
}

func convertTransaction(signature string, out *rpc.GetTransactionResult) (*Transaction, error) {
	tx := &Transaction{
		Signature: signature,
		Slot:      out.Slot,
	}
	if out.BlockTime != nil {
		t := out.BlockTime.Time().UTC()
		tx.BlockTime = &t
	}

	var keys solana.PublicKeySlice
	if out.Transaction != nil {
		parsed, err := out.Transaction.GetTransaction()
		if err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", signature, err)
		}
		keys = append(keys, parsed.Message.AccountKeys...)
		if out.Meta != nil {
			keys = append(keys, out.Meta.LoadedAddresses.Writable...)
			keys = append(keys, out.Meta.LoadedAddresses.ReadOnly...)
		}

		for _, k := range keys {
			tx.Accounts = append(tx.Accounts, k.String())
		}
		for _, ins := range parsed.Message.Instructions {
			instruction := Instruction{
				ProgramID: keyAt(keys, ins.ProgramIDIndex),
				Data:      ins.Data.String(),
			}
			for _, idx := range ins.Accounts {
				instruction.Accounts = append(instruction.Accounts, keyAt(keys, idx))
			}
			tx.Instructions = append(tx.Instructions, instruction)
		}
	}

	if out.Meta != nil {
		tx.Err = errString(out.Meta.Err)
		tx.Fee = out.Meta.Fee
		tx.LogMessages = out.Meta.LogMessages
		tx.PreTokenBalances = convertBalances(out.Meta.PreTokenBalances)
		tx.PostTokenBalances = convertBalances(out.Meta.PostTokenBalances)
	}

	return tx, nil
}

func convertBalances(balances []rpc.TokenBalance) []TokenBalance {
	res := make([]TokenBalance, 0, len(balances))
	for _, b := range balances {
		tb := TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint.String(),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			tb.Amount = b.UiTokenAmount.Amount
			tb.Decimals = b.UiTokenAmount.Decimals
		}
		res = append(res, tb)
	}
	return res
}

func keyAt(keys solana.PublicKeySlice, idx uint16) string {
	if int(idx) >= len(keys) {
		return ""
	}
	return keys[idx].String()
}

func errString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
