package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/tickettoken/ticket-indexer/boff"
	"github.com/tickettoken/ticket-indexer/metrics"
)

// RetryingClient routes every call of the wrapped client through boff with
// the RPC policy and records per-attempt latency.
type RetryingClient struct {
	next    Client
	opts    boff.Options
	metrics metrics.Sink
}

func NewRetryingClient(next Client, opts boff.Options, sink metrics.Sink) *RetryingClient {
	if sink == nil {
		sink = metrics.Nop{}
	}
	opts.ShouldRetry = shouldRetry(opts.ShouldRetry)

	return &RetryingClient{next: next, opts: opts, metrics: sink}
}

// shouldRetry never retries lookups of things that do not exist or inputs
// that can never succeed.
func shouldRetry(base func(error) bool) func(error) bool {
	if base == nil {
		base = boff.IsRetryable
	}
	return func(err error) bool {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrInvalidSignature) {
			return false
		}
		return base(err)
	}
}

func retryCall[T any](ctx context.Context, c *RetryingClient, method string, op boff.Retryable[T]) (T, error) {
	opts := c.opts
	opts.Name = method

	return boff.Retry(ctx, func(ctx context.Context) (T, error) {
		start := time.Now()
		res, err := op(ctx)
		c.metrics.RPCLatency(method, time.Since(start))
		return res, err
	}, opts)
}

func (c *RetryingClient) GetParsedTransaction(ctx context.Context, signature string) (*Transaction, error) {
	return retryCall(ctx, c, "getTransaction", func(ctx context.Context) (*Transaction, error) {
		return c.next.GetParsedTransaction(ctx, signature)
	})
}

func (c *RetryingClient) GetParsedAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	return retryCall(ctx, c, "getAccountInfo", func(ctx context.Context) (*AccountInfo, error) {
		return c.next.GetParsedAccountInfo(ctx, address)
	})
}

func (c *RetryingClient) GetTokenLargestAccounts(ctx context.Context, mint string) ([]LargestAccount, error) {
	return retryCall(ctx, c, "getTokenLargestAccounts", func(ctx context.Context) ([]LargestAccount, error) {
		return c.next.GetTokenLargestAccounts(ctx, mint)
	})
}

func (c *RetryingClient) GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOptions) ([]SignatureInfo, error) {
	return retryCall(ctx, c, "getSignaturesForAddress", func(ctx context.Context) ([]SignatureInfo, error) {
		return c.next.GetSignaturesForAddress(ctx, address, opts)
	})
}

func (c *RetryingClient) GetSlot(ctx context.Context) (uint64, error) {
	return retryCall(ctx, c, "getSlot", func(ctx context.Context) (uint64, error) {
		return c.next.GetSlot(ctx)
	})
}
