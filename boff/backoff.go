// This file contains helper functions for retrying operations with exponential backoff.
// Every RPC, database and HTTP call goes through Execute so that there is exactly one
// retry algorithm in the codebase; call classes only differ in their Options preset.
package boff

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tickettoken/ticket-indexer/logger"
)

// Retryable is any fallible operation that can be retried.
type Retryable[T any] func(ctx context.Context) (T, error)

// Options is the retry policy. It is a plain value: copy and modify presets freely.
type Options struct {
	Name              string
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterPercent     float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	ShouldRetry func(error) bool
	// IsRateLimited marks errors whose Retry-After hint should replace the
	// computed delay. Defaults to IsRateLimited.
	IsRateLimited func(error) bool
	// OnRetry is called before each wait. It cannot influence control flow.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// Result carries the value of a successful execution and the number of
// attempts it took.
type Result[T any] struct {
	Value    T
	Attempts int
}

// Execute runs operation until it succeeds, fails with a non-retryable error,
// runs out of retries or ctx is done. The returned error is the last error of
// the operation, never wrapped.
func Execute[T any](ctx context.Context, operation Retryable[T], opts Options) (Result[T], error) {
	opts = opts.withDefaults()

	var (
		attempts int
		lastErr  error
	)

	op := func() (T, error) {
		attempts++
		res, err := operation(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !opts.ShouldRetry(err) {
			return res, backoff.Permanent(err)
		}

		if opts.IsRateLimited(err) {
			if d, ok := RetryAfter(err); ok {
				return res, &backoff.RetryAfterError{Duration: d}
			}
		}

		return res, err
	}

	value, err := backoff.Retry(
		ctx,
		op,
		backoff.WithBackOff(opts.exponentialBackOff()),
		backoff.WithMaxTries(uint(opts.MaxRetries)+1),
		backoff.WithMaxElapsedTime(0), // bounded by MaxRetries only
		backoff.WithNotify(
			func(_ error, d time.Duration) {
				logger.Debug("%s error: %s - retrying after %v (attempt %d)", opts.Name, lastErr, d, attempts)
				if opts.OnRetry != nil {
					opts.OnRetry(lastErr, attempts, d)
				}
			},
		),
	)

	result := Result[T]{Value: value, Attempts: attempts}
	if err == nil {
		return result, nil
	}

	if lastErr == nil || isContextStop(ctx, err) {
		return result, err
	}

	return result, lastErr
}

// Retry is Execute without the attempt count.
func Retry[T any](ctx context.Context, operation Retryable[T], opts Options) (T, error) {
	res, err := Execute(ctx, operation, opts)
	return res.Value, err
}

func RetryNoReturn(ctx context.Context, operation func(ctx context.Context) error, opts Options) error {
	_, err := Retry(
		ctx,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, operation(ctx)
		},
		opts,
	)

	return err
}

// Wrap returns operation with the retry policy baked in.
func Wrap[T any](operation Retryable[T], opts Options) Retryable[T] {
	return func(ctx context.Context) (T, error) {
		return Retry(ctx, operation, opts)
	}
}

// isContextStop reports whether Retry gave up because ctx ended while
// waiting, rather than because the operation failed.
func isContextStop(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Cause(ctx)) || errors.Is(err, ctx.Err())
}

func (o Options) exponentialBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     o.InitialDelay,
		RandomizationFactor: o.JitterPercent / 100,
		Multiplier:          o.BackoffMultiplier,
		MaxInterval:         o.MaxDelay,
	}
	b.Reset()
	return b
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "operation"
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = backoff.DefaultInitialInterval
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = backoff.DefaultMaxInterval
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = backoff.DefaultMultiplier
	}
	if o.JitterPercent < 0 {
		o.JitterPercent = 0
	}
	if o.JitterPercent > 100 {
		o.JitterPercent = 100
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = IsRetryable
	}
	if o.IsRateLimited == nil {
		o.IsRateLimited = IsRateLimited
	}
	return o
}
