package boff

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tickettoken/ticket-indexer/config"
)

func fastOptions(maxRetries int) Options {
	return Options{
		Name:              "test",
		MaxRetries:        maxRetries,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
		JitterPercent:     10,
	}
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	res, err := Execute(context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	}, fastOptions(3))

	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 1, res.Attempts)
}

func TestRetryTerminatesAndPreservesError(t *testing.T) {
	retryableErr := &StatusError{StatusCode: http.StatusServiceUnavailable}

	calls := 0
	_, err := Retry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, retryableErr
	}, fastOptions(2))

	assert.Equal(t, 3, calls)
	require.Error(t, err)
	assert.Same(t, retryableErr, err)
}

func TestRetryNonRetryableCalledOnce(t *testing.T) {
	permanent := errors.New("invalid params")

	calls := 0
	_, err := Retry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, permanent
	}, fastOptions(5))

	assert.Equal(t, 1, calls)
	assert.Same(t, permanent, err)
}

func TestRetryZeroRetriesSingleAttempt(t *testing.T) {
	calls := 0
	err := RetryNoReturn(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("read: %w", context.DeadlineExceeded)
	}, fastOptions(0))

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var delays []time.Duration
	opts := fastOptions(4)
	opts.OnRetry = func(_ error, attempt int, delay time.Duration) {
		delays = append(delays, delay)
		assert.Equal(t, len(delays), attempt)
	}

	res, err := Execute(context.Background(), func(context.Context) (int, error) {
		if len(delays) < 2 {
			return 0, errors.New("connection reset by peer")
		}
		return 42, nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, delays, 2)
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "1")
	rateLimited := &StatusError{StatusCode: http.StatusTooManyRequests, Header: header}

	opts := fastOptions(1)
	var observed time.Duration
	opts.OnRetry = func(err error, _ int, delay time.Duration) {
		observed = delay
		assert.Same(t, rateLimited, err)
	}

	calls := 0
	start := time.Now()
	_, err := Retry(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, rateLimited
		}
		return 1, nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, time.Second, observed)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestRetryInvalidRetryAfterFallsBack(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "soon")
	rateLimited := &StatusError{StatusCode: http.StatusTooManyRequests, Header: header}

	opts := fastOptions(1)
	var observed time.Duration
	opts.OnRetry = func(_ error, _ int, delay time.Duration) { observed = delay }

	calls := 0
	_, err := Retry(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, rateLimited
		}
		return 1, nil
	}, opts)

	require.NoError(t, err)
	assert.Less(t, observed, 10*time.Millisecond)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := fastOptions(10)
	opts.InitialDelay = time.Hour
	opts.MaxDelay = time.Hour
	opts.OnRetry = func(error, int, time.Duration) { cancel() }

	calls := 0
	_, err := Retry(ctx, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("timeout")
	}, opts)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWrap(t *testing.T) {
	calls := 0
	op := Wrap(func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", &JSONRPCError{Code: -32005, Message: "node is behind"}
		}
		return "done", nil
	}, fastOptions(3))

	v, err := op(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 2, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{StatusCode: 429}, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"404", &StatusError{StatusCode: 404}, false},
		{"node behind", &JSONRPCError{Code: -32005}, true},
		{"internal", &JSONRPCError{Code: -32603}, true},
		{"invalid params", &JSONRPCError{Code: -32602}, false},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"message", errors.New("read tcp: connection reset by peer"), true},
		{"plain", errors.New("account not found"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(&StatusError{StatusCode: 429}))
	assert.True(t, IsRateLimited(errors.New("Rate Limit exceeded")))
	assert.False(t, IsRateLimited(&StatusError{StatusCode: 500}))
	assert.False(t, IsRateLimited(nil))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("3", now)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(5*time.Second).Format(http.TimeFormat), now)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	_, ok = ParseRetryAfter("-1", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("later", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("", now)
	assert.False(t, ok)
}

func TestIsRetryableDBError(t *testing.T) {
	assert.True(t, IsRetryableDBError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"}))
	assert.True(t, IsRetryableDBError(&mysql.MySQLError{Number: 1205}))
	assert.False(t, IsRetryableDBError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.True(t, IsRetryableDBError(mysql.ErrInvalidConn))
	assert.False(t, IsRetryableDBError(errors.New("record not found")))
}

func TestWithOverrides(t *testing.T) {
	opts := RPCOptions().WithOverrides(config.RetryPolicyConfig{MaxRetries: 9, InitialDelayMs: 50})
	assert.Equal(t, 9, opts.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, opts.InitialDelay)
	assert.Equal(t, 30*time.Second, opts.MaxDelay)
}

func TestPresets(t *testing.T) {
	rateLimited := &StatusError{StatusCode: http.StatusTooManyRequests}
	deadlock := &mysql.MySQLError{Number: 1213}

	for _, opts := range []Options{RPCOptions(), MarketplaceOptions(), HTTPOptions()} {
		t.Run(opts.Name, func(t *testing.T) {
			assert.True(t, opts.ShouldRetry(rateLimited))
			assert.True(t, opts.IsRateLimited(rateLimited))
			assert.LessOrEqual(t, opts.InitialDelay, opts.MaxDelay)
		})
	}

	db := DatabaseOptions()
	assert.True(t, db.ShouldRetry(deadlock))
	assert.False(t, db.IsRateLimited(rateLimited))
}
