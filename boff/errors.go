package boff

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// StatusError is an HTTP response that the caller considers failed.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Err        error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("http status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.StatusCode == http.StatusTooManyRequests {
		msg += " (rate limit)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// JSONRPCError is an error object returned in a JSON-RPC response body.
type JSONRPCError struct {
	Code    int
	Message string
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

const (
	rpcCodeInternal        = -32603
	rpcCodeServerErrorHigh = -32000
	rpcCodeServerErrorLow  = -32099
)

// retryable JSON-RPC server codes; the range -32000..-32099 is reserved for
// implementation defined server errors, which Solana nodes use for "node is
// behind", "slot skipped" and friends. Of those, these are not transient.
var permanentServerCodes = map[int]bool{
	-32002: true, // transaction simulation failed
	-32003: true, // transaction signature verification failure
	-32602: true, // invalid params
}

var transientMessageTokens = []string{
	"econnreset",
	"econnrefused",
	"etimedout",
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"too many requests",
	"rate limit",
	"node is behind",
	"node is unhealthy",
	"try again",
}

// IsRetryable is the default ShouldRetry: network failures, timeouts,
// 429 and 5xx responses and JSON-RPC server errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		if permanentServerCodes[rpcErr.Code] {
			return false
		}
		return rpcErr.Code == rpcCodeInternal ||
			(rpcErr.Code <= rpcCodeServerErrorHigh && rpcErr.Code >= rpcCodeServerErrorLow)
	}

	if isNetworkError(err) {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), transientMessageTokens)
}

// IsRateLimited is the default rate-limit classifier.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// RetryAfter extracts the Retry-After hint of err, given either as
// delta-seconds or as an HTTP date.
func RetryAfter(err error) (time.Duration, bool) {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Header == nil {
		return 0, false
	}
	return ParseRetryAfter(statusErr.Header.Get("Retry-After"), time.Now())
}

func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}

// IsRetryableDBError classifies MySQL errors: lock wait timeouts, deadlocks,
// connection exhaustion and dropped connections are retried, everything else
// (including duplicate keys) is not.
func IsRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1040, 1205, 1213:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return isNetworkError(err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
