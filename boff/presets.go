package boff

import (
	"time"

	"github.com/tickettoken/ticket-indexer/config"
)

// RPCOptions is the policy for ledger RPC calls.
func RPCOptions() Options {
	return Options{
		Name:              "rpc",
		MaxRetries:        5,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		JitterPercent:     20,
		ShouldRetry:       IsRetryable,
		IsRateLimited:     IsRateLimited,
	}
}

// MarketplaceOptions is the policy for external marketplace HTTP APIs, which
// rate limit aggressively.
func MarketplaceOptions() Options {
	return Options{
		Name:              "marketplace",
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		JitterPercent:     25,
		ShouldRetry:       IsRetryable,
		IsRateLimited:     IsRateLimited,
	}
}

func DatabaseOptions() Options {
	return Options{
		Name:              "database",
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2,
		JitterPercent:     10,
		ShouldRetry:       IsRetryableDBError,
		IsRateLimited:     func(error) bool { return false },
	}
}

func HTTPOptions() Options {
	return Options{
		Name:              "http",
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          15 * time.Second,
		BackoffMultiplier: 2,
		JitterPercent:     20,
		ShouldRetry:       IsRetryable,
		IsRateLimited:     IsRateLimited,
	}
}

// WithOverrides applies the non-zero fields of cfg on top of o.
func (o Options) WithOverrides(cfg config.RetryPolicyConfig) Options {
	if cfg.MaxRetries > 0 {
		o.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialDelayMs > 0 {
		o.InitialDelay = time.Duration(cfg.InitialDelayMs) * time.Millisecond
	}
	if cfg.MaxDelayMs > 0 {
		o.MaxDelay = time.Duration(cfg.MaxDelayMs) * time.Millisecond
	}
	if cfg.BackoffMultiplier > 0 {
		o.BackoffMultiplier = cfg.BackoffMultiplier
	}
	if cfg.JitterPercent > 0 {
		o.JitterPercent = cfg.JitterPercent
	}
	return o
}
