package rpc

import (
	"context"
	"errors"
	"strings"
	"time"
)

// RetryPolicy controls the backoff loop applied to upstream RPC calls.
// It is an immutable value copied per call.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns the policy used when callers don't override it
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          8 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// NextDelay returns the delay to apply after the given one, capped at MaxDelay
func (p RetryPolicy) NextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.BackoffMultiplier)
	if next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}

// retryableFragments are substrings of upstream error messages that indicate
// a transient condition worth retrying: network blips, rate-limit responses,
// and stale-node responses.
var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"no such host",
	"429",
	"rate limit",
	"too many requests",
	"503",
	"service unavailable",
	"blockhash not found",
	"node is behind",
}

// IsRetryable classifies an upstream error as transient or terminal.
// Terminal errors (malformed input, permanent rejections) propagate
// immediately; transient ones go through the backoff loop. Explicit
// cancellation is never retried; a per-attempt deadline is treated as an
// upstream timeout and retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}
