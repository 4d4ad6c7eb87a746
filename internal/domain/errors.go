package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
	ErrWSDisconnect = errors.New("websocket disconnected")

	// Orderbook: the feed skipped a sequence number; the side must be
	// rebuilt from a snapshot before further deltas are accepted.
	ErrResyncRequired = errors.New("orderbook resync required")

	// Presign lookups. Both fall back to synchronous signing.
	ErrCacheMiss = errors.New("presign cache miss")
	ErrExpired   = errors.New("presigned order expired")

	// Submission. Rejections are never retried; timeouts and network
	// errors are retried within the signal's validity window.
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrSubmissionTimeout  = errors.New("submission timeout")
	ErrNetwork            = errors.New("network error")
	ErrSignalStale        = errors.New("signal no longer valid")
	ErrCircuitOpen        = errors.New("circuit breaker open")

	// ErrPartialFillImbalance marks one-sided exposure after a paired
	// submission. It is reported, not returned as a failure.
	ErrPartialFillImbalance = errors.New("partial fill imbalance")

	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrMarketSkipped     = errors.New("market skipped")
	ErrNotResolved       = errors.New("market not resolved")
	ErrRiskLimit         = errors.New("risk limit exceeded")
)

// IsRetryable reports whether a submission error may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSubmissionTimeout) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimited)
}
