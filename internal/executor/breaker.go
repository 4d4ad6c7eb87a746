package executor

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing fast
	BreakerHalfOpen                     // one probe in flight
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker opens after Threshold consecutive failures and rejects calls
// until Cooldown has passed. It then lets exactly one probe through; the
// probe's outcome closes or reopens it. Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	onOpen    func()
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger,
	}
}

// OnOpen registers a callback run (outside the lock) each time the
// breaker opens.
func (b *Breaker) OnOpen(fn func()) { b.onOpen = fn }

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		b.logger.Info("circuit breaker half-open")
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Rejecting reports, without changing state, whether Allow would refuse
// a call right now.
func (b *Breaker) Rejecting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		return b.now().Sub(b.openedAt) < b.cooldown
	case BreakerHalfOpen:
		return b.probing
	}
	return false
}

// Success records a call that reached the venue and got an answer.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.logger.Info("circuit breaker closed")
	}
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// Failure records a transport failure.
func (b *Breaker) Failure() {
	b.mu.Lock()
	opened := false
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
			opened = true
			b.logger.Warn("circuit breaker open", slog.Int("failures", b.failures))
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.probing = false
		opened = true
		b.logger.Warn("circuit breaker reopened after probe")
	}
	fn := b.onOpen
	b.mu.Unlock()

	if opened && fn != nil {
		fn()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// release frees a half-open probe slot for a call that never reached the
// venue.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}
