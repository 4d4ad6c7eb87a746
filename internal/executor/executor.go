// Package executor turns order requests into venue submissions: it takes
// presigned payloads when it can, retries transport failures within the
// order's validity, and stops talking to a venue that keeps failing.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// Venue posts and cancels signed orders.
type Venue interface {
	PostOrder(ctx context.Context, order domain.SignedOrder, typ domain.OrderType) (domain.OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// OrderSource returns a signed payload for a request, presigned when
// possible. cached reports a presign hit.
type OrderSource interface {
	GetOrSign(req domain.OrderRequest) (order domain.SignedOrder, cached bool, err error)
}

// Config tunes retries and the breaker.
type Config struct {
	DryRun           bool
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	CallTimeout      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// RateLimit caps submissions per RateWindow across processes when a
	// limiter is set.
	RateLimit  int
	RateWindow time.Duration
	DedupTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Second
	}
	if c.BreakerThreshold < 1 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 10 * time.Second
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 15 * time.Minute
	}
	return c
}

const rateKey = "polysnipe:submit"

// Executor submits orders. Safe for concurrent use.
type Executor struct {
	venue   Venue
	orders  OrderSource
	limiter domain.RateLimiter
	breaker *Breaker
	dedup   *Dedup
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Executor.
func New(venue Venue, orders OrderSource, cfg Config, logger *slog.Logger) *Executor {
	cfg = cfg.withDefaults()
	logger = logger.With(slog.String("component", "executor"))
	return &Executor{
		venue:   venue,
		orders:  orders,
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, logger),
		dedup:   NewDedup(cfg.DedupTTL),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetRateLimiter installs a shared submission limiter.
func (e *Executor) SetRateLimiter(l domain.RateLimiter) { e.limiter = l }

// SetClock replaces the time source of the executor and its breaker.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
	e.breaker.now = now
	e.dedup.now = now
}

// Breaker exposes the circuit breaker.
func (e *Executor) Breaker() *Breaker { return e.breaker }

// DryRun reports whether venue calls are suppressed.
func (e *Executor) DryRun() bool { return e.cfg.DryRun }

// Claim returns false when key was claimed within the dedup TTL.
func (e *Executor) Claim(key string) bool { return !e.dedup.IsDuplicate(key) }

// Submit signs req (cache first) and posts it, retrying transient
// failures with doubling backoff. Retries never start past
// req.ValidUntil. Rejections and auth failures are returned at once.
func (e *Executor) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if !e.cfg.DryRun && e.breaker.Rejecting() {
		return domain.OrderAck{}, fmt.Errorf("executor: submit %s: %w", req.ClientID, domain.ErrCircuitOpen)
	}
	order, cached, err := e.orders.GetOrSign(req)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("executor: sign %s: %w", req.ClientID, err)
	}

	log := e.logger.With(
		slog.String("client_id", req.ClientID),
		slog.String("outcome", req.Outcome.String()),
		slog.String("side", req.Side.String()),
		slog.Float64("price", req.Price),
		slog.Float64("size", req.Size),
	)

	if e.cfg.DryRun {
		log.Info("dry run submit", slog.Bool("presign", cached))
		return domain.OrderAck{
			OrderID:  "dry-" + uuid.NewString(),
			Accepted: true,
			Status:   "dry_run",
			DryRun:   true,
			Presign:  cached,
		}, nil
	}

	var lastErr error
	backoff := e.cfg.InitialBackoff
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if e.expired(req, 0) {
			return domain.OrderAck{}, e.stale(req, attempt-1, lastErr)
		}

		ack, err := e.post(ctx, req, order)
		if err == nil {
			ack.Attempts = attempt
			ack.Presign = cached
			if !ack.Accepted {
				return ack, fmt.Errorf("executor: submit %s: %s: %w", req.ClientID, ack.Message, domain.ErrSubmissionRejected)
			}
			log.Debug("order accepted", slog.String("order_id", ack.OrderID), slog.Int("attempt", attempt))
			return ack, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			return domain.OrderAck{}, fmt.Errorf("executor: submit %s: %w", req.ClientID, err)
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}
		if e.expired(req, backoff) {
			return domain.OrderAck{}, e.stale(req, attempt, lastErr)
		}
		log.Warn("submit retry", slog.Int("attempt", attempt), slog.Duration("backoff", backoff), slog.String("error", err.Error()))
		if err := sleep(ctx, backoff); err != nil {
			return domain.OrderAck{}, fmt.Errorf("executor: submit %s: %w", req.ClientID, err)
		}
		backoff = min(backoff*2, e.cfg.MaxBackoff)
	}
	return domain.OrderAck{}, fmt.Errorf("executor: submit %s after %d attempts: %w", req.ClientID, e.cfg.MaxAttempts, lastErr)
}

// post makes one guarded venue call.
func (e *Executor) post(ctx context.Context, req domain.OrderRequest, order domain.SignedOrder) (domain.OrderAck, error) {
	if !e.breaker.Allow() {
		return domain.OrderAck{}, domain.ErrCircuitOpen
	}
	if e.limiter != nil && e.cfg.RateLimit > 0 {
		ok, err := e.limiter.Allow(ctx, rateKey, e.cfg.RateLimit, e.cfg.RateWindow)
		if err != nil {
			e.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			// Throttled locally; the venue was never asked. Release the
			// probe slot without judging the venue.
			e.breaker.release()
			return domain.OrderAck{}, domain.ErrRateLimited
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if !req.ValidUntil.IsZero() {
		var c2 context.CancelFunc
		callCtx, c2 = context.WithDeadline(callCtx, req.ValidUntil)
		defer c2()
	}

	ack, err := e.venue.PostOrder(callCtx, order, req.Type)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrSubmissionTimeout) {
		err = fmt.Errorf("%w: %w", domain.ErrSubmissionTimeout, err)
	}
	e.judge(err)
	return ack, err
}

// judge feeds a venue call result to the breaker. Answers from the venue,
// rejections included, count as healthy.
func (e *Executor) judge(err error) {
	switch {
	case err == nil,
		errors.Is(err, domain.ErrSubmissionRejected),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotFound):
		e.breaker.Success()
	case errors.Is(err, context.Canceled):
		e.breaker.release()
	default:
		e.breaker.Failure()
	}
}

func (e *Executor) expired(req domain.OrderRequest, after time.Duration) bool {
	return !req.ValidUntil.IsZero() && !e.now().Add(after).Before(req.ValidUntil)
}

func (e *Executor) stale(req domain.OrderRequest, attempts int, last error) error {
	if last == nil {
		return fmt.Errorf("executor: submit %s: %w", req.ClientID, domain.ErrSignalStale)
	}
	return fmt.Errorf("executor: submit %s after %d attempts: %w: %w", req.ClientID, attempts, domain.ErrSignalStale, last)
}

// Cancel cancels a venue order with the same breaker and retry policy as
// Submit, bounded by ctx.
func (e *Executor) Cancel(ctx context.Context, orderID string) error {
	if e.cfg.DryRun {
		e.logger.Info("dry run cancel", slog.String("order_id", orderID))
		return nil
	}
	var lastErr error
	backoff := e.cfg.InitialBackoff
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if !e.breaker.Allow() {
			return fmt.Errorf("executor: cancel %s: %w", orderID, domain.ErrCircuitOpen)
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		err := e.venue.CancelOrder(callCtx, orderID)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil && timedOut && ctx.Err() == nil && !errors.Is(err, domain.ErrSubmissionTimeout) {
			err = fmt.Errorf("%w: %w", domain.ErrSubmissionTimeout, err)
		}
		e.judge(err)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || attempt == e.cfg.MaxAttempts {
			break
		}
		if err := sleep(ctx, backoff); err != nil {
			return fmt.Errorf("executor: cancel %s: %w", orderID, err)
		}
		backoff = min(backoff*2, e.cfg.MaxBackoff)
	}
	return fmt.Errorf("executor: cancel %s: %w", orderID, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
