// Package presign keeps signing off the hot path: every order the engine
// is likely to send for a market is signed before the market opens.
package presign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// Config controls arena construction.
type Config struct {
	Grid    Grid
	TTL     time.Duration
	Workers int
}

// Stats counts lookup outcomes since start.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Expired   uint64 `json:"expired"`
	SlowSigns uint64 `json:"slow_signs"`
	Entries   int    `json:"entries"`
}

// Cache is a double buffer of arenas. The current arena serves lookups
// while the next market's arena is built; Activate swaps them atomically
// so no reader ever sees a partially built arena.
type Cache struct {
	signer OrderSigner
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	current atomic.Pointer[Arena]
	next    atomic.Pointer[Arena]

	hits, misses, expired, slow atomic.Uint64
}

// New creates an empty cache that signs through signer.
func New(signer OrderSigner, cfg Config, logger *slog.Logger) *Cache {
	return &Cache{
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "presign")),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Build signs the full grid for market and stages the result as the
// next arena. It can take minutes and must finish before the market
// opens; callers bound it with ctx.
func (c *Cache) Build(ctx context.Context, market domain.Market) error {
	start := time.Now()
	a, err := buildArena(ctx, c.signer, market, c.cfg.Grid, c.cfg.TTL, c.cfg.Workers, c.now())
	if err != nil {
		return fmt.Errorf("presign: build %s: %w", market.Slug, err)
	}
	c.next.Store(a)
	c.logger.Info("arena built",
		slog.String("market", market.Slug),
		slog.Int("entries", a.Len()),
		slog.Duration("took", time.Since(start)),
		slog.Time("expires_at", a.ExpiresAt()),
	)
	return nil
}

// Activate promotes the staged arena for marketID to current, freeing
// the previous arena. It fails with domain.ErrMarketSkipped when no
// arena was staged for that market.
func (c *Cache) Activate(marketID string) error {
	staged := c.next.Load()
	if staged == nil || staged.MarketID() != marketID {
		return fmt.Errorf("presign: no staged arena for %s: %w", marketID, domain.ErrMarketSkipped)
	}
	if !c.next.CompareAndSwap(staged, nil) {
		return fmt.Errorf("presign: staged arena for %s replaced concurrently: %w", marketID, domain.ErrMarketSkipped)
	}
	c.current.Store(staged)
	return nil
}

// Release drops the current arena if it belongs to marketID. Eviction is
// always whole-market.
func (c *Cache) Release(marketID string) {
	if a := c.current.Load(); a != nil && a.MarketID() == marketID {
		c.current.CompareAndSwap(a, nil)
	}
	if a := c.next.Load(); a != nil && a.MarketID() == marketID {
		c.next.CompareAndSwap(a, nil)
	}
}

// Lookup is an exact-match read from the current arena.
func (c *Cache) Lookup(marketID string, o domain.Outcome, side domain.OrderSide, price, size float64) (domain.SignedOrder, error) {
	a := c.current.Load()
	if a == nil || a.MarketID() != marketID {
		c.misses.Add(1)
		return domain.SignedOrder{}, domain.ErrCacheMiss
	}
	order, err := a.Lookup(o, side, price, size, c.now())
	switch {
	case err == nil:
		c.hits.Add(1)
	case errors.Is(err, domain.ErrExpired):
		c.expired.Add(1)
	default:
		c.misses.Add(1)
	}
	return order, err
}

// errDatedOrder routes GTD requests past the arena: their payload
// carries an expiration the arena was not signed with.
var errDatedOrder = errors.New("presign: GTD payload is dated per request")

// GetOrSign serves req from the arena when possible and otherwise signs
// it synchronously. The bool reports whether the cache served it. Arena
// payloads have no expiration, so GTD requests always take the slow path.
func (c *Cache) GetOrSign(req domain.OrderRequest) (domain.SignedOrder, bool, error) {
	var (
		order domain.SignedOrder
		err   = errDatedOrder
	)
	if req.Type != domain.OrderTypeGTD {
		order, err = c.Lookup(req.MarketID, req.Outcome, req.Side, req.Price, req.Size)
		if err == nil {
			return order, true, nil
		}
	}

	c.slow.Add(1)
	c.logger.Warn("presign miss, signing on the hot path",
		slog.String("market_id", req.MarketID),
		slog.String("outcome", req.Outcome.String()),
		slog.Float64("price", req.Price),
		slog.Float64("size", req.Size),
		slog.String("reason", err.Error()),
	)
	order, err = c.signer.Sign(req)
	if err != nil {
		return domain.SignedOrder{}, false, fmt.Errorf("presign: slow sign: %w", err)
	}
	return order, false, nil
}

// Stats returns counters and the current arena size.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Expired:   c.expired.Load(),
		SlowSigns: c.slow.Load(),
	}
	if a := c.current.Load(); a != nil {
		s.Entries = a.Len()
	}
	return s
}
