package presign

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"golang.org/x/sync/errgroup"
)

// OrderSigner is the slow path: it builds and signs one order.
type OrderSigner interface {
	Sign(req domain.OrderRequest) (domain.SignedOrder, error)
}

// Arena holds every presigned payload for one market in a flat slice.
// It is immutable once built and freed as a whole.
type Arena struct {
	market    domain.Market
	grid      Grid
	prices    map[int32]int
	sizes     map[int64]int
	sides     [2]int // OrderSide -> position in grid.Sides, -1 if absent
	orders    []domain.SignedOrder
	builtAt   time.Time
	expiresAt time.Time
}

// MarketID returns the market the arena was signed for.
func (a *Arena) MarketID() string { return a.market.ID }

// Len is the number of payloads held.
func (a *Arena) Len() int { return len(a.orders) }

// ExpiresAt is when every payload in the arena stops being served.
func (a *Arena) ExpiresAt() time.Time { return a.expiresAt }

func (a *Arena) index(o domain.Outcome, si, pi, zi int) int {
	return ((int(o)*len(a.grid.Sides)+si)*len(a.grid.Prices)+pi)*len(a.grid.Sizes) + zi
}

// Lookup returns the payload for an exact grid point.
func (a *Arena) Lookup(o domain.Outcome, side domain.OrderSide, price, size float64, now time.Time) (domain.SignedOrder, error) {
	if now.After(a.expiresAt) {
		return domain.SignedOrder{}, domain.ErrExpired
	}
	if o > domain.OutcomeDown || side > domain.OrderSideSell {
		return domain.SignedOrder{}, domain.ErrCacheMiss
	}
	si := a.sides[side]
	pi, okP := a.prices[priceKey(price)]
	zi, okS := a.sizes[sizeKey(size)]
	if si < 0 || !okP || !okS {
		return domain.SignedOrder{}, domain.ErrCacheMiss
	}
	return a.orders[a.index(o, si, pi, zi)], nil
}

// buildArena signs every grid point with at most workers signatures in
// flight. The arena expires at now+ttl or the market end, whichever is first.
func buildArena(ctx context.Context, signer OrderSigner, market domain.Market, grid Grid, ttl time.Duration, workers int, now time.Time) (*Arena, error) {
	if len(grid.Prices) == 0 || len(grid.Sizes) == 0 {
		return nil, fmt.Errorf("presign: empty grid for %s", market.Slug)
	}

	a := &Arena{
		market:  market,
		grid:    grid,
		prices:  make(map[int32]int, len(grid.Prices)),
		sizes:   make(map[int64]int, len(grid.Sizes)),
		sides:   [2]int{-1, -1},
		orders:  make([]domain.SignedOrder, grid.Len()),
		builtAt: now,
	}
	for i, p := range grid.Prices {
		a.prices[priceKey(p)] = i
	}
	for i, s := range grid.Sizes {
		a.sizes[sizeKey(s)] = i
	}
	for i, s := range grid.Sides {
		a.sides[s] = i
	}
	a.expiresAt = now.Add(ttl)
	if !market.EndsAt.IsZero() && market.EndsAt.Before(a.expiresAt) {
		a.expiresAt = market.EndsAt
	}

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, o := range domain.Outcomes {
		for si, side := range grid.Sides {
			for pi, price := range grid.Prices {
				for zi, size := range grid.Sizes {
					idx := a.index(o, si, pi, zi)
					req := domain.OrderRequest{
						MarketID: market.ID,
						TokenID:  market.TokenID(o),
						Outcome:  o,
						Side:     side,
						Type:     domain.OrderTypeFOK,
						Price:    price,
						Size:     size,
						NegRisk:  market.NegRisk,
					}
					g.Go(func() error {
						if err := gctx.Err(); err != nil {
							return err
						}
						signed, err := signer.Sign(req)
						if err != nil {
							return fmt.Errorf("presign: sign %s %s %.2f x %.2f: %w", o, side, price, size, err)
						}
						a.orders[idx] = signed
						return nil
					})
				}
			}
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return a, nil
}
