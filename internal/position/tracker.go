// Package position turns fills into per-market holdings and books
// realized P&L when a market resolves. Amounts are kept as decimals so
// cents never drift.
package position

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// ErrInvalidFill rejects fills that cannot be booked.
var ErrInvalidFill = errors.New("position: invalid fill")

var one = decimal.NewFromInt(1)

type book struct {
	mu       sync.Mutex
	fills    []domain.Fill // delivery order
	seen     map[string]struct{}
	shares   [2]decimal.Decimal // bought; never decreases
	cost     [2]decimal.Decimal // paid for shares; never decreases
	sold     [2]decimal.Decimal
	proceeds [2]decimal.Decimal
	resolved bool
	result   domain.MarketResult
	pnl      decimal.Decimal
}

// Tracker holds positions for every market the process has traded.
// Safe for concurrent use; each market has its own lock.
type Tracker struct {
	mu         sync.RWMutex
	books      map[string]*book
	cumulative decimal.Decimal
	logger     *slog.Logger
	now        func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		books:  make(map[string]*book),
		logger: logger.With(slog.String("component", "position")),
		now:    time.Now,
	}
}

func (t *Tracker) book(marketID string, create bool) *book {
	t.mu.RLock()
	b := t.books[marketID]
	t.mu.RUnlock()
	if b != nil || !create {
		return b
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if b = t.books[marketID]; b == nil {
		b = &book{seen: make(map[string]struct{})}
		t.books[marketID] = b
	}
	return b
}

// RecordFill books f. It returns false, with no error, for a fill id
// already seen. Fills arriving after resolution are booked and the
// market's realized P&L is adjusted.
func (t *Tracker) RecordFill(f domain.Fill) (bool, error) {
	if f.ID == "" || f.MarketID == "" || f.Size <= 0 || f.Price <= 0 || f.Price >= 1 {
		return false, fmt.Errorf("%w: %+v", ErrInvalidFill, f)
	}
	b := t.book(f.MarketID, true)

	b.mu.Lock()
	if _, dup := b.seen[f.ID]; dup {
		b.mu.Unlock()
		return false, nil
	}
	b.seen[f.ID] = struct{}{}
	b.fills = append(b.fills, f)

	size := decimal.NewFromFloat(f.Size)
	value := decimal.NewFromFloat(f.Price).Mul(size)
	o := f.Outcome
	switch f.Side {
	case domain.OrderSideBuy:
		b.shares[o] = b.shares[o].Add(size)
		b.cost[o] = b.cost[o].Add(value)
	default:
		if held := b.held(o); size.GreaterThan(held) {
			t.logger.Warn("sell exceeds held shares",
				slog.String("market", f.MarketID),
				slog.String("outcome", o.String()),
				slog.String("held", held.String()),
				slog.Float64("size", f.Size),
			)
		}
		b.sold[o] = b.sold[o].Add(size)
		b.proceeds[o] = b.proceeds[o].Add(value)
	}

	var delta decimal.Decimal
	if b.resolved {
		pnl := b.realized(b.result.Winner)
		delta = pnl.Sub(b.pnl)
		b.pnl = pnl
		b.result = b.snapshotResult(b.result)
		t.logger.Warn("fill after resolution",
			slog.String("market", f.MarketID),
			slog.String("fill", f.ID),
			slog.String("pnl_delta", delta.String()),
		)
	}
	b.mu.Unlock()

	if !delta.IsZero() {
		t.mu.Lock()
		t.cumulative = t.cumulative.Add(delta)
		t.mu.Unlock()
	}
	return true, nil
}

func (b *book) held(o domain.Outcome) decimal.Decimal {
	return b.shares[o].Sub(b.sold[o])
}

// realized is the held winner shares at 1 each plus sale proceeds minus
// the cost of both outcomes. Without sells it is winner shares minus
// (cost UP + cost DOWN). Caller holds b.mu.
func (b *book) realized(winner domain.Outcome) decimal.Decimal {
	pnl := b.held(winner).Mul(one)
	for _, o := range domain.Outcomes {
		pnl = pnl.Add(b.proceeds[o]).Sub(b.cost[o])
	}
	return pnl
}

func (b *book) snapshotResult(r domain.MarketResult) domain.MarketResult {
	for _, o := range domain.Outcomes {
		r.Shares[o] = b.shares[o].InexactFloat64()
		r.Cost[o] = b.cost[o].InexactFloat64()
	}
	r.RealizedPnL = b.pnl.InexactFloat64()
	return r
}

// RealizedPnL is what the market pays if winner resolves: held winner
// shares at 1 each plus any sale proceeds, minus total cost.
func (t *Tracker) RealizedPnL(marketID string, winner domain.Outcome) decimal.Decimal {
	b := t.book(marketID, false)
	if b == nil {
		return decimal.Zero
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realized(winner)
}

// WorstCasePayout is the P&L under the less favourable outcome:
// min(held UP, held DOWN) plus proceeds minus total cost.
func (t *Tracker) WorstCasePayout(marketID string) decimal.Decimal {
	b := t.book(marketID, false)
	if b == nil {
		return decimal.Zero
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return decimal.Min(b.realized(domain.OutcomeUp), b.realized(domain.OutcomeDown))
}

// LockedProfit is the worst case floored at zero.
func (t *Tracker) LockedProfit(marketID string) decimal.Decimal {
	return decimal.Max(t.WorstCasePayout(marketID), decimal.Zero)
}

// Position returns the current holdings of a market.
func (t *Tracker) Position(marketID string) domain.Position {
	p := domain.Position{MarketID: marketID}
	b := t.book(marketID, false)
	if b == nil {
		return p
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range domain.Outcomes {
		p.Shares[o] = b.shares[o].InexactFloat64()
		p.Cost[o] = b.cost[o].InexactFloat64()
		p.Sold[o] = b.sold[o].InexactFloat64()
		p.Proceeds[o] = b.proceeds[o].InexactFloat64()
	}
	p.Fills = len(b.fills)
	p.Resolved = b.resolved
	return p
}

// Positions returns every tracked market, sorted by id.
func (t *Tracker) Positions() []domain.Position {
	t.mu.RLock()
	ids := make([]string, 0, len(t.books))
	for id := range t.books {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)

	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.Position(id))
	}
	return out
}

// Fills returns the market's fills in delivery order.
func (t *Tracker) Fills(marketID string) []domain.Fill {
	b := t.book(marketID, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Fill(nil), b.fills...)
}

// Resolve books the market's realized P&L into the cumulative total.
// Resolving again returns the first result unchanged.
func (t *Tracker) Resolve(marketID string, winner domain.Outcome) domain.MarketResult {
	b := t.book(marketID, true)
	b.mu.Lock()
	if b.resolved {
		r := b.result
		b.mu.Unlock()
		return r
	}
	b.resolved = true
	b.pnl = b.realized(winner)
	b.result = b.snapshotResult(domain.MarketResult{
		MarketID:   marketID,
		Winner:     winner,
		ResolvedAt: t.now(),
	})
	r := b.result
	pnl := b.pnl
	b.mu.Unlock()

	t.mu.Lock()
	t.cumulative = t.cumulative.Add(pnl)
	t.mu.Unlock()

	t.logger.Info("market resolved",
		slog.String("market", marketID),
		slog.String("winner", winner.String()),
		slog.String("pnl", pnl.String()),
	)
	return r
}

// Unresolved lists markets holding fills whose P&L is still deferred.
func (t *Tracker) Unresolved() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, b := range t.books {
		b.mu.Lock()
		if !b.resolved && len(b.fills) > 0 {
			ids = append(ids, id)
		}
		b.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// CumulativePnL is the sum of realized P&L over resolved markets.
func (t *Tracker) CumulativePnL() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cumulative
}

// Evict drops a resolved market's book. Unresolved books are kept.
func (t *Tracker) Evict(marketID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.books[marketID]
	if b == nil {
		return false
	}
	b.mu.Lock()
	resolved := b.resolved
	b.mu.Unlock()
	if !resolved {
		return false
	}
	delete(t.books, marketID)
	return true
}
