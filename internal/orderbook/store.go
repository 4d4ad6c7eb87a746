// Package orderbook keeps per-market, per-outcome price levels built from
// the venue's sequenced delta stream.
package orderbook

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

var errInvalidLevel = errors.New("orderbook: invalid level")

type book struct {
	bids    side
	asks    side
	lastSeq uint64
	stale   bool // set on a gap, cleared by the next snapshot
}

// Tops is a consistent read of both outcomes' best prices. A zero price
// means that side of the book is empty. Stale marks an outcome frozen
// after a sequence gap; its prices are the last ones applied.
type Tops struct {
	BestBid   [2]float64
	BestAsk   [2]float64
	Stale     [2]bool
	UpdatedAt time.Time
}

// Complete reports whether both outcomes have a best ask and neither is
// waiting for a snapshot.
func (t Tops) Complete() bool {
	return t.BestAsk[domain.OutcomeUp] > 0 && t.BestAsk[domain.OutcomeDown] > 0 &&
		!t.Stale[domain.OutcomeUp] && !t.Stale[domain.OutcomeDown]
}

// Combined is the sum of both best asks.
func (t Tops) Combined() float64 {
	return t.BestAsk[domain.OutcomeUp] + t.BestAsk[domain.OutcomeDown]
}

// Store holds the book for one market. It has a single writer (the
// feed ingest goroutine) and any number of readers; readers never see a
// half-applied delta.
type Store struct {
	marketID string

	mu        sync.RWMutex
	books     [2]book
	updatedAt time.Time
}

// New creates an empty store for the market.
func New(marketID string) *Store {
	s := &Store{marketID: marketID}
	for i := range s.books {
		s.books[i].bids.desc = true
	}
	return s
}

// MarketID returns the market this store belongs to.
func (s *Store) MarketID() string {
	return s.marketID
}

// ApplyDelta upserts one level. A sequence at or below the last applied
// one is ignored. A gap marks the outcome stale and returns
// domain.ErrResyncRequired until ApplySnapshot repairs it.
func (s *Store) ApplyDelta(d domain.BookDelta) error {
	if d.Outcome > domain.OutcomeDown || d.Price <= 0 || d.Size < 0 {
		return fmt.Errorf("%w: %s %s %.4f x %.4f", errInvalidLevel, d.Outcome, d.Side, d.Price, d.Size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := &s.books[d.Outcome]
	if d.Sequence <= b.lastSeq {
		return nil
	}
	if b.stale {
		return fmt.Errorf("orderbook: %s: awaiting snapshot: %w", d.Outcome, domain.ErrResyncRequired)
	}
	if d.Sequence != b.lastSeq+1 {
		b.stale = true
		return fmt.Errorf("orderbook: %s: seq %d after %d: %w", d.Outcome, d.Sequence, b.lastSeq, domain.ErrResyncRequired)
	}

	if d.Side == domain.BookSideBid {
		b.bids.set(d.Price, d.Size)
	} else {
		b.asks.set(d.Price, d.Size)
	}
	b.lastSeq = d.Sequence
	s.updatedAt = d.Timestamp
	return nil
}

// ApplySnapshot replaces an outcome's book atomically. Snapshots older
// than the last applied sequence are ignored unless the side is stale.
func (s *Store) ApplySnapshot(snap domain.BookSnapshot) error {
	if snap.Outcome > domain.OutcomeDown {
		return fmt.Errorf("%w: outcome %d", errInvalidLevel, snap.Outcome)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := &s.books[snap.Outcome]
	if !b.stale && snap.Sequence < b.lastSeq {
		return nil
	}
	b.bids.replace(snap.Bids)
	b.asks.replace(snap.Asks)
	b.lastSeq = snap.Sequence
	b.stale = false
	s.updatedAt = snap.Timestamp
	return nil
}

// BestAsk returns the lowest ask for the outcome.
func (s *Store) BestAsk(o domain.Outcome) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[o].asks.best()
}

// BestBid returns the highest bid for the outcome.
func (s *Store) BestBid(o domain.Outcome) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[o].bids.best()
}

// Tops reads all four best prices under one lock.
func (s *Store) Tops() Tops {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Tops
	for _, o := range domain.Outcomes {
		t.BestBid[o], _ = s.books[o].bids.best()
		t.BestAsk[o], _ = s.books[o].asks.best()
		t.Stale[o] = s.books[o].stale
	}
	t.UpdatedAt = s.updatedAt
	return t
}

// Depth copies up to n levels of one side, best first. n <= 0 copies all.
func (s *Store) Depth(o domain.Outcome, bs domain.BookSide, n int) []domain.PriceLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bs == domain.BookSideBid {
		return s.books[o].bids.depth(n)
	}
	return s.books[o].asks.depth(n)
}

// Sequence is the last applied sequence for the outcome.
func (s *Store) Sequence(o domain.Outcome) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[o].lastSeq
}

// Stale reports whether the outcome is waiting for a snapshot.
func (s *Store) Stale(o domain.Outcome) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[o].stale
}
