// Package signal watches the combined best-ask of a market's two outcomes
// and reports each contiguous window in which it sits below the snipe
// threshold.
package signal

import (
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/orderbook"
)

// BookReader is the slice of the orderbook the engine needs.
type BookReader interface {
	Tops() orderbook.Tops
}

// Advisor supplies an optional fill-probability hint for a market.
type Advisor interface {
	FillProbability(marketID string) (float64, bool)
}

// Engine detects spread windows for one market. Observe is called from
// the market's single ingest goroutine and is not safe for concurrent use.
type Engine struct {
	marketID  string
	threshold float64
	book      BookReader
	advisor   Advisor

	window  uint64
	active  bool
	current domain.Signal
	last    float64
}

// NewEngine creates an engine; advisor may be nil.
func NewEngine(marketID string, threshold float64, book BookReader, advisor Advisor) *Engine {
	return &Engine{
		marketID:  marketID,
		threshold: threshold,
		book:      book,
		advisor:   advisor,
	}
}

// Observe recomputes the combined cost after a book update at ts. It
// returns a spread signal when a window opens and a resolved signal when
// it closes; otherwise ok is false. It does not allocate.
func (e *Engine) Observe(ts time.Time) (sig domain.Signal, ok bool) {
	tops := e.book.Tops()
	combined := tops.Combined()
	e.last = combined

	// A stale side holds old prices, so it never counts as below.
	below := tops.Complete() && combined < e.threshold
	switch {
	case below && !e.active:
		e.active = true
		e.window++
		e.current = domain.Signal{
			Kind:       domain.SignalSpread,
			MarketID:   e.marketID,
			Window:     e.window,
			Combined:   combined,
			BestAsk:    tops.BestAsk,
			DetectedAt: ts,
			FillProb:   -1,
		}
		if e.advisor != nil {
			if p, ok := e.advisor.FillProbability(e.marketID); ok {
				e.current.FillProb = p
			}
		}
		return e.current, true

	case !below && e.active:
		// An emptied or stale side also ends the window.
		e.active = false
		resolved := e.current
		resolved.Kind = domain.SignalResolved
		resolved.ResolvedAt = ts
		return resolved, true
	}
	return domain.Signal{}, false
}

// Active reports whether a window is currently open.
func (e *Engine) Active() bool { return e.active }

// Last is the most recently computed combined cost.
func (e *Engine) Last() float64 { return e.last }

// Windows is the number of windows opened so far.
func (e *Engine) Windows() uint64 { return e.window }
