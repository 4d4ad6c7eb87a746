package strategy

import "github.com/alanyoungcy/polysnipe/internal/domain"

// PriceTracker keeps the last N best asks per outcome.
type PriceTracker struct {
	size    int
	history [2][]float64
}

// NewPriceTracker creates a tracker holding up to size points per outcome.
func NewPriceTracker(size int) *PriceTracker {
	if size < 1 {
		size = 1
	}
	return &PriceTracker{size: size}
}

// Track records asks; zero entries (empty side) are skipped.
func (pt *PriceTracker) Track(asks [2]float64) {
	for _, o := range domain.Outcomes {
		p := asks[o]
		if p <= 0 {
			continue
		}
		h := append(pt.history[o], p)
		if len(h) > pt.size {
			h = h[len(h)-pt.size:]
		}
		pt.history[o] = h
	}
}

// Len is the number of points held for o.
func (pt *PriceTracker) Len(o domain.Outcome) int { return len(pt.history[o]) }

// Last returns the most recent price for o, or 0.
func (pt *PriceTracker) Last(o domain.Outcome) float64 {
	h := pt.history[o]
	if len(h) == 0 {
		return 0
	}
	return h[len(h)-1]
}

// Trend is the latest price minus the mean of the n points before it.
// ok is false until n+1 points exist.
func (pt *PriceTracker) Trend(o domain.Outcome, n int) (trend float64, ok bool) {
	h := pt.history[o]
	if n < 1 || len(h) < n+1 {
		return 0, false
	}
	prior := h[len(h)-1-n : len(h)-1]
	var sum float64
	for _, p := range prior {
		sum += p
	}
	return h[len(h)-1] - sum/float64(n), true
}
