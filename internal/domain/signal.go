package domain

import "time"

// SignalKind distinguishes spread window events.
type SignalKind uint8

const (
	SignalNone SignalKind = iota
	SignalSpread
	SignalResolved
)

func (k SignalKind) String() string {
	switch k {
	case SignalSpread:
		return "spread"
	case SignalResolved:
		return "resolved"
	}
	return "none"
}

// Signal describes one sub-threshold window. A spread event carries
// DetectedAt; the matching resolved event also carries ResolvedAt.
type Signal struct {
	Kind       SignalKind
	MarketID   string
	Window     uint64 // monotonically increasing per market
	Combined   float64
	BestAsk    [2]float64 // indexed by Outcome
	DetectedAt time.Time
	ResolvedAt time.Time
	// FillProb is the advisory fill-probability hint, or -1 when none.
	FillProb float64
}

// Duration is the measured window length; zero until resolved.
func (s Signal) Duration() time.Duration {
	if s.ResolvedAt.IsZero() {
		return 0
	}
	return s.ResolvedAt.Sub(s.DetectedAt)
}

// Edge is the guaranteed profit per share pair at the signal's prices.
func (s Signal) Edge() float64 {
	return 1 - s.Combined
}
