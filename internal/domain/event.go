package domain

import (
	"context"
	"time"
)

// EventKind names a bus event.
type EventKind string

const (
	EventSpread   EventKind = "spread"
	EventResolved EventKind = "resolved"
	EventFill     EventKind = "fill"
	EventExposure EventKind = "exposure"
	EventPnL      EventKind = "pnl"
)

// Event is what a market session announces to other processes.
type Event struct {
	Kind       EventKind `json:"kind"`
	MarketID   string    `json:"market_id"`
	Slug       string    `json:"slug,omitempty"`
	At         time.Time `json:"at"`
	Window     uint64    `json:"window,omitempty"`
	Combined   float64   `json:"combined,omitempty"`
	UpAsk      float64   `json:"up_ask,omitempty"`
	DownAsk    float64   `json:"down_ask,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Side       string    `json:"side,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Size       float64   `json:"size,omitempty"`
	PnL        float64   `json:"pnl,omitempty"`
	Total      float64   `json:"total,omitempty"`
}

// EventSink receives session events. Delivery is best effort.
type EventSink interface {
	Announce(ctx context.Context, e Event) error
}

// SignalEvent converts a window signal into a bus event.
func SignalEvent(slug string, s Signal) Event {
	e := Event{
		Kind:     EventSpread,
		MarketID: s.MarketID,
		Slug:     slug,
		At:       s.DetectedAt,
		Window:   s.Window,
		Combined: s.Combined,
		UpAsk:    s.BestAsk[OutcomeUp],
		DownAsk:  s.BestAsk[OutcomeDown],
	}
	if s.Kind == SignalResolved {
		e.Kind = EventResolved
		e.At = s.ResolvedAt
		e.DurationMS = s.Duration().Milliseconds()
	}
	return e
}
