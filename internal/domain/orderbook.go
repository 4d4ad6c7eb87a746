package domain

import "time"

// BookSide selects the bid or ask half of an outcome's book.
type BookSide uint8

const (
	BookSideBid BookSide = iota
	BookSideAsk
)

func (s BookSide) String() string {
	if s == BookSideBid {
		return "bid"
	}
	return "ask"
}

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookDelta upserts one level; Size 0 removes it.
type BookDelta struct {
	AssetID   string
	Outcome   Outcome
	Side      BookSide
	Price     float64
	Size      float64
	Sequence  uint64
	Timestamp time.Time
}

// BookSnapshot replaces an outcome's book wholesale.
type BookSnapshot struct {
	AssetID   string
	Outcome   Outcome
	Bids      []PriceLevel
	Asks      []PriceLevel
	Sequence  uint64
	Timestamp time.Time
}
