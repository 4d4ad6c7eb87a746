package domain

import "time"

// Fill is one execution against one of our orders. ID is the
// idempotency key: replays of the same fill are ignored.
type Fill struct {
	ID        string
	OrderID   string
	MarketID  string
	Outcome   Outcome
	Side      OrderSide
	Price     float64
	Size      float64
	Timestamp time.Time
}

// Cost is price times size in collateral units.
func (f Fill) Cost() float64 {
	return f.Price * f.Size
}
