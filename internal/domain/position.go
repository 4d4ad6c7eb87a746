package domain

// Position is a read-only view of holdings in one market, indexed by
// Outcome. Shares and Cost count buys only and never decrease; sells are
// kept apart in Sold and Proceeds.
type Position struct {
	MarketID string
	Shares   [2]float64 // bought
	Cost     [2]float64 // paid for Shares
	Sold     [2]float64
	Proceeds [2]float64
	Fills    int
	Resolved bool
}

// Held is the inventory of o: bought minus sold shares.
func (p Position) Held(o Outcome) float64 {
	return p.Shares[o] - p.Sold[o]
}

// AvgPrice is the average buy price of o, zero before any buy.
func (p Position) AvgPrice(o Outcome) float64 {
	if p.Shares[o] <= 0 {
		return 0
	}
	return p.Cost[o] / p.Shares[o]
}

// TotalCost is the combined cost of both outcomes.
func (p Position) TotalCost() float64 {
	return p.Cost[OutcomeUp] + p.Cost[OutcomeDown]
}

// Imbalance is held UP shares minus held DOWN shares.
func (p Position) Imbalance() float64 {
	return p.Held(OutcomeUp) - p.Held(OutcomeDown)
}

// IsBalanced reports whether the UP/DOWN share ratio sits in [0.8, 1.2].
func (p Position) IsBalanced() bool {
	up, down := p.Held(OutcomeUp), p.Held(OutcomeDown)
	if up == 0 && down == 0 {
		return true
	}
	if up == 0 || down == 0 {
		return false
	}
	r := up / down
	return r >= 0.8 && r <= 1.2
}

// Exposure is unhedged inventory on one outcome that needs the
// opposite side bought to lock in the payout.
type Exposure struct {
	MarketID string
	Outcome  Outcome // the side we hold too much of
	Shares   float64
	Price    float64 // average entry of the exposed shares
	OrderID  string
	Urgent   bool
}
