package domain

import "time"

// Outcome indexes one side of a binary market.
type Outcome uint8

const (
	OutcomeUp Outcome = iota
	OutcomeDown
)

// Outcomes lists both outcomes in index order.
var Outcomes = [2]Outcome{OutcomeUp, OutcomeDown}

func (o Outcome) String() string {
	if o == OutcomeUp {
		return "up"
	}
	return "down"
}

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	return OutcomeDown - o
}

// ParseOutcome maps venue outcome labels onto Outcome.
func ParseOutcome(label string) (Outcome, bool) {
	switch label {
	case "up", "Up", "UP", "yes", "Yes", "YES":
		return OutcomeUp, true
	case "down", "Down", "DOWN", "no", "No", "NO":
		return OutcomeDown, true
	}
	return 0, false
}

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusUpcoming MarketStatus = "upcoming"
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is one short-timer binary market with two complementary tokens.
type Market struct {
	ID       string // condition id
	Slug     string
	Question string
	TokenIDs [2]string // indexed by Outcome
	NegRisk  bool
	TickSize float64
	StartsAt time.Time
	EndsAt   time.Time
	Status   MarketStatus
	Winner   *Outcome
}

// TokenID returns the ERC-1155 token id for the outcome.
func (m Market) TokenID(o Outcome) string {
	return m.TokenIDs[o]
}

// OutcomeOf maps a token id back to its outcome.
func (m Market) OutcomeOf(tokenID string) (Outcome, bool) {
	for _, o := range Outcomes {
		if m.TokenIDs[o] == tokenID {
			return o, true
		}
	}
	return 0, false
}

// TimeToResolution is the time left until the market's end timestamp.
func (m Market) TimeToResolution(now time.Time) time.Duration {
	return m.EndsAt.Sub(now)
}

// Tick returns the market tick size, defaulting to one cent.
func (m Market) Tick() float64 {
	if m.TickSize <= 0 {
		return 0.01
	}
	return m.TickSize
}
