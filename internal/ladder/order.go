package ladder

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// State is a ladder order's lifecycle position.
type State uint8

const (
	StatePending State = iota
	StateResting
	StatePartiallyFilled
	StateFilled
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResting:
		return "resting"
	case StatePartiallyFilled:
		return "partially_filled"
	case StateFilled:
		return "filled"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFilled || s == StateCancelled
}

// allowed[from][to]
var allowed = [5][5]bool{
	StatePending:         {StateResting: true, StateCancelled: true},
	StateResting:         {StatePartiallyFilled: true, StateFilled: true, StateCancelled: true},
	StatePartiallyFilled: {StateResting: true, StateFilled: true, StateCancelled: true},
}

// Order is one resting limit order of the ladder.
type Order struct {
	ID         string
	VenueID    string
	Outcome    domain.Outcome
	Side       domain.OrderSide
	Price      float64
	TargetSize float64
	FilledSize float64
	State      State
	Urgent     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time

	inflight bool // a submit or cancel is outstanding
	amended  bool // target changed after the order reached the venue
}

// Remaining is the unfilled part of the target.
func (o *Order) Remaining() float64 {
	if r := o.TargetSize - o.FilledSize; r > sizeEpsilon {
		return r
	}
	return 0
}

func (o *Order) transition(to State, at time.Time) error {
	if o.State == to {
		return nil
	}
	if !allowed[o.State][to] {
		return fmt.Errorf("ladder: order %s %s -> %s: %w", o.ID, o.State, to, domain.ErrInvalidTransition)
	}
	o.State = to
	o.UpdatedAt = at
	return nil
}

// applyFill adds size to the filled amount, clamped to the target, and
// returns the part that was not absorbed.
func (o *Order) applyFill(size float64, at time.Time) (overfill float64, err error) {
	absorb := size
	if room := o.TargetSize - o.FilledSize; absorb > room {
		absorb = room
		overfill = size - room
	}
	o.FilledSize += absorb
	o.UpdatedAt = at

	if o.State.Terminal() {
		// A fill raced the cancel; keep the accounting, not the state.
		return overfill, nil
	}
	if o.State == StatePending {
		if err := o.transition(StateResting, at); err != nil {
			return overfill, err
		}
	}
	if o.Remaining() == 0 {
		return overfill, o.transition(StateFilled, at)
	}
	return overfill, o.transition(StatePartiallyFilled, at)
}
