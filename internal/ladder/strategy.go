package ladder

import (
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/orderbook"
)

// Action is what a strategy asks the session to do.
type Action uint8

const (
	ActionHold Action = iota
	// ActionPlace adds Rungs to the ladder as resting orders.
	ActionPlace
	// ActionSnipe submits Rungs immediately as a paired fill-or-kill.
	ActionSnipe
	// ActionCancelAll pulls every non-terminal order.
	ActionCancelAll
	// ActionExit places sell Rungs against held shares.
	ActionExit
)

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "hold"
	case ActionPlace:
		return "place"
	case ActionSnipe:
		return "snipe"
	case ActionCancelAll:
		return "cancel_all"
	case ActionExit:
		return "exit"
	}
	return "unknown"
}

// Decision is a strategy's answer to an event.
type Decision struct {
	Action Action
	Rungs  []Rung
	Reason string
}

// Hold is the no-op decision.
var Hold = Decision{Action: ActionHold}

// View is the read-only market state handed to a strategy.
type View struct {
	Market   domain.Market
	Tops     orderbook.Tops
	Position domain.Position
	Now      time.Time
}

// TimeLeft is the time until the market resolves.
func (v View) TimeLeft() time.Duration {
	return v.Market.TimeToResolution(v.Now)
}

// Strategy parameterizes the ladder. Implementations must be safe for
// use from a single session goroutine; they are never shared across
// markets.
type Strategy interface {
	Name() string
	PlanOrders(v View, p PlanParams) []Rung
	OnSignal(v View, sig domain.Signal) Decision
	OnFill(v View, f domain.Fill) Decision
}
