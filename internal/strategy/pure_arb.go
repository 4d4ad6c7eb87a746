package strategy

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/ladder"
)

const (
	NamePureArb = "pure_arb"

	defaultArbSize        = 20.0
	defaultArbMaxPosition = 500.0
)

// PureArb rests a symmetric paired ladder under the asks and snipes every
// spread window at the quoted best asks. It never sells; rebalancing of
// one-sided fills is left to the ladder manager.
type PureArb struct {
	cfg    Config
	logger *slog.Logger
}

var _ ladder.Strategy = (*PureArb)(nil)

// NewPureArb creates a PureArb strategy.
func NewPureArb(cfg Config, logger *slog.Logger) *PureArb {
	return &PureArb{cfg: cfg, logger: logger.With(slog.String("strategy", NamePureArb))}
}

// Name returns the strategy identifier.
func (s *PureArb) Name() string { return NamePureArb }

// PlanOrders hangs the ladder one tick under each outcome's best ask.
func (s *PureArb) PlanOrders(v ladder.View, p ladder.PlanParams) []ladder.Rung {
	p.Reference = belowAsks(v, p.Tick)
	return ladder.Plan(p)
}

// OnSignal snipes the window, or pulls the ladder once resolution is
// within the exit lead.
func (s *PureArb) OnSignal(v ladder.View, sig domain.Signal) ladder.Decision {
	if s.cfg.ExitLead > 0 && v.TimeLeft() < s.cfg.ExitLead {
		return ladder.Decision{Action: ladder.ActionCancelAll, Reason: "exit lead reached"}
	}
	return snipe(s.cfg, v, sig, defaultArbSize, defaultArbMaxPosition)
}

// OnFill holds.
func (s *PureArb) OnFill(ladder.View, domain.Fill) ladder.Decision { return ladder.Hold }

// belowAsks is one tick under each best ask, or zero where a side is empty.
func belowAsks(v ladder.View, tick float64) [2]float64 {
	if tick <= 0 {
		tick = v.Market.Tick()
	}
	var ref [2]float64
	for _, o := range domain.Outcomes {
		if a := v.Tops.BestAsk[o]; a > tick {
			ref[o] = floorTick(a-tick, tick)
		}
	}
	if ref[0] == 0 || ref[1] == 0 {
		return [2]float64{}
	}
	return ref
}

// snipe turns a spread signal into a paired take at the signal's asks.
func snipe(cfg Config, v ladder.View, sig domain.Signal, defSize, defMax float64) ladder.Decision {
	if sig.Kind != domain.SignalSpread {
		return ladder.Hold
	}
	if edge := sig.Edge(); edge < cfg.MinEdge {
		return ladder.Decision{Action: ladder.ActionHold, Reason: fmt.Sprintf("edge %.4f below %.4f", edge, cfg.MinEdge)}
	}
	if cfg.MinFillProb > 0 && sig.FillProb >= 0 && sig.FillProb < cfg.MinFillProb {
		return ladder.Decision{Action: ladder.ActionHold, Reason: fmt.Sprintf("fill probability %.2f", sig.FillProb)}
	}
	if cfg.ExitLead > 0 && v.TimeLeft() < cfg.ExitLead {
		return ladder.Decision{Action: ladder.ActionHold, Reason: "too close to resolution"}
	}
	held := math.Max(v.Position.Held(domain.OutcomeUp), v.Position.Held(domain.OutcomeDown))
	size := floorSize(math.Min(cfg.size(defSize), cfg.maxPosition(defMax)-held))
	if size <= 0 {
		return ladder.Decision{Action: ladder.ActionHold, Reason: "position cap"}
	}
	return ladder.Decision{
		Action: ladder.ActionSnipe,
		Rungs: []ladder.Rung{
			{Outcome: domain.OutcomeUp, Side: domain.OrderSideBuy, Price: sig.BestAsk[domain.OutcomeUp], Size: size},
			{Outcome: domain.OutcomeDown, Side: domain.OrderSideBuy, Price: sig.BestAsk[domain.OutcomeDown], Size: size},
		},
		Reason: fmt.Sprintf("combined %.4f", sig.Combined),
	}
}
