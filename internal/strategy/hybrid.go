package strategy

import (
	"log/slog"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/ladder"
)

const (
	NameHybrid = "hybrid"

	defaultHybridHistory   = 10
	defaultHybridThreshold = 0.02
	defaultHybridTP        = 0.05
	// hybridTilt stays inside the balanced share ratio band.
	hybridTilt = 1.2
)

// Hybrid runs the pure-arb ladder, leans its sizes toward a trending
// outcome and takes profit on half of each buy.
type Hybrid struct {
	arb        *PureArb
	mom        *Momentum
	takeProfit float64
	logger     *slog.Logger
}

var _ ladder.Strategy = (*Hybrid)(nil)

// NewHybrid creates a Hybrid strategy.
func NewHybrid(cfg Config, logger *slog.Logger) *Hybrid {
	mcfg := cfg
	mcfg.Params = map[string]any{
		"history":   cfg.intParam("history", defaultHybridHistory),
		"lookback":  cfg.intParam("lookback", defaultMomentumLookback),
		"threshold": cfg.floatParam("threshold", defaultHybridThreshold),
	}
	tp := cfg.TakeProfit
	if tp <= 0 {
		tp = defaultHybridTP
	}
	return &Hybrid{
		arb:        NewPureArb(cfg, logger),
		mom:        NewMomentum(mcfg, logger),
		takeProfit: tp,
		logger:     logger.With(slog.String("strategy", NameHybrid)),
	}
}

// Name returns the strategy identifier.
func (s *Hybrid) Name() string { return NameHybrid }

// PlanOrders plans the arb ladder, tilted toward the trending outcome.
func (s *Hybrid) PlanOrders(v ladder.View, p ladder.PlanParams) []ladder.Rung {
	s.mom.prices.Track(v.Tops.BestAsk)
	if o, _, ok := s.mom.Trending(); ok {
		p.Weight[o] = hybridTilt
		p.Weight[o.Opposite()] = 1
	}
	return s.arb.PlanOrders(v, p)
}

// OnSignal defers to the arb.
func (s *Hybrid) OnSignal(v ladder.View, sig domain.Signal) ladder.Decision {
	if sig.Kind == domain.SignalSpread {
		s.mom.prices.Track(sig.BestAsk)
	}
	return s.arb.OnSignal(v, sig)
}

// OnFill offers half of a buy back at the take-profit price.
func (s *Hybrid) OnFill(v ladder.View, f domain.Fill) ladder.Decision {
	if f.Side != domain.OrderSideBuy {
		return ladder.Hold
	}
	half := floorSize(f.Size / 2)
	price := ceilTick(f.Price*(1+s.takeProfit), v.Market.Tick())
	if half <= 0 || price >= 1 {
		return ladder.Hold
	}
	return ladder.Decision{
		Action: ladder.ActionExit,
		Rungs:  []ladder.Rung{{Outcome: f.Outcome, Side: domain.OrderSideSell, Price: price, Size: half}},
		Reason: "take profit half",
	}
}
