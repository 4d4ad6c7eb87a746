package strategy

import (
	"log/slog"
	"math"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/ladder"
)

const (
	NameScalper = "scalper"

	defaultScalpTakeProfit = 0.05
	defaultScalpStopLoss   = 0.10
	defaultScalpSize       = 50.0
	defaultScalpMax        = 500.0
	defaultScalpEntry      = 0.50
)

// Scalper buys whichever outcome trades under the entry price while flat
// on it, parks a take-profit sell on every buy fill and dumps at the bid
// when the bid falls through the stop.
//
// Params: "entry_price" (float64, default 0.50).
type Scalper struct {
	cfg        Config
	takeProfit float64
	stopLoss   float64
	entry      float64
	logger     *slog.Logger
}

var _ ladder.Strategy = (*Scalper)(nil)

// NewScalper creates a Scalper strategy.
func NewScalper(cfg Config, logger *slog.Logger) *Scalper {
	s := &Scalper{
		cfg:        cfg,
		takeProfit: cfg.TakeProfit,
		stopLoss:   cfg.StopLoss,
		entry:      cfg.floatParam("entry_price", defaultScalpEntry),
		logger:     logger.With(slog.String("strategy", NameScalper)),
	}
	if s.takeProfit <= 0 {
		s.takeProfit = defaultScalpTakeProfit
	}
	if s.stopLoss <= 0 {
		s.stopLoss = defaultScalpStopLoss
	}
	return s
}

// Name returns the strategy identifier.
func (s *Scalper) Name() string { return NameScalper }

// PlanOrders emits entries on flat outcomes and stop-loss exits on held ones.
func (s *Scalper) PlanOrders(v ladder.View, p ladder.PlanParams) []ladder.Rung {
	var rungs []ladder.Rung
	limit := s.cfg.maxPosition(defaultScalpMax)
	for _, o := range domain.Outcomes {
		held := v.Position.Held(o)
		if held > 0 {
			avg := v.Position.AvgPrice(o)
			if bid := v.Tops.BestBid[o]; bid > 0 && bid <= avg*(1-s.stopLoss) {
				s.logger.Info("stop loss", slog.String("outcome", o.String()), slog.Float64("bid", bid), slog.Float64("entry", avg))
				rungs = append(rungs, ladder.Rung{Outcome: o, Side: domain.OrderSideSell, Price: bid, Size: held})
			}
			continue
		}
		if ask := v.Tops.BestAsk[o]; ask > 0 && ask < s.entry {
			size := floorSize(math.Min(s.cfg.size(defaultScalpSize), limit))
			rungs = append(rungs, ladder.Rung{Outcome: o, Side: domain.OrderSideBuy, Price: ask, Size: size})
		}
	}
	return rungs
}

// OnSignal snipes spread windows like the pure arb.
func (s *Scalper) OnSignal(v ladder.View, sig domain.Signal) ladder.Decision {
	return snipe(s.cfg, v, sig, defaultScalpSize, defaultScalpMax)
}

// OnFill parks a take-profit sell for every buy.
func (s *Scalper) OnFill(v ladder.View, f domain.Fill) ladder.Decision {
	if f.Side != domain.OrderSideBuy {
		return ladder.Hold
	}
	price := ceilTick(f.Price*(1+s.takeProfit), v.Market.Tick())
	if price >= 1 {
		return ladder.Hold
	}
	return ladder.Decision{
		Action: ladder.ActionExit,
		Rungs:  []ladder.Rung{{Outcome: f.Outcome, Side: domain.OrderSideSell, Price: price, Size: f.Size}},
		Reason: "take profit",
	}
}
