package strategy

import (
	"log/slog"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/ladder"
)

const (
	NameMomentum = "momentum"

	defaultMomentumHistory   = 20
	defaultMomentumLookback  = 5
	defaultMomentumThreshold = 0.03
	defaultMomentumSize      = 20.0
	defaultMomentumMax       = 200.0
)

// Momentum buys the outcome whose ask has risen by at least the threshold
// over the mean of the previous lookback observations.
//
// Params: "history" (int, 20), "lookback" (int, 5), "threshold" (float64, 0.03).
type Momentum struct {
	cfg       Config
	prices    *PriceTracker
	lookback  int
	threshold float64
	logger    *slog.Logger
}

var _ ladder.Strategy = (*Momentum)(nil)

// NewMomentum creates a Momentum strategy.
func NewMomentum(cfg Config, logger *slog.Logger) *Momentum {
	return &Momentum{
		cfg:       cfg,
		prices:    NewPriceTracker(cfg.intParam("history", defaultMomentumHistory)),
		lookback:  cfg.intParam("lookback", defaultMomentumLookback),
		threshold: cfg.floatParam("threshold", defaultMomentumThreshold),
		logger:    logger.With(slog.String("strategy", NameMomentum)),
	}
}

// Name returns the strategy identifier.
func (s *Momentum) Name() string { return NameMomentum }

// Trending returns the outcome with the strongest rise past the
// threshold, if any.
func (s *Momentum) Trending() (domain.Outcome, float64, bool) {
	var (
		best   domain.Outcome
		bestTr float64
		found  bool
	)
	for _, o := range domain.Outcomes {
		tr, ok := s.prices.Trend(o, s.lookback)
		if ok && tr >= s.threshold && tr > bestTr {
			best, bestTr, found = o, tr, true
		}
	}
	return best, bestTr, found
}

// PlanOrders records the asks and buys the trending outcome at its ask.
func (s *Momentum) PlanOrders(v ladder.View, _ ladder.PlanParams) []ladder.Rung {
	s.prices.Track(v.Tops.BestAsk)
	o, tr, ok := s.Trending()
	if !ok {
		return nil
	}
	held := v.Position.Held(o)
	size := floorSize(min(s.cfg.size(defaultMomentumSize), s.cfg.maxPosition(defaultMomentumMax)-held))
	if size <= 0 {
		return nil
	}
	s.logger.Debug("trend", slog.String("outcome", o.String()), slog.Float64("trend", tr))
	return []ladder.Rung{{Outcome: o, Side: domain.OrderSideBuy, Price: v.Tops.BestAsk[o], Size: size}}
}

// OnSignal records the window's asks and otherwise holds.
func (s *Momentum) OnSignal(_ ladder.View, sig domain.Signal) ladder.Decision {
	if sig.Kind == domain.SignalSpread {
		s.prices.Track(sig.BestAsk)
	}
	return ladder.Hold
}

// OnFill holds.
func (s *Momentum) OnFill(ladder.View, domain.Fill) ladder.Decision { return ladder.Hold }
