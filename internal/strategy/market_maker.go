package strategy

import (
	"log/slog"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/ladder"
)

const (
	NameMarketMaker = "market_maker"

	defaultMMSpread       = 0.02
	defaultMMOrderSize    = 25.0
	defaultMMMaxInventory = 200.0
)

// MarketMaker quotes both outcomes around the mid: a bid half a spread
// under while inventory is below the cap, an offer half a spread over
// while holding shares. The ladder manager still drops any bid pair
// priced over the margin.
//
// Params: "spread" (float64, default 0.02).
type MarketMaker struct {
	cfg    Config
	spread float64
	logger *slog.Logger
}

var _ ladder.Strategy = (*MarketMaker)(nil)

// NewMarketMaker creates a MarketMaker strategy.
func NewMarketMaker(cfg Config, logger *slog.Logger) *MarketMaker {
	return &MarketMaker{
		cfg:    cfg,
		spread: cfg.floatParam("spread", defaultMMSpread),
		logger: logger.With(slog.String("strategy", NameMarketMaker)),
	}
}

// Name returns the strategy identifier.
func (s *MarketMaker) Name() string { return NameMarketMaker }

// PlanOrders quotes each outcome that has a two-sided book.
func (s *MarketMaker) PlanOrders(v ladder.View, p ladder.PlanParams) []ladder.Rung {
	tick := p.Tick
	if tick <= 0 {
		tick = v.Market.Tick()
	}
	size := s.cfg.size(defaultMMOrderSize)
	limit := s.cfg.maxPosition(defaultMMMaxInventory)

	var rungs []ladder.Rung
	for _, o := range domain.Outcomes {
		bid, ask := v.Tops.BestBid[o], v.Tops.BestAsk[o]
		if bid <= 0 || ask <= 0 {
			continue
		}
		mid := (bid + ask) / 2
		held := v.Position.Held(o)
		if held < limit {
			if b := floorTick(mid-s.spread/2, tick); b >= tick {
				rungs = append(rungs, ladder.Rung{Outcome: o, Side: domain.OrderSideBuy, Price: b, Size: floorSize(min(size, limit-held))})
			}
		}
		if held > 0 {
			if a := ceilTick(mid+s.spread/2, tick); a < 1 {
				rungs = append(rungs, ladder.Rung{Outcome: o, Side: domain.OrderSideSell, Price: a, Size: floorSize(min(size, held))})
			}
		}
	}
	return rungs
}

// OnSignal holds; the maker stays passive.
func (s *MarketMaker) OnSignal(ladder.View, domain.Signal) ladder.Decision { return ladder.Hold }

// OnFill offers filled bids back a full spread higher.
func (s *MarketMaker) OnFill(v ladder.View, f domain.Fill) ladder.Decision {
	if f.Side != domain.OrderSideBuy {
		return ladder.Hold
	}
	price := ceilTick(f.Price+s.spread, v.Market.Tick())
	if price >= 1 {
		return ladder.Hold
	}
	return ladder.Decision{
		Action: ladder.ActionExit,
		Rungs:  []ladder.Rung{{Outcome: f.Outcome, Side: domain.OrderSideSell, Price: price, Size: f.Size}},
		Reason: "requote",
	}
}
