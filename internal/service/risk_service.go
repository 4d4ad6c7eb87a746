// Package service holds cross-cutting checks that sit between the strategy
// and the executor.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/orderbook"
)

// RiskConfig holds the tunable parameters for pre-trade risk checks. A zero
// limit disables its check.
type RiskConfig struct {
	MaxMarketCost  float64
	LossLimit      float64
	MaxSlippageBps float64
}

// PositionReader is the slice of the position tracker the checks need.
type PositionReader interface {
	Position(marketID string) domain.Position
}

// PnLReader reports cumulative realized P&L.
type PnLReader interface {
	CumulativePnL() float64
}

// RiskService provides pre-trade risk checks to ensure orders stay within
// configured risk limits before being submitted.
type RiskService struct {
	positions PositionReader
	pnl       PnLReader
	cfg       RiskConfig
	logger    *slog.Logger
}

// NewRiskService creates a RiskService with all required dependencies.
func NewRiskService(positions PositionReader, pnl PnLReader, cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		positions: positions,
		pnl:       pnl,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk")),
	}
}

// AllowSession refuses a new market once the loss limit is reached.
func (s *RiskService) AllowSession(ctx context.Context, m domain.Market) error {
	if s.cfg.LossLimit <= 0 {
		return nil
	}
	if pnl := s.pnl.CumulativePnL(); pnl <= -s.cfg.LossLimit {
		s.logger.WarnContext(ctx, "loss limit reached",
			slog.String("market", m.Slug),
			slog.Float64("pnl", pnl),
			slog.Float64("limit", s.cfg.LossLimit),
		)
		return fmt.Errorf("risk_service: loss limit %.2f reached (pnl %.2f): %w", s.cfg.LossLimit, pnl, domain.ErrMarketSkipped)
	}
	return nil
}

// PreTradeCheck validates the legs of one submission against the
// configured limits. It returns a non-nil error describing the first failed
// check, or nil if all checks pass.
//
// Checks performed:
//  1. Cumulative loss limit
//  2. Market cost budget, counting what is already held
//  3. Each leg still reaches the current best ask
func (s *RiskService) PreTradeCheck(ctx context.Context, marketID string, legs []domain.OrderRequest, tops orderbook.Tops) error {
	if s.cfg.LossLimit > 0 {
		if pnl := s.pnl.CumulativePnL(); pnl <= -s.cfg.LossLimit {
			return fmt.Errorf("risk_service: loss limit %.2f reached: %w", s.cfg.LossLimit, domain.ErrRiskLimit)
		}
	}

	if s.cfg.MaxMarketCost > 0 {
		var cost float64
		for _, l := range legs {
			if l.Side == domain.OrderSideBuy {
				cost += l.Price * l.Size
			}
		}
		held := s.positions.Position(marketID).TotalCost()
		if held+cost > s.cfg.MaxMarketCost {
			s.logger.WarnContext(ctx, "market budget exceeded",
				slog.String("market_id", marketID),
				slog.Float64("held", held),
				slog.Float64("cost", cost),
				slog.Float64("max", s.cfg.MaxMarketCost),
			)
			return fmt.Errorf("risk_service: cost %.2f over budget (%.2f held, max %.2f): %w",
				cost, held, s.cfg.MaxMarketCost, domain.ErrRiskLimit)
		}
	}

	if s.cfg.MaxSlippageBps > 0 {
		for _, l := range legs {
			if bps := SlippageBps(l, tops); bps > s.cfg.MaxSlippageBps {
				return fmt.Errorf("risk_service: %s leg %.1f bps under the ask (max %.1f): %w",
					l.Outcome, bps, s.cfg.MaxSlippageBps, domain.ErrRiskLimit)
			}
		}
	}
	return nil
}

// SlippageBps is how far a buy leg's limit sits under the current best ask,
// in basis points of the limit price. Zero means the leg reaches the ask.
// A missing ask counts as unbounded.
func SlippageBps(leg domain.OrderRequest, tops orderbook.Tops) float64 {
	if leg.Side != domain.OrderSideBuy || leg.Price <= 0 {
		return 0
	}
	ask := tops.BestAsk[leg.Outcome]
	if ask <= 0 {
		return math.Inf(1)
	}
	if ask <= leg.Price {
		return 0
	}
	return (ask - leg.Price) / leg.Price * 10_000
}
