package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// PositionSource is the slice of position.Tracker the handler reads.
type PositionSource interface {
	Positions() []domain.Position
	LockedProfit(marketID string) decimal.Decimal
	WorstCasePayout(marketID string) decimal.Decimal
}

// PositionHandler serves GET /api/positions.
type PositionHandler struct {
	positions PositionSource
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionSource, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

type positionView struct {
	MarketID        string  `json:"market_id"`
	UpShares        float64 `json:"up_shares"`
	DownShares      float64 `json:"down_shares"`
	UpSold          float64 `json:"up_sold,omitempty"`
	DownSold        float64 `json:"down_sold,omitempty"`
	UpCost          float64 `json:"up_cost"`
	DownCost        float64 `json:"down_cost"`
	Fills           int     `json:"fills"`
	Imbalance       float64 `json:"imbalance"`
	Balanced        bool    `json:"balanced"`
	LockedProfit    string  `json:"locked_profit"`
	WorstCasePayout string  `json:"worst_case_payout"`
	Resolved        bool    `json:"resolved"`
}

// ListPositions renders every tracked market. ?open=1 hides resolved ones.
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "1"

	out := []positionView{}
	for _, p := range h.positions.Positions() {
		if openOnly && p.Resolved {
			continue
		}
		out = append(out, positionView{
			MarketID:        p.MarketID,
			UpShares:        p.Held(domain.OutcomeUp),
			DownShares:      p.Held(domain.OutcomeDown),
			UpSold:          p.Sold[domain.OutcomeUp],
			DownSold:        p.Sold[domain.OutcomeDown],
			UpCost:          p.Cost[domain.OutcomeUp],
			DownCost:        p.Cost[domain.OutcomeDown],
			Fills:           p.Fills,
			Imbalance:       p.Imbalance(),
			Balanced:        p.IsBalanced(),
			LockedProfit:    h.positions.LockedProfit(p.MarketID).StringFixed(4),
			WorstCasePayout: h.positions.WorstCasePayout(p.MarketID).StringFixed(4),
			Resolved:        p.Resolved,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}
