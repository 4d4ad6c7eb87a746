package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/runtime"
)

// SessionSource exposes the process context.
type SessionSource interface {
	Snapshot() runtime.Snapshot
}

// SessionHandler serves GET /api/session.
type SessionHandler struct {
	session  SessionSource
	strategy string
	extras   func() map[string]any
}

// NewSessionHandler creates a SessionHandler. extras, when set, adds
// component counters (presign hit rates, breaker state) to the response.
func NewSessionHandler(session SessionSource, strategy string, extras func() map[string]any) *SessionHandler {
	return &SessionHandler{session: session, strategy: strategy, extras: extras}
}

type marketView struct {
	ID     string    `json:"id"`
	Slug   string    `json:"slug"`
	EndsAt time.Time `json:"ends_at"`
	Status string    `json:"status"`
}

type resultView struct {
	MarketID    string    `json:"market_id"`
	Slug        string    `json:"slug"`
	Winner      string    `json:"winner"`
	RealizedPnL float64   `json:"realized_pnl"`
	Residual    int       `json:"residual"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// GetSession reports the active market and running totals.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s := h.session.Snapshot()
	body := map[string]any{
		"session_id":     s.SessionID,
		"started_at":     s.StartedAt,
		"dry_run":        s.DryRun,
		"strategy":       h.strategy,
		"sessions":       s.Sessions,
		"skipped":        s.Skipped,
		"failed":         s.Failed,
		"cumulative_pnl": s.CumulativePnL,
		"active_market":  nil,
		"last_result":    nil,
	}
	if m := s.Active; m != nil {
		body["active_market"] = marketView{ID: m.ID, Slug: m.Slug, EndsAt: m.EndsAt, Status: string(m.Status)}
	}
	if res := s.LastResult; res != nil {
		body["last_result"] = resultView{
			MarketID:    res.MarketID,
			Slug:        res.Slug,
			Winner:      res.Winner.String(),
			RealizedPnL: res.RealizedPnL,
			Residual:    res.Residual,
			ResolvedAt:  res.ResolvedAt,
		}
	}
	if h.extras != nil {
		for k, v := range h.extras() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}
