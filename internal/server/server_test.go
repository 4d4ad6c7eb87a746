package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/runtime"
	"github.com/alanyoungcy/polysnipe/internal/server/handler"
)

type fakePositions struct{}

func (fakePositions) Positions() []domain.Position {
	return []domain.Position{
		{MarketID: "m1", Shares: [2]float64{10, 10}, Cost: [2]float64{4.8, 4.9}, Fills: 2},
		{MarketID: "m0", Shares: [2]float64{5, 0}, Cost: [2]float64{2.5, 0}, Fills: 1, Resolved: true},
	}
}

func (fakePositions) LockedProfit(string) decimal.Decimal    { return decimal.RequireFromString("0.3") }
func (fakePositions) WorstCasePayout(string) decimal.Decimal { return decimal.NewFromInt(10) }

func newTestServer(t *testing.T, dbErr error) (*Server, *runtime.Context) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc := runtime.New(true, time.Unix(1700000000, 0))
	checks := map[string]handler.Check{
		"postgres": func(context.Context) error { return dbErr },
	}
	srv := NewServer(Config{Token: "secret"}, Handlers{
		Health:    handler.NewHealthHandler(checks, logger),
		Positions: handler.NewPositionHandler(fakePositions{}, logger),
		Session: handler.NewSessionHandler(rc, "pure_arb", func() map[string]any {
			return map[string]any{"breaker": "closed"}
		}),
	}, nil, nil, logger)
	return srv, rc
}

func get(t *testing.T, h http.Handler, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestHealth_NoAuth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec, body := get(t, srv.Handler(), "/api/health", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", rec.Code, body)
	}

	srv, _ = newTestServer(t, errors.New("connection refused"))
	rec, body = get(t, srv.Handler(), "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("degraded health = %d %v", rec.Code, body)
	}
}

func TestAuth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for token, want := range map[string]int{
		"":       http.StatusUnauthorized,
		"wrong":  http.StatusUnauthorized,
		"secret": http.StatusOK,
	} {
		rec, _ := get(t, srv.Handler(), "/api/session", token)
		if rec.Code != want {
			t.Errorf("token %q: status = %d, want %d", token, rec.Code, want)
		}
	}
}

func TestPositions(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	_, body := get(t, srv.Handler(), "/api/positions?open=1", "secret")
	list, _ := body["positions"].([]any)
	if len(list) != 1 {
		t.Fatalf("positions = %v, want only the open market", body)
	}
	p := list[0].(map[string]any)
	if p["market_id"] != "m1" || p["locked_profit"] != "0.3000" || p["balanced"] != true {
		t.Errorf("position = %v", p)
	}
}

func TestSession(t *testing.T) {
	srv, rc := newTestServer(t, nil)
	rc.Begin(domain.Market{ID: "m1", Slug: "btc-updown-15m-1", Status: domain.MarketStatusOpen})
	rc.Book(domain.MarketResult{MarketID: "m0", Slug: "btc-updown-15m-0", Winner: domain.OutcomeDown, RealizedPnL: 1.25})

	_, body := get(t, srv.Handler(), "/api/session", "secret")
	if body["strategy"] != "pure_arb" || body["dry_run"] != true || body["breaker"] != "closed" {
		t.Errorf("session = %v", body)
	}
	if body["cumulative_pnl"] != 1.25 {
		t.Errorf("cumulative_pnl = %v, want 1.25", body["cumulative_pnl"])
	}
	active, _ := body["active_market"].(map[string]any)
	if active["slug"] != "btc-updown-15m-1" {
		t.Errorf("active_market = %v", body["active_market"])
	}
	last, _ := body["last_result"].(map[string]any)
	if last["winner"] != domain.OutcomeDown.String() {
		t.Errorf("last_result = %v", body["last_result"])
	}
}
