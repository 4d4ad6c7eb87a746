package polymarket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polysnipe/internal/crypto"
	"github.com/alanyoungcy/polysnipe/internal/domain"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recv(t *testing.T, ch <-chan BookUpdate) BookUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
		return BookUpdate{}
	}
}

func TestMarketFeed_SequencesAndReconnectGap(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		var sub MarketSubscribe
		if err := c.ReadJSON(&sub); err != nil || sub.Type != "market" || len(sub.Assets) != 2 {
			t.Errorf("subscribe = %+v, %v", sub, err)
			return
		}
		if conns.Add(1) == 1 {
			c.WriteMessage(websocket.TextMessage, []byte(`[{"event_type":"book","asset_id":"111","bids":[{"price":"0.45","size":"10"}],"asks":[{"price":"0.50","size":"20"}],"timestamp":"1700000000000"}]`))
			c.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"price_change","market":"0xc","price_changes":[{"asset_id":"111","price":"0.49","size":"5","side":"SELL"},{"asset_id":"222","price":"0.40","size":"0","side":"BUY"}]}`))
			return // drop the connection
		}
		c.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"price_change","asset_id":"111","changes":[{"price":"0.48","size":"7","side":"SELL"}]}`))
		c.ReadMessage() // hold until the client goes away
	}))
	defer srv.Close()

	m := domain.Market{ID: "0xc", Slug: "btc-updown-15m-1", TokenIDs: [2]string{"111", "222"}}
	f := NewMarketFeed(wsURL(srv), m, slog.Default())
	f.backoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	u := recv(t, f.Updates())
	if u.Snapshot == nil || u.Snapshot.Outcome != domain.OutcomeUp || u.Snapshot.Sequence != 1 {
		t.Fatalf("first update = %+v, want up snapshot seq 1", u)
	}
	u = recv(t, f.Updates())
	if u.Delta == nil || u.Delta.Side != domain.BookSideAsk || u.Delta.Price != 0.49 || u.Delta.Sequence != 2 {
		t.Errorf("second update = %+v, want up ask delta seq 2", u.Delta)
	}
	u = recv(t, f.Updates())
	if u.Delta == nil || u.Delta.Outcome != domain.OutcomeDown || u.Delta.Size != 0 || u.Delta.Sequence != 1 {
		t.Errorf("third update = %+v, want down removal seq 1", u.Delta)
	}

	// After the reconnect one number is skipped so the book sees a gap.
	u = recv(t, f.Updates())
	if u.Delta == nil || u.Delta.Price != 0.48 || u.Delta.Sequence != 4 {
		t.Errorf("post-reconnect update = %+v, want seq 4", u.Delta)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestUserFeed_OwnFillsOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		var sub UserSubscribe
		if err := c.ReadJSON(&sub); err != nil || sub.Auth.APIKey != "me" || sub.Type != "user" {
			t.Errorf("subscribe = %+v, %v", sub, err)
			return
		}
		// We are a maker on one order; the taker is someone else.
		c.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"trade","id":"t1","market":"0xc","asset_id":"111",
			"side":"SELL","price":"0.47","size":"30","status":"MATCHED","outcome":"Up","owner":"other","taker_order_id":"x1",
			"timestamp":"1700000000",
			"maker_orders":[{"order_id":"o1","matched_amount":"20","price":"0.47","owner":"me","outcome":"Up"},
			                {"order_id":"o2","matched_amount":"10","price":"0.47","owner":"other","outcome":"Up"}]}`))
		c.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"trade","id":"t2","market":"0xc","side":"BUY","price":"0.5",
			"size":"5","status":"MATCHED","outcome":"Down","owner":"me","taker_order_id":"o3","maker_orders":[]}`))
		c.ReadMessage()
	}))
	defer srv.Close()

	u := NewUserFeed(wsURL(srv), &crypto.HMACAuth{Key: "me", Secret: "s", Passphrase: "p"}, []string{"0xc"}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx)

	want := []domain.Fill{
		{ID: "t1:o1", OrderID: "o1", MarketID: "0xc", Outcome: domain.OutcomeUp, Side: domain.OrderSideBuy, Price: 0.47, Size: 20, Timestamp: time.Unix(1700000000, 0)},
		{ID: "t2:o3", OrderID: "o3", MarketID: "0xc", Outcome: domain.OutcomeDown, Side: domain.OrderSideBuy, Price: 0.5, Size: 5},
	}
	for i, w := range want {
		select {
		case got := <-u.Fills():
			if got.ID != w.ID || got.OrderID != w.OrderID || got.Outcome != w.Outcome || got.Side != w.Side ||
				got.Price != w.Price || got.Size != w.Size || !got.Timestamp.Equal(w.Timestamp) {
				t.Errorf("fill %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("fill %d not delivered", i)
		}
	}
}

func TestTradeMessage_IgnoresLaterStatuses(t *testing.T) {
	tm := TradeMessage{ID: "t1", Status: "CONFIRMED", Owner: "me", Outcome: "Up", Size: "5", Price: "0.4", TakerOrderID: "o1"}
	if got := tm.Fills("me"); len(got) != 0 {
		t.Errorf("Fills() = %v, want none for CONFIRMED", got)
	}
}
