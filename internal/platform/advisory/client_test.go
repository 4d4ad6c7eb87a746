package advisory

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRefreshCachesHint(t *testing.T) {
	var got Features
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"fill":{"will_fill":true,"fill_probability":0.82}}`))
	}))
	defer srv.Close()

	now := time.Unix(1000, 0)
	c := New(srv.URL, time.Second, 5*time.Second, slog.Default())
	c.now = func() time.Time { return now }

	if _, ok := c.FillProbability("m"); ok {
		t.Fatal("FillProbability() before refresh reported a hint")
	}
	if err := c.Refresh(context.Background(), "m", Features{CombinedAsk: 0.97, SpreadNow: 3}); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.CombinedAsk != 0.97 {
		t.Errorf("server saw %+v", got)
	}
	if p, ok := c.FillProbability("m"); !ok || p != 0.82 {
		t.Errorf("FillProbability() = %v, %v, want 0.82", p, ok)
	}

	now = now.Add(6 * time.Second)
	if _, ok := c.FillProbability("m"); ok {
		t.Errorf("stale hint still served")
	}
}

func TestRefreshWithoutFillLeavesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"spread":{"predicted_spread":2.5}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, time.Second, slog.Default())
	if err := c.Refresh(context.Background(), "m", Features{}); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, ok := c.FillProbability("m"); ok {
		t.Errorf("hint cached from a response without a fill prediction")
	}
}

func TestRefreshUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, 50*time.Millisecond, time.Second, slog.Default())
	if err := c.Refresh(context.Background(), "m", Features{}); err == nil {
		t.Fatal("Refresh() error = nil for a closed server")
	}
	if _, ok := c.FillProbability("m"); ok {
		t.Errorf("hint reported after failure")
	}
}
