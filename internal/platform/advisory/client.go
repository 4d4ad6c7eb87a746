// Package advisory talks to an optional model server that predicts
// whether a snipe at the current prices is likely to fill. The engine
// reads cached answers; the network sits behind a background refresh.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Features describe the market at the time of a prediction request.
type Features struct {
	SpreadNow           float64 `json:"spread_now"` // (1 - combined) in cents
	UpAsk               float64 `json:"up_ask"`
	DownAsk             float64 `json:"down_ask"`
	CombinedAsk         float64 `json:"combined_ask"`
	SecondsToResolution float64 `json:"seconds_to_resolution"`
	MinuteOfPeriod      float64 `json:"minute_of_period"`
}

type fillPrediction struct {
	WillFill        *bool    `json:"will_fill"`
	FillProbability *float64 `json:"fill_probability"`
}

type prediction struct {
	Fill *fillPrediction `json:"fill"`
}

type hint struct {
	prob float64
	at   time.Time
}

// Client caches the latest fill probability per market.
type Client struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.RWMutex
	hints map[string]hint
	down  bool
}

// New creates a client. timeout bounds each request; hints older than ttl
// are treated as absent.
func New(url string, timeout, ttl time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		ttl:        ttl,
		logger:     logger.With(slog.String("component", "advisory")),
		now:        time.Now,
		hints:      make(map[string]hint),
	}
}

// FillProbability returns the cached hint for marketID. It never blocks
// on the network.
func (c *Client) FillProbability(marketID string) (float64, bool) {
	c.mu.RLock()
	h, ok := c.hints[marketID]
	c.mu.RUnlock()
	if !ok || c.now().Sub(h.at) > c.ttl {
		return 0, false
	}
	return h.prob, true
}

// Refresh asks the server for a fresh prediction and caches it.
func (c *Client) Refresh(ctx context.Context, marketID string, f Features) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("advisory: marshal features: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("advisory: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.markDown(err)
		return fmt.Errorf("advisory: predict: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("advisory: predict: HTTP %d: %s", resp.StatusCode, msg)
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return fmt.Errorf("advisory: decode prediction: %w", err)
	}
	if p.Fill == nil || p.Fill.FillProbability == nil {
		return nil
	}

	c.mu.Lock()
	c.hints[marketID] = hint{prob: *p.Fill.FillProbability, at: c.now()}
	if c.down {
		c.down = false
		c.logger.Info("advisory server reachable")
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) markDown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.down {
		c.down = true
		c.logger.Warn("advisory server unreachable, hints disabled", slog.String("error", err.Error()))
	}
}

// Forget drops the cached hint for a market.
func (c *Client) Forget(marketID string) {
	c.mu.Lock()
	delete(c.hints, marketID)
	c.mu.Unlock()
}

// Run refreshes the hint for marketID every interval until ctx is done.
// features is called on each tick; returning false skips the tick.
func (c *Client) Run(ctx context.Context, marketID string, interval time.Duration, features func() (Features, bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, ok := features()
			if !ok {
				continue
			}
			if err := c.Refresh(ctx, marketID, f); err != nil && ctx.Err() == nil {
				c.logger.Debug("advisory refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}
