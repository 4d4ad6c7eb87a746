package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, used here
// to discover fixed-timer updown markets and read their resolution.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	prefix     string
	window     time.Duration
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
// prefix is the series slug prefix ("btc-updown-15m") and window the
// series period; market slugs are prefix-<window start unix>.
func NewGammaClient(baseURL, prefix string, window time.Duration) *GammaClient {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		prefix: prefix,
		window: window,
	}
}

// WindowStart floors t to the start of its series window.
func (g *GammaClient) WindowStart(t time.Time) time.Time {
	return t.Truncate(g.window)
}

// Slug names the market whose window starts at start.
func (g *GammaClient) Slug(start time.Time) string {
	return fmt.Sprintf("%s-%d", g.prefix, start.Unix())
}

// FindMarket returns the market for the window containing now, or the
// next one when the current window is not listed yet. The search
// endpoint is the last resort.
func (g *GammaClient) FindMarket(ctx context.Context, now time.Time) (domain.Market, error) {
	start := g.WindowStart(now)
	for _, s := range []time.Time{start, start.Add(g.window)} {
		m, err := g.MarketBySlug(ctx, g.Slug(s))
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, err
		}
	}
	return g.searchActive(ctx, now)
}

// MarketBySlug looks up one updown market by its event slug.
func (g *GammaClient) MarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	events, err := g.events(ctx, url.Values{"slug": {slug}})
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s: %w", slug, err)
	}
	for _, ev := range events {
		if m, err := g.toMarket(ev); err == nil {
			return m, nil
		}
	}
	return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
}

// Resolution returns the winning outcome of a market, or ErrNotResolved
// while the venue has not settled it.
func (g *GammaClient) Resolution(ctx context.Context, slug string) (domain.Outcome, error) {
	events, err := g.events(ctx, url.Values{"slug": {slug}})
	if err != nil {
		return 0, fmt.Errorf("polymarket/gamma: resolution %s: %w", slug, err)
	}
	for _, ev := range events {
		for _, m := range ev.Markets {
			if w, ok := m.winner(); ok {
				return w, nil
			}
		}
	}
	return 0, fmt.Errorf("polymarket/gamma: %s: %w", slug, domain.ErrNotResolved)
}

func (g *GammaClient) searchActive(ctx context.Context, now time.Time) (domain.Market, error) {
	events, err := g.events(ctx, url.Values{
		"slug_contains": {g.prefix},
		"active":        {"true"},
		"closed":        {"false"},
		"limit":         {"5"},
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: search %s: %w", g.prefix, err)
	}
	var best domain.Market
	for _, ev := range events {
		m, err := g.toMarket(ev)
		if err != nil || !m.EndsAt.After(now) {
			continue
		}
		if best.ID == "" || m.EndsAt.Before(best.EndsAt) {
			best = m
		}
	}
	if best.ID == "" {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: no open %s market", domain.ErrNotFound, g.prefix)
	}
	return best, nil
}

// toMarket builds a domain market from an updown event. The window
// bounds come from the slug's timestamp rather than the listed dates.
func (g *GammaClient) toMarket(ev APIEvent) (domain.Market, error) {
	if len(ev.Markets) == 0 {
		return domain.Market{}, fmt.Errorf("event %s has no markets", ev.Slug)
	}
	am := ev.Markets[0]
	tokens, err := am.tokenIDs()
	if err != nil {
		return domain.Market{}, err
	}

	slug := ev.Slug
	if slug == "" {
		slug = am.Slug
	}
	ts, err := strconv.ParseInt(slug[strings.LastIndexByte(slug, '-')+1:], 10, 64)
	if err != nil {
		return domain.Market{}, fmt.Errorf("slug %q has no window timestamp", slug)
	}
	start := time.Unix(ts, 0)

	m := domain.Market{
		ID:       am.ConditionID,
		Slug:     slug,
		Question: am.Question,
		TokenIDs: tokens,
		NegRisk:  bool(am.NegRisk),
		TickSize: float64(am.TickSize),
		StartsAt: start,
		EndsAt:   start.Add(g.window),
		Status:   domain.MarketStatusUpcoming,
	}
	if m.TickSize <= 0 {
		m.TickSize = 0.01
	}
	if w, ok := am.winner(); ok {
		m.Status = domain.MarketStatusResolved
		m.Winner = &w
	}
	return m, nil
}

func (g *GammaClient) events(ctx context.Context, q url.Values) ([]APIEvent, error) {
	body, err := g.doGet(ctx, "/events?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
