package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polysnipe/internal/crypto"
	"github.com/alanyoungcy/polysnipe/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 500 * time.Millisecond

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 30 * time.Second
)

// stream owns one reconnecting WebSocket subscription.
type stream struct {
	url     string
	logger  *slog.Logger
	dialer  websocket.Dialer
	backoff time.Duration
}

func newStream(url string, logger *slog.Logger) stream {
	return stream{
		url:     url,
		logger:  logger,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: reconnectDelay,
	}
}

// run dials, subscribes and reads until ctx is done, reconnecting with
// exponential backoff. connected runs before each subscription; handle
// gets every data frame.
func (s *stream) run(ctx context.Context, subscribe any, connected func(attempt int), handle func([]byte)) error {
	delay := s.backoff
	for attempt := 0; ; attempt++ {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err == nil {
			connected(attempt)
			err = s.serve(ctx, conn, subscribe, handle)
			delay = s.backoff
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("websocket disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (s *stream) serve(ctx context.Context, conn *websocket.Conn, subscribe any, handle func([]byte)) error {
	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
	}()

	var writeMu sync.Mutex
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// Unblocks ReadMessage.
				conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		for _, frame := range splitFrames(msg) {
			handle(frame)
		}
	}
}

// splitFrames unpacks batched frames; the venue sends either one object
// or an array of them.
func splitFrames(msg []byte) [][]byte {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || msg[0] != '[' {
		return [][]byte{msg}
	}
	var batch []json.RawMessage
	if err := json.Unmarshal(msg, &batch); err != nil {
		return nil
	}
	out := make([][]byte, len(batch))
	for i, b := range batch {
		out[i] = b
	}
	return out
}

// --------------------------------------------------------------------------
// Market channel
// --------------------------------------------------------------------------

// BookUpdate is one feed event: exactly one of Snapshot and Delta is set.
type BookUpdate struct {
	Snapshot *domain.BookSnapshot
	Delta    *domain.BookDelta
}

// MarketFeed streams one market's book for both outcome tokens. The venue
// does not number its frames, so the feed stamps a per-asset sequence on
// every update. A reconnect skips one sequence number: the next delta
// reaches the book as a gap and forces a snapshot resync.
type MarketFeed struct {
	stream
	market domain.Market

	mu  sync.Mutex
	seq [2]uint64

	updates chan BookUpdate
}

// NewMarketFeed creates a feed for market on the market channel at url,
// e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewMarketFeed(url string, market domain.Market, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		stream:  newStream(url, logger.With(slog.String("component", "market_feed"), slog.String("market", market.Slug))),
		market:  market,
		updates: make(chan BookUpdate, 1024),
	}
}

// Updates delivers book events in arrival order.
func (f *MarketFeed) Updates() <-chan BookUpdate { return f.updates }

// Sequence is the last sequence stamped for outcome o.
func (f *MarketFeed) Sequence(o domain.Outcome) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq[o]
}

// Run streams until ctx is done.
func (f *MarketFeed) Run(ctx context.Context) error {
	sub := MarketSubscribe{Type: "market", Assets: f.market.TokenIDs[:]}
	return f.run(ctx, sub, f.connected, func(frame []byte) { f.handle(ctx, frame) })
}

func (f *MarketFeed) connected(attempt int) {
	if attempt == 0 {
		return
	}
	f.mu.Lock()
	for i := range f.seq {
		f.seq[i]++
	}
	f.mu.Unlock()
	f.logger.Info("market feed reconnected", slog.Int("attempt", attempt))
}

func (f *MarketFeed) next(o domain.Outcome) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq[o]++
	return f.seq[o]
}

func (f *MarketFeed) handle(ctx context.Context, frame []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return
	}

	switch env.EventType {
	case "book":
		var b BookMessage
		if err := json.Unmarshal(frame, &b); err != nil {
			return
		}
		o, ok := f.market.OutcomeOf(b.AssetID)
		if !ok {
			return
		}
		snap := APIBook{AssetID: b.AssetID, Bids: b.Bids, Asks: b.Asks, Timestamp: b.Timestamp}.ToSnapshot(o, f.next(o))
		f.emit(ctx, BookUpdate{Snapshot: &snap})

	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(frame, &pc); err != nil {
			return
		}
		ts := parseMillis(pc.Timestamp)
		for _, c := range pc.Levels() {
			o, ok := f.market.OutcomeOf(c.AssetID)
			if !ok {
				continue
			}
			price, err := strconv.ParseFloat(c.Price, 64)
			if err != nil {
				continue
			}
			size, err := strconv.ParseFloat(c.Size, 64)
			if err != nil {
				continue
			}
			side := domain.BookSideBid
			if c.Side == "SELL" {
				side = domain.BookSideAsk
			}
			d := domain.BookDelta{
				AssetID:   c.AssetID,
				Outcome:   o,
				Side:      side,
				Price:     price,
				Size:      size,
				Sequence:  f.next(o),
				Timestamp: ts,
			}
			f.emit(ctx, BookUpdate{Delta: &d})
		}

	default:
		if env.Type == "error" {
			f.logger.Error("market feed error", slog.String("message", env.Message))
		}
	}
}

func (f *MarketFeed) emit(ctx context.Context, u BookUpdate) {
	select {
	case f.updates <- u:
	case <-ctx.Done():
	}
}

// --------------------------------------------------------------------------
// User channel
// --------------------------------------------------------------------------

// UserFeed streams our own fills for a set of markets over the
// authenticated user channel.
type UserFeed struct {
	stream
	auth    *crypto.HMACAuth
	markets []string
	fills   chan domain.Fill
}

// NewUserFeed creates a fill feed at url, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/user".
func NewUserFeed(url string, auth *crypto.HMACAuth, markets []string, logger *slog.Logger) *UserFeed {
	return &UserFeed{
		stream:  newStream(url, logger.With(slog.String("component", "user_feed"))),
		auth:    auth,
		markets: markets,
		fills:   make(chan domain.Fill, 256),
	}
}

// Fills delivers fills in arrival order. Status updates of a trade repeat
// its fill ids.
func (u *UserFeed) Fills() <-chan domain.Fill { return u.fills }

// Run streams until ctx is done.
func (u *UserFeed) Run(ctx context.Context) error {
	if u.auth == nil {
		return fmt.Errorf("polymarket/ws: user feed: %w", domain.ErrUnauthorized)
	}
	sub := UserSubscribe{
		Type:    "user",
		Markets: u.markets,
		Auth:    WSAuth{APIKey: u.auth.Key, Secret: u.auth.Secret, Passphrase: u.auth.Passphrase},
	}
	return u.run(ctx, sub, func(int) {}, func(frame []byte) { u.handle(ctx, frame) })
}

func (u *UserFeed) handle(ctx context.Context, frame []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(frame, &env); err != nil || env.EventType != "trade" {
		return
	}
	var t TradeMessage
	if err := json.Unmarshal(frame, &t); err != nil {
		return
	}
	for _, f := range t.Fills(u.auth.Key) {
		select {
		case u.fills <- f:
		case <-ctx.Done():
			return
		}
	}
}
