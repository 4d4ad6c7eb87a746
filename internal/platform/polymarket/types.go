package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat accepts numbers sent either bare or quoted.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderBody is the request body of POST /order.
type APIOrderBody struct {
	Order     APISignedOrder `json:"order"`
	Owner     string         `json:"owner"`
	OrderType string         `json:"orderType"`
}

// APISignedOrder is the signed order as the CLOB expects it: the EIP-712
// fields plus the signature, with side spelled out.
type APISignedOrder struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

// NewOrderBody wraps a signed payload for submission.
func NewOrderBody(o domain.SignedOrder, owner string, typ domain.OrderType) APIOrderBody {
	p := o.Payload
	side := "BUY"
	if p.Side == 1 {
		side = "SELL"
	}
	return APIOrderBody{
		Order: APISignedOrder{
			Salt:          json.Number(p.Salt),
			Maker:         p.Maker,
			Signer:        p.Signer,
			Taker:         p.Taker,
			TokenID:       p.TokenID,
			MakerAmount:   p.MakerAmount,
			TakerAmount:   p.TakerAmount,
			Expiration:    p.Expiration,
			Nonce:         p.Nonce,
			FeeRateBps:    p.FeeRateBps,
			Side:          side,
			SignatureType: p.SignatureType,
			Signature:     o.Signature,
		},
		Owner:     owner,
		OrderType: string(typ),
	}
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ToAck converts the response to a domain.OrderAck.
func (r APIOrderResult) ToAck() domain.OrderAck {
	return domain.OrderAck{
		OrderID:  r.OrderID,
		Accepted: r.Success && r.OrderID != "",
		Status:   r.Status,
		Message:  r.ErrorMsg,
	}
}

// APICancelResult is the response of DELETE /order.
type APICancelResult struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// APIBook is the REST orderbook for one token.
type APIBook struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []APIPriceLv `json:"bids"`
	Asks         []APIPriceLv `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
}

// APIPriceLv is a single price level; the venue sends decimals as strings.
type APIPriceLv struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// ToSnapshot converts the REST book to a snapshot for outcome o.
func (b APIBook) ToSnapshot(o domain.Outcome, seq uint64) domain.BookSnapshot {
	return domain.BookSnapshot{
		AssetID:   b.AssetID,
		Outcome:   o,
		Bids:      levels(b.Bids),
		Asks:      levels(b.Asks),
		Sequence:  seq,
		Timestamp: parseMillis(b.Timestamp),
	}
}

func levels(in []APIPriceLv) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lv := range in {
		p, err := strconv.ParseFloat(lv.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		s, err := strconv.ParseFloat(lv.Size, 64)
		if err != nil || s <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// parseMillis reads the venue's unix-millisecond timestamps. Anything
// unparsable yields the zero time.
func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An updown event carries exactly one market.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket represents a market inside a Gamma event.
type APIMarket struct {
	ConditionID   string    `json:"conditionId"`
	Question      string    `json:"question"`
	Slug          string    `json:"slug"`
	Active        flexBool  `json:"active"`
	Closed        flexBool  `json:"closed"`
	Outcomes      string    `json:"outcomes"`      // JSON-encoded: e.g. "[\"Up\",\"Down\"]"
	OutcomePrices string    `json:"outcomePrices"` // JSON-encoded: e.g. "[\"1\",\"0\"]"
	ClobTokenIDs  string    `json:"clobTokenIds"`  // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Tokens        []Token   `json:"tokens"`
	NegRisk       flexBool  `json:"negRisk"`
	TickSize      flexFloat `json:"orderPriceMinTickSize"`
	EndDate       string    `json:"endDate"`
}

// Token represents a token entry inside a market response.
type Token struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Winner  bool    `json:"winner"`
	Price   float64 `json:"price"`
}

// tokenIDs resolves the UP and DOWN token ids, preferring the tokens array
// and falling back to the parallel clobTokenIds/outcomes strings.
func (m APIMarket) tokenIDs() ([2]string, error) {
	var ids [2]string
	var found [2]bool
	for _, t := range m.Tokens {
		if o, ok := domain.ParseOutcome(t.Outcome); ok && t.TokenID != "" {
			ids[o], found[o] = t.TokenID, true
		}
	}
	if found[0] && found[1] {
		return ids, nil
	}

	var tokens, names []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokens); err != nil {
		return ids, fmt.Errorf("market %s: clobTokenIds: %w", m.Slug, err)
	}
	if err := json.Unmarshal([]byte(m.Outcomes), &names); err != nil || len(names) != len(tokens) {
		names = []string{"Up", "Down"}
	}
	for i, id := range tokens {
		if i >= len(names) {
			break
		}
		if o, ok := domain.ParseOutcome(names[i]); ok {
			ids[o], found[o] = id, true
		}
	}
	if !found[0] || !found[1] {
		return ids, fmt.Errorf("market %s: missing outcome tokens", m.Slug)
	}
	return ids, nil
}

// winner reports the resolved outcome: a token flagged as winner, or an
// outcome priced at 1 once the market is closed.
func (m APIMarket) winner() (domain.Outcome, bool) {
	for _, t := range m.Tokens {
		if !t.Winner {
			continue
		}
		if o, ok := domain.ParseOutcome(t.Outcome); ok {
			return o, true
		}
	}
	if !m.Closed {
		return 0, false
	}

	var prices, names []string
	if json.Unmarshal([]byte(m.OutcomePrices), &prices) != nil {
		return 0, false
	}
	if json.Unmarshal([]byte(m.Outcomes), &names) != nil || len(names) != len(prices) {
		names = []string{"Up", "Down"}
	}
	for i, p := range prices {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0.99 || i >= len(names) {
			continue
		}
		if o, ok := domain.ParseOutcome(names[i]); ok {
			return o, true
		}
	}
	return 0, false
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsEnvelope reads just enough of a frame to dispatch it.
type wsEnvelope struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Bids      []APIPriceLv `json:"bids"`
	Asks      []APIPriceLv `json:"asks"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
}

// PriceChange is one level update inside a price_change frame.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"` // "0" removes the level
	Side    string `json:"side"` // "BUY" updates bids, "SELL" asks
}

// PriceChangeMessage carries level updates. Newer frames list changes for
// several assets under price_changes; older ones put a single asset_id on
// the frame and the levels under changes.
type PriceChangeMessage struct {
	AssetID      string        `json:"asset_id"`
	Market       string        `json:"market"`
	PriceChanges []PriceChange `json:"price_changes"`
	Changes      []PriceChange `json:"changes"`
	Timestamp    string        `json:"timestamp"`
}

// Levels flattens both frame layouts.
func (m PriceChangeMessage) Levels() []PriceChange {
	if len(m.PriceChanges) > 0 {
		return m.PriceChanges
	}
	out := make([]PriceChange, len(m.Changes))
	for i, c := range m.Changes {
		if c.AssetID == "" {
			c.AssetID = m.AssetID
		}
		out[i] = c
	}
	return out
}

// MakerOrder is one resting order matched by a trade.
type MakerOrder struct {
	OrderID       string `json:"order_id"`
	AssetID       string `json:"asset_id"`
	MatchedAmount string `json:"matched_amount"`
	Price         string `json:"price"`
	Owner         string `json:"owner"`
	Outcome       string `json:"outcome"`
}

// TradeMessage is a user-channel trade notification.
type TradeMessage struct {
	ID           string       `json:"id"`
	AssetID      string       `json:"asset_id"`
	Market       string       `json:"market"`
	Side         string       `json:"side"`
	Price        string       `json:"price"`
	Size         string       `json:"size"`
	Status       string       `json:"status"`
	Outcome      string       `json:"outcome"`
	Owner        string       `json:"owner"`
	TakerOrderID string       `json:"taker_order_id"`
	MakerOrders  []MakerOrder `json:"maker_orders"`
	Timestamp    string       `json:"timestamp"`
}

// Fills extracts the fills that belong to owner (the API key). Only
// MATCHED notifications count; later status updates for the same trade
// repeat the same fill ids and are dropped downstream.
func (t TradeMessage) Fills(owner string) []domain.Fill {
	if !strings.EqualFold(t.Status, "MATCHED") && !strings.EqualFold(t.Status, "FILLED") {
		return nil
	}
	ts := parseSeconds(t.Timestamp)
	var out []domain.Fill

	if owner == "" || t.Owner == owner {
		price, _ := strconv.ParseFloat(t.Price, 64)
		size, _ := strconv.ParseFloat(t.Size, 64)
		if o, ok := domain.ParseOutcome(t.Outcome); ok && size > 0 {
			out = append(out, domain.Fill{
				ID:        t.ID + ":" + t.TakerOrderID,
				OrderID:   t.TakerOrderID,
				MarketID:  t.Market,
				Outcome:   o,
				Side:      parseSide(t.Side),
				Price:     price,
				Size:      size,
				Timestamp: ts,
			})
		}
	}
	for _, mo := range t.MakerOrders {
		if owner == "" || mo.Owner != owner {
			continue
		}
		price, _ := strconv.ParseFloat(mo.Price, 64)
		size, _ := strconv.ParseFloat(mo.MatchedAmount, 64)
		o, ok := domain.ParseOutcome(mo.Outcome)
		if !ok || size <= 0 {
			continue
		}
		// Our maker order sits on the opposite side of the taker.
		side := domain.OrderSideSell
		if parseSide(t.Side) == domain.OrderSideSell {
			side = domain.OrderSideBuy
		}
		out = append(out, domain.Fill{
			ID:        t.ID + ":" + mo.OrderID,
			OrderID:   mo.OrderID,
			MarketID:  t.Market,
			Outcome:   o,
			Side:      side,
			Price:     price,
			Size:      size,
			Timestamp: ts,
		})
	}
	return out
}

func parseSide(s string) domain.OrderSide {
	if strings.EqualFold(s, "SELL") {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func parseSeconds(s string) time.Time {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

// --------------------------------------------------------------------------
// WebSocket subscription commands
// --------------------------------------------------------------------------

// MarketSubscribe subscribes the market channel to a set of asset ids.
type MarketSubscribe struct {
	Type   string   `json:"type"` // "market"
	Assets []string `json:"assets_ids"`
}

// UserSubscribe subscribes the authenticated user channel to markets.
type UserSubscribe struct {
	Type    string   `json:"type"` // "user"
	Markets []string `json:"markets"`
	Auth    WSAuth   `json:"auth"`
}

// WSAuth carries L2 credentials on the user channel.
type WSAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}
