package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide uint8

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

func (s OrderSide) String() string {
	if s == OrderSideBuy {
		return "BUY"
	}
	return "SELL"
}

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Till-Date
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderRequest is what strategies and the ladder hand to the executor.
type OrderRequest struct {
	ClientID string
	MarketID string
	TokenID  string
	Outcome  Outcome
	Side     OrderSide
	Type     OrderType
	Price    float64
	Size     float64
	NegRisk  bool
	// ValidUntil bounds retries; zero means bounded only by the context.
	ValidUntil time.Time
}

// OrderPayload holds the fields of a CLOB order covered by the EIP-712
// signature. Large numbers stay strings to survive JSON round trips.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE
}

// SignedOrder is a payload plus its signature, ready to post.
type SignedOrder struct {
	Payload   OrderPayload
	Signature string
	NegRisk   bool
}

// OrderAck is the venue's synchronous answer to a submission.
type OrderAck struct {
	OrderID  string
	Accepted bool
	Status   string
	Message  string
	DryRun   bool
	Presign  bool // payload came from the presign cache
	Attempts int
}
