package crypto

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// gtdSafetySeconds is added to GTD expirations; the venue rejects
// expirations closer than one minute.
const gtdSafetySeconds = 60

// OrderBuilder turns order requests into signed CLOB payloads.
type OrderBuilder struct {
	signer     *Signer
	maker      common.Address
	sigType    int
	feeRateBps string
}

// NewOrderBuilder returns a builder that signs for funder. An empty
// funder means the signer's own EOA holds the funds.
func NewOrderBuilder(s *Signer, funder string, sigType, feeRateBps int) *OrderBuilder {
	maker := s.Address()
	if funder != "" {
		maker = common.HexToAddress(funder)
	}
	return &OrderBuilder{
		signer:     s,
		maker:      maker,
		sigType:    sigType,
		feeRateBps: strconv.Itoa(feeRateBps),
	}
}

// Address is the signing EOA.
func (b *OrderBuilder) Address() string {
	return b.signer.Address().Hex()
}

// Amounts converts a price and share size into maker/taker amounts in
// six-decimal base units. Sizes are truncated to two decimals.
func Amounts(side domain.OrderSide, price, size float64) (maker, taker int64) {
	priceMicro := int64(math.Round(price * 1e6))
	sizeMicro := int64(math.Floor(size*100+1e-9)) * 10_000
	notional := sizeMicro * priceMicro / 1_000_000
	if side == domain.OrderSideBuy {
		return notional, sizeMicro
	}
	return sizeMicro, notional
}

// Payload builds the unsigned payload for a request.
func (b *OrderBuilder) Payload(req domain.OrderRequest) (domain.OrderPayload, error) {
	if req.TokenID == "" {
		return domain.OrderPayload{}, fmt.Errorf("crypto/order: missing token id")
	}
	if req.Price <= 0 || req.Price >= 1 {
		return domain.OrderPayload{}, fmt.Errorf("crypto/order: price %.4f outside (0, 1)", req.Price)
	}
	maker, taker := Amounts(req.Side, req.Price, req.Size)
	if maker <= 0 || taker <= 0 {
		return domain.OrderPayload{}, fmt.Errorf("crypto/order: size %.4f too small", req.Size)
	}

	expiration := "0"
	if req.Type == domain.OrderTypeGTD && !req.ValidUntil.IsZero() {
		expiration = strconv.FormatInt(req.ValidUntil.Unix()+gtdSafetySeconds, 10)
	}

	id := uuid.New()
	salt := new(big.Int).SetBytes(id[:6])

	return domain.OrderPayload{
		Salt:          salt.String(),
		Maker:         b.maker.Hex(),
		Signer:        b.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   strconv.FormatInt(maker, 10),
		TakerAmount:   strconv.FormatInt(taker, 10),
		Expiration:    expiration,
		Nonce:         "0",
		FeeRateBps:    b.feeRateBps,
		Side:          int(req.Side),
		SignatureType: b.sigType,
	}, nil
}

// Sign builds and signs a request. This is the slow path the presign
// cache exists to avoid.
func (b *OrderBuilder) Sign(req domain.OrderRequest) (domain.SignedOrder, error) {
	payload, err := b.Payload(req)
	if err != nil {
		return domain.SignedOrder{}, err
	}
	sig, err := b.signer.SignOrder(payload, req.NegRisk)
	if err != nil {
		return domain.SignedOrder{}, err
	}
	return domain.SignedOrder{Payload: payload, Signature: sig, NegRisk: req.NegRisk}, nil
}
