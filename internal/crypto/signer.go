package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Polygon mainnet exchange contracts that verify order signatures.
const (
	ExchangeAddress        = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
)

var (
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

const clobAuthMessage = "This message attests that I control the given wallet"

// Signer produces EIP-712 signatures for CLOB orders and auth messages.
// Domain separators are computed once at construction.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int

	authDomain    []byte
	orderDomain   []byte
	negRiskDomain []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (137 for Polygon mainnet).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	chain := big.NewInt(int64(chainID))
	return &Signer{
		privateKey:    pk,
		address:       ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:       chainID,
		authDomain:    authDomainSeparator("ClobAuthDomain", "1", chain),
		orderDomain:   exchangeDomainSeparator(chain, common.HexToAddress(ExchangeAddress)),
		negRiskDomain: exchangeDomainSeparator(chain, common.HexToAddress(NegRiskExchangeAddress)),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs the ClobAuth message used to derive L2 API keys.
func (s *Signer) SignAuthMessage(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			clobAuthTypeHash,
			common.LeftPadBytes(s.address.Bytes(), 32),
			ethcrypto.Keccak256([]byte(fmt.Sprintf("%d", timestamp))),
			bigIntTo32Bytes(big.NewInt(nonce)),
			ethcrypto.Keccak256([]byte(clobAuthMessage)),
		),
	)
	return s.signDigest(eip712Hash(s.authDomain, structHash))
}

// SignOrder signs an order against the exchange (or neg-risk exchange)
// domain and returns the 0x-prefixed 65-byte signature.
func (s *Signer) SignOrder(order domain.OrderPayload, negRisk bool) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	dom := s.orderDomain
	if negRisk {
		dom = s.negRiskDomain
	}
	return s.signDigest(eip712Hash(dom, structHash))
}

// VerifyOrder recovers the signer of a signed order and compares it to
// the payload's signer field.
func VerifyOrder(order domain.SignedOrder, chainID int) (bool, error) {
	structHash, err := orderStructHash(order.Payload)
	if err != nil {
		return false, err
	}
	contract := ExchangeAddress
	if order.NegRisk {
		contract = NegRiskExchangeAddress
	}
	digest := eip712Hash(exchangeDomainSeparator(big.NewInt(int64(chainID)), common.HexToAddress(contract)), structHash)

	sig, err := hex.DecodeString(strings.TrimPrefix(order.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return false, fmt.Errorf("crypto/signer: malformed signature")
	}
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub) == common.HexToAddress(order.Payload.Signer), nil
}

func authDomainSeparator(name, version string, chainID *big.Int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			authDomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(chainID),
		),
	)
}

func exchangeDomainSeparator(chainID *big.Int, contract common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			exchangeDomainTypeHash,
			ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
			ethcrypto.Keccak256([]byte("1")),
			bigIntTo32Bytes(chainID),
			common.LeftPadBytes(contract.Bytes(), 32),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest signs a 32-byte digest and returns r || s || v with v in {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func parseUint(field, v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid %s %q", field, v)
	}
	return n, nil
}

// orderStructHash encodes and hashes an order payload per EIP-712.
func orderStructHash(o domain.OrderPayload) ([]byte, error) {
	fields := []struct{ name, value string }{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	nums := make([]*big.Int, len(fields))
	for i, f := range fields {
		n, err := parseUint(f.name, f.value)
		if err != nil {
			return nil, err
		}
		nums[i] = n
	}

	return ethcrypto.Keccak256(
		concatBytes(
			orderTypeHash,
			bigIntTo32Bytes(nums[0]),
			common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
			bigIntTo32Bytes(nums[1]),
			bigIntTo32Bytes(nums[2]),
			bigIntTo32Bytes(nums[3]),
			bigIntTo32Bytes(nums[4]),
			bigIntTo32Bytes(nums[5]),
			bigIntTo32Bytes(nums[6]),
			bigIntTo32Bytes(big.NewInt(int64(o.Side))),
			bigIntTo32Bytes(big.NewInt(int64(o.SignatureType))),
		),
	), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
