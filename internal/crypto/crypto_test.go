package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// Well-known test key (hardhat account #0); never funded on Polygon.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestOrderBuilder_SignVerifies(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	b := NewOrderBuilder(s, "", 0, 0)

	for _, negRisk := range []bool{false, true} {
		order, err := b.Sign(domain.OrderRequest{
			TokenID: "71321045679252212594626385532706912750332728571942532289631379312455583992563",
			Side:    domain.OrderSideBuy,
			Type:    domain.OrderTypeFOK,
			Price:   0.47,
			Size:    25,
			NegRisk: negRisk,
		})
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		if !strings.HasPrefix(order.Signature, "0x") || len(order.Signature) != 132 {
			t.Errorf("signature %q is not 65 hex bytes", order.Signature)
		}
		ok, err := VerifyOrder(order, 137)
		if err != nil || !ok {
			t.Errorf("VerifyOrder(negRisk=%v) = %v, %v", negRisk, ok, err)
		}
		// A different chain id must not verify.
		if ok, _ := VerifyOrder(order, 80002); ok {
			t.Errorf("VerifyOrder verified against the wrong chain")
		}
	}
}

func TestAmounts(t *testing.T) {
	tests := []struct {
		side         domain.OrderSide
		price, size  float64
		maker, taker int64
	}{
		{domain.OrderSideBuy, 0.47, 25, 11_750_000, 25_000_000},
		{domain.OrderSideSell, 0.47, 25, 25_000_000, 11_750_000},
		{domain.OrderSideBuy, 0.5, 10.129, 5_060_000, 10_120_000},
	}
	for _, tt := range tests {
		maker, taker := Amounts(tt.side, tt.price, tt.size)
		if maker != tt.maker || taker != tt.taker {
			t.Errorf("Amounts(%v, %v, %v) = %d, %d, want %d, %d", tt.side, tt.price, tt.size, maker, taker, tt.maker, tt.taker)
		}
	}
}

func TestPayload_RejectsBadPrice(t *testing.T) {
	s, _ := NewSigner(testKey, 137)
	b := NewOrderBuilder(s, "", 0, 0)
	for _, p := range []float64{0, 1, 1.2} {
		if _, err := b.Payload(domain.OrderRequest{TokenID: "1", Price: p, Size: 5}); err == nil {
			t.Errorf("Payload(price=%v) succeeded", p)
		}
	}
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey() error = %v", err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey() error = %v", err)
	}
	if got != testKey {
		t.Errorf("DecryptKey() = %s, want %s", got, testKey)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("DecryptKey() with wrong password succeeded")
	}
}

func TestLoadKey(t *testing.T) {
	if got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey}); err != nil || got != testKey {
		t.Errorf("LoadKey(raw) = %s, %v", got, err)
	}
	if _, err := LoadKey(KeyConfig{RawPrivateKey: "abcd"}); err == nil {
		t.Error("LoadKey() accepted a short key")
	}
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Error("LoadKey() with no source succeeded")
	}

	blob, err := EncryptKey(testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil || got != testKey {
		t.Errorf("LoadKey(file) = %s, %v", got, err)
	}

	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"}); err == nil {
		t.Error("LoadKey() accepted a world-readable key file")
	}
}

func TestL2HeadersAt_Deterministic(t *testing.T) {
	h := &HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"}
	a := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	b := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	if a["POLY_SIGNATURE"] != b["POLY_SIGNATURE"] {
		t.Error("signature not deterministic")
	}
	if a["POLY_TIMESTAMP"] != "1700000000" {
		t.Errorf("POLY_TIMESTAMP = %s", a["POLY_TIMESTAMP"])
	}
	c := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":2}`, 1700000000)
	if a["POLY_SIGNATURE"] == c["POLY_SIGNATURE"] {
		t.Error("signature ignores body")
	}
}
