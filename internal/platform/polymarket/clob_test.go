package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/crypto"
	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// Well-known test key (hardhat account #0); never funded on Polygon.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestClob(t *testing.T, h http.HandlerFunc) *ClobClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	signer, err := crypto.NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return NewClobClient(srv.URL, signer, &crypto.HMACAuth{Key: "key-1", Secret: "c2VjcmV0", Passphrase: "pass"})
}

func testSignedOrder() domain.SignedOrder {
	return domain.SignedOrder{
		Payload: domain.OrderPayload{
			Salt:        "12345",
			Maker:       "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			Signer:      "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			Taker:       "0x0000000000000000000000000000000000000000",
			TokenID:     "111",
			MakerAmount: "4700000",
			TakerAmount: "10000000",
			Expiration:  "0",
			Nonce:       "0",
			FeeRateBps:  "0",
			Side:        0,
		},
		Signature: "0xsig",
	}
}

func TestPostOrder_SendsSignedBody(t *testing.T) {
	var got APIOrderBody
	var header http.Header
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/order" {
			t.Errorf("request = %s %s, want POST /order", r.Method, r.URL.Path)
		}
		header = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"success":true,"orderID":"0xabc","status":"live"}`))
	})

	ack, err := c.PostOrder(context.Background(), testSignedOrder(), domain.OrderTypeFOK)
	if err != nil {
		t.Fatalf("PostOrder() error = %v", err)
	}
	if !ack.Accepted || ack.OrderID != "0xabc" || ack.Status != "live" {
		t.Errorf("PostOrder() = %+v", ack)
	}
	if got.Owner != "key-1" || got.OrderType != "FOK" {
		t.Errorf("owner, orderType = %q, %q", got.Owner, got.OrderType)
	}
	if got.Order.Side != "BUY" || got.Order.Signature != "0xsig" || got.Order.Salt.String() != "12345" {
		t.Errorf("order = %+v", got.Order)
	}
	for _, h := range []string{"POLY_ADDRESS", "POLY_API_KEY", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_PASSPHRASE"} {
		if header.Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
}

func TestPostOrder_RefusedIsUnacceptedAck(t *testing.T) {
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"errorMsg":"not enough balance"}`))
	})
	ack, err := c.PostOrder(context.Background(), testSignedOrder(), domain.OrderTypeGTC)
	if err != nil {
		t.Fatalf("PostOrder() error = %v", err)
	}
	if ack.Accepted || ack.Message != "not enough balance" {
		t.Errorf("PostOrder() = %+v, want refused", ack)
	}
}

func TestPostOrder_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrSubmissionRejected},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusInternalServerError, domain.ErrNetwork},
		{http.StatusBadGateway, domain.ErrNetwork},
	}
	for _, tt := range tests {
		c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := c.PostOrder(context.Background(), testSignedOrder(), domain.OrderTypeGTC)
		if !errors.Is(err, tt.want) {
			t.Errorf("HTTP %d: error = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestPostOrder_DeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.PostOrder(ctx, testSignedOrder(), domain.OrderTypeGTC)
	if !errors.Is(err, domain.ErrSubmissionTimeout) {
		t.Errorf("error = %v, want ErrSubmissionTimeout", err)
	}
	if !domain.IsRetryable(err) {
		t.Errorf("timeout not retryable")
	}
}

func TestCancelOrder(t *testing.T) {
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["orderID"] == "gone" {
			w.Write([]byte(`{"canceled":[],"not_canceled":{"gone":"order already matched"}}`))
			return
		}
		w.Write([]byte(`{"canceled":["` + body["orderID"] + `"],"not_canceled":{}}`))
	})

	if err := c.CancelOrder(context.Background(), "live-1"); err != nil {
		t.Errorf("CancelOrder(live) error = %v", err)
	}
	if err := c.CancelOrder(context.Background(), "gone"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("CancelOrder(gone) error = %v, want ErrNotFound", err)
	}
}

func TestGetBook_ToSnapshot(t *testing.T) {
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" || r.URL.Query().Get("token_id") != "111" {
			t.Errorf("request = %s", r.URL)
		}
		w.Write([]byte(`{"market":"0xm","asset_id":"111","timestamp":"1700000000000",
			"bids":[{"price":"0.45","size":"100"},{"price":"0.44","size":"0"}],
			"asks":[{"price":"0.47","size":"50"}],"tick_size":"0.01"}`))
	})

	book, err := c.GetBook(context.Background(), "111")
	if err != nil {
		t.Fatalf("GetBook() error = %v", err)
	}
	snap := book.ToSnapshot(domain.OutcomeDown, 9)
	if snap.Outcome != domain.OutcomeDown || snap.Sequence != 9 {
		t.Errorf("snapshot outcome, seq = %v, %d", snap.Outcome, snap.Sequence)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 0.45 {
		t.Errorf("bids = %+v, want one level at 0.45", snap.Bids)
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Size != 50 {
		t.Errorf("asks = %+v", snap.Asks)
	}
	if !snap.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("timestamp = %v", snap.Timestamp)
	}
}

func TestDeriveAPIKey(t *testing.T) {
	c := newTestClob(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/derive-api-key" || r.Header.Get("POLY_SIGNATURE") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"apiKey":"derived","secret":"c2VjcmV0","passphrase":"pp"}`))
	})
	c.hmacAuth = nil

	if err := c.DeriveAPIKey(context.Background()); err != nil {
		t.Fatalf("DeriveAPIKey() error = %v", err)
	}
	if c.Credentials() == nil || c.Credentials().Key != "derived" {
		t.Errorf("Credentials() = %v", c.Credentials())
	}
}
