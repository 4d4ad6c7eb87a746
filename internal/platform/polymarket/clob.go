package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/crypto"
	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API: order placement, cancellation and book snapshots.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	now        func() time.Time
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// hmac may be nil until DeriveAPIKey runs.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Per-call deadlines come from the caller's context; this is
			// only a ceiling.
			Timeout: 10 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		now:      time.Now,
	}
}

// Credentials returns the L2 credentials in use, or nil.
func (c *ClobClient) Credentials() *crypto.HMACAuth { return c.hmacAuth }

// PostOrder submits a signed order. A response the venue refuses comes
// back as an unaccepted ack with a nil error; transport and status
// failures are mapped onto domain sentinels.
func (c *ClobClient) PostOrder(ctx context.Context, order domain.SignedOrder, typ domain.OrderType) (domain.OrderAck, error) {
	owner := ""
	if c.hmacAuth != nil {
		owner = c.hmacAuth.Key
	}
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", NewOrderBody(order, owner, typ))
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var res APIOrderResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return res.ToAck(), nil
}

// CancelOrder cancels a single order by its ID. An order the venue
// reports as not cancelable (already filled or gone) yields ErrNotFound.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", map[string]string{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var res APICancelResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if reason, ok := res.NotCanceled[orderID]; ok {
		return fmt.Errorf("polymarket/clob: cancel order %s: %s: %w", orderID, reason, domain.ErrNotFound)
	}
	return nil
}

// CancelMarket cancels every open order in one market.
func (c *ClobClient) CancelMarket(ctx context.Context, conditionID string) error {
	_, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/cancel-market-orders", map[string]string{"market": conditionID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel market %s: %w", conditionID, err)
	}
	return nil
}

// GetBook fetches the current book for one token. It needs no auth.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (APIBook, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/book?token_id="+url.QueryEscape(tokenID), nil)
	if err != nil {
		return APIBook{}, fmt.Errorf("polymarket/clob: create book request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return APIBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return APIBook{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. On success it populates the client's
// credentials.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := c.now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	respBody, err := c.do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	if authResp.APIKey == "" {
		return fmt.Errorf("polymarket/clob: derive api key: empty key: %w", domain.ErrUnauthorized)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		for k, v := range c.hmacAuth.L2HeadersAt(address, method, path, bodyStr, c.now().Unix()) {
			req.Header.Set(k, v)
		}
	}
	return c.do(req)
}

func (c *ClobClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// classifyTransport maps client-side failures: deadlines become
// ErrSubmissionTimeout, everything else ErrNetwork. Caller cancellation
// passes through untouched.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrSubmissionTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrSubmissionRejected, bodyStr)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNetwork, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
