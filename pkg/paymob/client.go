package paymob

import (
	"bytes"
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

	"github.com/chargeup/payment-engine/pkg/metrics"
	"github.com/sirupsen/logrus"
)

var (
	// ErrRateLimited is returned when the retry budget is spent on 429 responses
	ErrRateLimited = errors.New("gateway rate limit exceeded")

	// ErrAuthRejected is returned for 401/403, usually an expired auth token
	ErrAuthRejected = errors.New("gateway rejected credentials")

	// ErrMalformedResponse is returned when a 2xx body lacks the expected fields
	ErrMalformedResponse = errors.New("malformed gateway response")
)

// APIError describes a non-2xx gateway response
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway %s returned HTTP %d: %s", e.Endpoint, e.StatusCode, truncate(e.Body, 300))
}

// Unwrap maps rate limiting and credential failures onto sentinel errors
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthRejected
	}
	return nil
}

// Config holds gateway client settings
type Config struct {
	BaseURL      string // e.g. https://accept.paymob.com/api
	IntentionURL string
	APIKey       string
	SecretKey    string
	Timeout      time.Duration
	Retry        RetryPolicy
}

// Client talks to the card/wallet/Apple Pay gateway.
// All calls go through a RetryingClient.
type Client struct {
	baseURL      string
	intentionURL string
	apiKey       string
	secretKey    string
	http         *RetryingClient
	logger       *logrus.Logger
}

// NewClient creates a gateway client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	return NewClientWithDoer(cfg, &http.Client{Timeout: cfg.Timeout}, logger)
}

// NewClientWithDoer creates a gateway client over a custom transport
func NewClientWithDoer(cfg Config, doer Doer, logger *logrus.Logger) *Client {
	retrying := NewRetryingClient(doer, cfg.Retry)
	retrying.OnRetry = func(req *http.Request, attempt int, delay time.Duration) {
		endpoint := endpointLabel(req.URL.Path)
		metrics.IncGatewayRetry(endpoint)
		logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"attempt":  attempt,
			"delay":    delay.String(),
		}).Warn("Gateway rate limited, backing off")
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		intentionURL: cfg.IntentionURL,
		apiKey:       cfg.APIKey,
		secretKey:    cfg.SecretKey,
		http:         retrying,
		logger:       logger,
	}
}

// ============================================================================
// AUTH / ORDERS / PAYMENT KEYS
// ============================================================================

// Authenticate exchanges the API key for a short-lived bearer token
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/auth/tokens", "", map[string]string{"api_key": c.apiKey}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: auth response has no token", ErrMalformedResponse)
	}
	return resp.Token, nil
}

// CreateOrder registers an order and returns the gateway's numeric id
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (int64, error) {
	if req.Items == nil {
		req.Items = []interface{}{}
	}
	var resp struct {
		ID Int64 `json:"id"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/ecommerce/orders", "", req, &resp); err != nil {
		return 0, err
	}
	if resp.ID <= 0 {
		return 0, fmt.Errorf("%w: order response has no positive id", ErrMalformedResponse)
	}
	return int64(resp.ID), nil
}

// CreatePaymentKey issues a payment key bound to an order and integration
func (c *Client) CreatePaymentKey(ctx context.Context, req PaymentKeyRequest) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/acceptance/payment_keys", "", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: payment key response has no token", ErrMalformedResponse)
	}
	return resp.Token, nil
}

// ============================================================================
// PAY / INTENTION
// ============================================================================

// Pay runs the pay action against a payment key
func (c *Client) Pay(ctx context.Context, paymentKey string, source PaySource) (*PayResult, error) {
	payload := map[string]interface{}{
		"payment_token": paymentKey,
		"source":        source,
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/acceptance/payments/pay", "", payload)
	if err != nil {
		return nil, err
	}
	return ParsePayResponse(source.Subtype, body), nil
}

// CreateIntention creates a payment intention authenticated with the secret key
func (c *Client) CreateIntention(ctx context.Context, req IntentionRequest) (*IntentionResponse, error) {
	if req.Items == nil {
		req.Items = []interface{}{}
	}
	body, err := c.do(ctx, http.MethodPost, c.intentionURL, "Token "+c.secretKey, req)
	if err != nil {
		return nil, err
	}

	var resp IntentionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.ClientSecret == "" {
		return nil, fmt.Errorf("%w: intention response has no client_secret", ErrMalformedResponse)
	}
	resp.Raw = body
	return &resp, nil
}

// ============================================================================
// POLLING
// ============================================================================

// GetOrder fetches the gateway's view of an order
func (c *Client) GetOrder(ctx context.Context, authToken string, gatewayOrderID int64) (*OrderResource, error) {
	endpoint := fmt.Sprintf("%s/ecommerce/orders/%d", c.baseURL, gatewayOrderID)
	body, err := c.do(ctx, http.MethodGet, endpoint, "Bearer "+authToken, nil)
	if err != nil {
		return nil, err
	}

	var order OrderResource
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &order, nil
}

// ListTransactions returns the transactions recorded for an order
func (c *Client) ListTransactions(ctx context.Context, authToken string, gatewayOrderID int64) ([]TransactionResource, error) {
	q := url.Values{}
	q.Set("order_id", strconv.FormatInt(gatewayOrderID, 10))
	endpoint := c.baseURL + "/acceptance/transactions?" + q.Encode()

	body, err := c.do(ctx, http.MethodGet, endpoint, "Bearer "+authToken, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []TransactionResource
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return list, nil
	}

	var page transactionPage
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return page.Results, nil
}

// LatestTransaction returns the most recent transaction for an order
func (c *Client) LatestTransaction(ctx context.Context, authToken string, gatewayOrderID int64) (TransactionResource, bool, error) {
	txns, err := c.ListTransactions(ctx, authToken, gatewayOrderID)
	if err != nil {
		return TransactionResource{}, false, err
	}
	t, ok := latest(txns)
	return t, ok, nil
}

// IframeURL builds the hosted card form URL for a payment key
func (c *Client) IframeURL(iframeID int, paymentKey string) string {
	return fmt.Sprintf("%s/acceptance/iframes/%d?payment_token=%s", c.baseURL, iframeID, url.QueryEscape(paymentKey))
}

// ============================================================================
// TRANSPORT
// ============================================================================

func (c *Client) postJSON(ctx context.Context, endpoint, authorization string, payload, out interface{}) error {
	body, err := c.do(ctx, http.MethodPost, endpoint, authorization, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// do sends one logical request and returns the body of a 2xx response
func (c *Client) do(ctx context.Context, method, endpoint, authorization string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	label := endpointLabel(req.URL.Path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveGatewayRequest(label, "error", time.Since(start).Seconds())
		c.logger.WithError(err).WithField("endpoint", label).Error("Gateway request failed")
		return nil, fmt.Errorf("gateway %s request failed: %w", label, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.ObserveGatewayRequest(label, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(logrus.Fields{
			"endpoint":    label,
			"status_code": resp.StatusCode,
		}).Warn("Gateway returned error status")
		return nil, &APIError{Endpoint: label, StatusCode: resp.StatusCode, Body: string(body)}
	}

	c.logger.WithFields(logrus.Fields{
		"endpoint":    label,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Gateway request completed")

	return body, nil
}

// endpointLabel collapses numeric path segments to keep metric cardinality bounded
func endpointLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
