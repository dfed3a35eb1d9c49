package moncash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tishop/marketplace-backend/pkg/config"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
)

const (
	SandboxBaseURL = "https://sandbox.moncashbutton.digicelgroup.com/Api"
	LiveBaseURL    = "https://moncashbutton.digicelgroup.com/Api"

	sandboxGatewayURL = "https://sandbox.moncashbutton.digicelgroup.com/Moncash-middleware"
	liveGatewayURL    = "https://moncashbutton.digicelgroup.com/Moncash-middleware"

	tokenPath       = "/oauth/token"
	createPath      = "/v1/CreatePayment"
	retrievePath    = "/v1/RetrieveTransactionPayment"
	tokenRequestRaw = "scope=read,write&grant_type=client_credentials"

	successfulMessage     = "successful"
	responseBodyReadLimit = 4 << 10
)

// Payment is the hosted-checkout session handed back by CreatePayment.
type Payment struct {
	Token       string
	RedirectURL string
}

// Transaction is the gateway's view of a completed (or failed) payment.
type Transaction struct {
	TransactionID string
	Reference     string
	Payer         string
	Cost          decimal.Decimal
	Message       string
}

// Successful reports whether the gateway settled the payment.
func (t *Transaction) Successful() bool {
	return t != nil && strings.EqualFold(strings.TrimSpace(t.Message), successfulMessage)
}

// Gateway is the verification surface the settlement engine depends on.
type Gateway interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, reference string) (*Payment, error)
	RetrieveTransaction(ctx context.Context, transactionID string) (*Transaction, error)
}

// Client talks to the MonCash button API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	gatewayURL   string
	clientID     string
	clientSecret string
	timeout      time.Duration
	tokenTTL     time.Duration
	tokens       TokenCache
	now          func() time.Time
}

// Option customizes the client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points both the API and the redirect gateway at a custom host. Used by tests.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if strings.TrimSpace(base) != "" {
			c.baseURL = strings.TrimRight(base, "/")
			c.gatewayURL = c.baseURL + "/Moncash-middleware"
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a MonCash client from configuration. A nil cache falls back to an in-process one.
func NewClient(cfg config.MonCashConfig, cache TokenCache, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("moncash client id and secret are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > config.MaxGatewayTimeout {
		timeout = config.MaxGatewayTimeout
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 50 * time.Second
	}

	c := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      SandboxBaseURL,
		gatewayURL:   sandboxGatewayURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		timeout:      timeout,
		tokenTTL:     ttl,
		tokens:       cache,
		now:          time.Now,
	}
	if cfg.IsLive() {
		c.baseURL = LiveBaseURL
		c.gatewayURL = liveGatewayURL
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = NewMemoryTokenCache(c.now)
	}
	return c, nil
}

// CreatePayment opens a hosted payment for the given amount. The gateway stores reference as the
// transaction's order reference; the settlement engine passes the order number and checks it
// again when the transaction is retrieved.
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, reference string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "moncash client not configured")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	if strings.TrimSpace(reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"amount":  amount.InexactFloat64(),
		"orderId": reference,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode create payment request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createPath, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build create payment request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var apiResp struct {
		PaymentToken struct {
			Token string `json:"token"`
		} `json:"payment_token"`
	}
	if err := c.do(req, "create payment", &apiResp); err != nil {
		return nil, err
	}
	if apiResp.PaymentToken.Token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "moncash returned no payment token")
	}

	return &Payment{
		Token:       apiResp.PaymentToken.Token,
		RedirectURL: c.RedirectURL(apiResp.PaymentToken.Token),
	}, nil
}

// RedirectURL is where the buyer completes a payment.
func (c *Client) RedirectURL(token string) string {
	return fmt.Sprintf("%s/Payment/Redirect?token=%s", c.gatewayURL, url.QueryEscape(token))
}

// RetrieveTransaction asks the gateway for the authoritative state of a transaction.
func (c *Client) RetrieveTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "moncash client not configured")
	}
	trimmed := strings.TrimSpace(transactionID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("transactionId", trimmed)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+retrievePath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build retrieve transaction request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var apiResp struct {
		Payment struct {
			Reference     string          `json:"reference"`
			TransactionID string          `json:"transaction_id"`
			Cost          decimal.Decimal `json:"cost"`
			Message       string          `json:"message"`
			Payer         string          `json:"payer"`
		} `json:"payment"`
	}
	if err := c.do(req, "retrieve transaction", &apiResp); err != nil {
		return nil, err
	}

	return &Transaction{
		TransactionID: apiResp.Payment.TransactionID,
		Reference:     apiResp.Payment.Reference,
		Payer:         apiResp.Payment.Payer,
		Cost:          apiResp.Payment.Cost,
		Message:       apiResp.Payment.Message,
	}, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, ok, err := c.tokens.Get(ctx); err == nil && ok {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(tokenRequestRaw))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build token request")
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var apiResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(req, "token", &apiResp); err != nil {
		return "", err
	}
	if apiResp.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "moncash returned an empty access token")
	}

	// A failed cache write only costs an extra token round-trip next time.
	_ = c.tokens.Set(ctx, apiResp.AccessToken, c.tokenTTL)
	return apiResp.AccessToken, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute moncash "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "moncash "+op+" request failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode moncash "+op+" response")
	}
	return nil
}
