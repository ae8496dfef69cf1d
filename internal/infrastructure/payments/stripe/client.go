package stripe

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	providerName   = "stripe"
	defaultBaseURL = "https://api.stripe.com"
)

type Config struct {
	SecretKey string
	// Sandbox expects a test-mode key. Stripe has one API host for both modes.
	Sandbox bool
	BaseURL string
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	baseURL := defaultBaseURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if httpClient == nil {
		httpClient = payments.NewHTTPClient()
	}
	if cfg.SecretKey != "" && cfg.Sandbox != strings.HasPrefix(cfg.SecretKey, "sk_test_") {
		slog.Warn("stripe key mode does not match sandbox flag", "provider", providerName, "sandbox", cfg.Sandbox)
	}
	return &Client{cfg: cfg, baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) newFormRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

// CreateCheckout opens a Checkout Session in payment mode. The transaction id
// travels in client_reference_id and metadata.
func (c *Client) CreateCheckout(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error) {
	successURL := in.SuccessURL
	if successURL != "" {
		sep := "?"
		if strings.Contains(successURL, "?") {
			sep = "&"
		}
		successURL += sep + "session_id={CHECKOUT_SESSION_ID}"
	}

	cents := in.Price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(in.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(cents, 10))
	form.Set("line_items[0][price_data][product_data][name]", in.Title)
	form.Set("success_url", successURL)
	form.Set("cancel_url", in.CancelURL)
	form.Set("client_reference_id", in.TransactionID)
	form.Set("metadata[transaction_id]", in.TransactionID)
	form.Set("metadata[user_id]", in.UserID)
	form.Set("metadata[package_id]", in.PackageID)
	if in.Description != "" {
		form.Set("line_items[0][price_data][product_data][description]", in.Description)
	}

	req, err := c.newFormRequest(ctx, http.MethodPost, "/v1/checkout/sessions", form)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Idempotency-Key", in.TransactionID)

	resp, err := payments.Do(c.httpClient, req, providerName, "create session")
	if err != nil {
		slog.Error("failed to create checkout session", "provider", providerName, "transaction_id", in.TransactionID, "error", err)
		return nil, err
	}
	res := gjson.ParseBytes(resp)
	return &payments.Checkout{URL: res.Get("url").String(), ProviderRef: res.Get("id").String()}, nil
}

// GetSession fetches the authoritative Checkout Session.
func (c *Client) GetSession(ctx context.Context, sessionID string) ([]byte, error) {
	req, err := c.newFormRequest(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	return payments.Do(c.httpClient, req, providerName, "get session")
}
