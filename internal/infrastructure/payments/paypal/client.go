package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	providerName      = "paypal"
	sandboxBaseURL    = "https://api-m.sandbox.paypal.com"
	productionBaseURL = "https://api-m.paypal.com"
)

type Config struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
	BaseURL      string
	BrandName    string
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	now         func() time.Time
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	baseURL := productionBaseURL
	if cfg.Sandbox {
		baseURL = sandboxBaseURL
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if httpClient == nil {
		httpClient = payments.NewHTTPClient()
	}
	return &Client{cfg: cfg, baseURL: baseURL, httpClient: httpClient, now: time.Now}
}

// token returns a cached OAuth access token, refreshing it a minute before expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token",
		strings.NewReader(url.Values{"grant_type": {"client_credentials"}}.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := payments.Do(c.httpClient, req, providerName, "oauth token")
	if err != nil {
		return "", err
	}
	res := gjson.ParseBytes(body)
	token := res.Get("access_token").String()
	if token == "" {
		return "", &pkgerrors.ProviderError{Provider: providerName, Op: "oauth token", Err: errors.New("empty access token")}
	}
	ttl := time.Duration(res.Get("expires_in").Int()) * time.Second
	c.accessToken = token
	c.expiresAt = c.now().Add(ttl - time.Minute)
	return token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, op string) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := payments.NewJSONRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return payments.Do(c.httpClient, req, providerName, op)
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type orderItem struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	UnitAmount  money  `json:"unit_amount"`
	Quantity    string `json:"quantity"`
	Category    string `json:"category"`
}

type purchaseUnit struct {
	CustomID    string `json:"custom_id"`
	Description string `json:"description,omitempty"`
	Amount      struct {
		money
		Breakdown struct {
			ItemTotal money `json:"item_total"`
		} `json:"breakdown"`
	} `json:"amount"`
	Items []orderItem `json:"items"`
}

type applicationContext struct {
	BrandName   string `json:"brand_name,omitempty"`
	LandingPage string `json:"landing_page"`
	UserAction  string `json:"user_action"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
}

type orderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

// CreateCheckout creates a CAPTURE order whose custom_id is the transaction id.
func (c *Client) CreateCheckout(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error) {
	price := money{CurrencyCode: in.Currency, Value: in.Price.StringFixed(2)}
	unit := purchaseUnit{
		CustomID:    in.TransactionID,
		Description: in.Title,
		Items: []orderItem{{
			Name:        in.Title,
			Description: in.Description,
			UnitAmount:  price,
			Quantity:    "1",
			Category:    "DIGITAL_GOODS",
		}},
	}
	unit.Amount.money = price
	unit.Amount.Breakdown.ItemTotal = price

	body, err := json.Marshal(orderRequest{
		Intent:        "CAPTURE",
		PurchaseUnits: []purchaseUnit{unit},
		ApplicationContext: applicationContext{
			BrandName:   c.cfg.BrandName,
			LandingPage: "BILLING",
			UserAction:  "PAY_NOW",
			ReturnURL:   in.ReturnURL,
			CancelURL:   in.CancelURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, "create order")
	if err != nil {
		slog.Error("failed to create order", "provider", providerName, "transaction_id", in.TransactionID, "error", err)
		return nil, err
	}

	res := gjson.ParseBytes(resp)
	approve := res.Get(`links.#(rel=="approve").href`).String()
	if approve == "" {
		approve = res.Get(`links.#(rel=="payer-action").href`).String()
	}
	return &payments.Checkout{URL: approve, ProviderRef: res.Get("id").String()}, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, "get order")
}

func (c *Client) GetCapture(ctx context.Context, captureID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/v2/payments/captures/"+url.PathEscape(captureID), nil, "get capture")
}

// CaptureOrder captures an approved order. An order that was already
// captured is fetched and returned as is.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", []byte(`{}`), "capture order")
	if err == nil {
		return body, nil
	}
	var perr *pkgerrors.ProviderError
	if errors.As(err, &perr) && perr.StatusCode == http.StatusUnprocessableEntity &&
		gjson.GetBytes(body, `details.#(issue=="ORDER_ALREADY_CAPTURED")`).Exists() {
		slog.Warn("order already captured", "provider", providerName, "order_id", orderID)
		return c.GetOrder(ctx, orderID)
	}
	return nil, err
}
