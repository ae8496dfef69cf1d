package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	"github.com/tidwall/gjson"
)

const (
	providerName   = "mercadopago"
	defaultBaseURL = "https://api.mercadopago.com"
)

type Config struct {
	AccessToken string
	// Sandbox sends buyers to the sandbox checkout. MercadoPago serves both
	// modes from the same API host; the access token decides the account.
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
	return &Client{cfg: cfg, baseURL: baseURL, httpClient: httpClient}
}

type preferenceItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	BackURLs          map[string]string `json:"back_urls"`
	AutoReturn        string            `json:"auto_return"`
	ExternalReference string            `json:"external_reference"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	Metadata          map[string]string `json:"metadata"`
}

// CreateCheckout opens a checkout preference carrying the transaction id in
// both external_reference and metadata. Product checkouts carry the buyer's
// user id as external_reference and the product type in metadata instead.
func (c *Client) CreateCheckout(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error) {
	externalRef := in.TransactionID
	metadata := map[string]string{
		"transaction_id": in.TransactionID,
		"user_id":        in.UserID,
		"package_id":     in.PackageID,
	}
	if in.ProductType != "" {
		externalRef = in.UserID
		metadata["product_type"] = in.ProductType
	}

	body, err := json.Marshal(preferenceRequest{
		Items: []preferenceItem{{
			ID:          in.PackageID,
			Title:       in.Title,
			Description: in.Description,
			Quantity:    1,
			UnitPrice:   in.Price.InexactFloat64(),
			CurrencyID:  in.Currency,
		}},
		BackURLs: map[string]string{
			"success": in.SuccessURL,
			"failure": in.FailureURL,
			"pending": in.PendingURL,
		},
		AutoReturn:        "approved",
		ExternalReference: externalRef,
		NotificationURL:   in.NotificationURL,
		Metadata:          metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode preference: %w", err)
	}

	req, err := payments.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("X-Idempotency-Key", in.TransactionID)

	resp, err := payments.Do(c.httpClient, req, providerName, "create preference")
	if err != nil {
		slog.Error("failed to create preference", "provider", providerName, "transaction_id", in.TransactionID, "error", err)
		return nil, err
	}

	res := gjson.ParseBytes(resp)
	checkoutURL := res.Get("init_point").String()
	if c.cfg.Sandbox && res.Get("sandbox_init_point").Exists() {
		checkoutURL = res.Get("sandbox_init_point").String()
	}
	return &payments.Checkout{URL: checkoutURL, ProviderRef: res.Get("id").String()}, nil
}

// GetPayment fetches the authoritative payment object.
func (c *Client) GetPayment(ctx context.Context, paymentID string) ([]byte, error) {
	req, err := payments.NewJSONRequest(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	return payments.Do(c.httpClient, req, providerName, "get payment")
}
