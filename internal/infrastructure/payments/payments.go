// Package payments holds what the provider clients share: the checkout
// request handed to every provider and the HTTP plumbing that turns provider
// failures into ProviderError.
package payments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/shopspring/decimal"
)

const DefaultTimeout = 30 * time.Second

// CheckoutRequest describes one purchase to open at a provider.
type CheckoutRequest struct {
	TransactionID   string
	UserID          string
	PackageID       string
	Title           string
	Description     string
	Price           decimal.Decimal
	Currency        string
	SuccessURL      string
	FailureURL      string
	PendingURL      string
	CancelURL       string
	ReturnURL       string
	NotificationURL string

	// ProductType is set for checkouts that buy something other than a
	// Solcitos package, such as models.ProductPrimeMembership.
	ProductType string
}

// Checkout is where the buyer is sent and the provider id of the checkout.
type Checkout struct {
	URL         string
	ProviderRef string
}

// NewHTTPClient returns the client used when none is injected.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// Do sends req and returns the body of a 2xx response. Transport failures and
// other statuses come back as *errors.ProviderError.
func Do(client *http.Client, req *http.Request, provider, op string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &pkgerrors.ProviderError{Provider: provider, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &pkgerrors.ProviderError{Provider: provider, Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &pkgerrors.ProviderError{
			Provider:   provider,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", truncate(body, 300)),
		}
	}
	return body, nil
}

// NewJSONRequest builds a request carrying a JSON body.
func NewJSONRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
