package reconcile

import (
	"context"
	"errors"
	"net/url"

	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/shopspring/decimal"
)

// ErrEventIgnored marks a provider event that carries nothing to reconcile.
var ErrEventIgnored = errors.New("event ignored")

// Notification is a verified provider event: every field comes from the
// object re-fetched from the provider, never from the inbound payload.
type Notification struct {
	Provider      models.Provider
	DeliveryID    string
	TransactionID string
	ProviderRef   string
	Status        PaymentStatus
	RawStatus     string
	// CustomRef is the raw reference the transaction id was read from.
	CustomRef string
	// ExpectedSolcitos is set when the provider echoes the credited total back.
	ExpectedSolcitos int64

	// ProductType is set for payments that bought a product instead of a
	// Solcitos package. UserID and PaidAmount identify the buyer and the
	// amount the provider settled.
	ProductType string
	UserID      string
	PaidAmount  decimal.Decimal
}

type WebhookAdapter interface {
	Provider() models.Provider
	ParseWebhook(ctx context.Context, body []byte, query url.Values) (*Notification, error)
}

// CallbackAdapter handles providers that send the buyer's browser back with
// an order token instead of posting a webhook.
type CallbackAdapter interface {
	Provider() models.Provider
	ParseCallback(ctx context.Context, query url.Values) (*Notification, error)
}

func deliveryID(ref, rawStatus string) string {
	if ref == "" {
		return ""
	}
	return ref + ":" + rawStatus
}
