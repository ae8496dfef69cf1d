package reconcile

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

type MercadoPagoAPI interface {
	GetPayment(ctx context.Context, paymentID string) ([]byte, error)
}

type MercadoPagoAdapter struct {
	api MercadoPagoAPI
}

func NewMercadoPagoAdapter(api MercadoPagoAPI) *MercadoPagoAdapter {
	return &MercadoPagoAdapter{api: api}
}

func (a *MercadoPagoAdapter) Provider() models.Provider { return models.ProviderMercadoPago }

// ParseWebhook accepts both the JSON notification and the legacy
// ?topic=payment&id= form.
func (a *MercadoPagoAdapter) ParseWebhook(ctx context.Context, body []byte, query url.Values) (*Notification, error) {
	var kind, paymentID string
	if len(body) > 0 {
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: malformed mercadopago notification", pkgerrors.ErrInvalidInput)
		}
		event := gjson.ParseBytes(body)
		kind = firstNonEmpty(event.Get("type").String(), event.Get("topic").String())
		paymentID = event.Get("data.id").String()
	}
	kind = firstNonEmpty(kind, query.Get("type"), query.Get("topic"))
	paymentID = firstNonEmpty(paymentID, query.Get("data.id"), query.Get("id"))

	if kind != "payment" {
		return nil, ErrEventIgnored
	}
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment notification without id", pkgerrors.ErrInvalidInput)
	}

	raw, err := a.api.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	payment := gjson.ParseBytes(raw)
	if payment.Get("metadata.product_type").String() == models.ProductPrimeMembership {
		return membershipNotification(payment, paymentID), nil
	}

	custom := firstNonEmpty(payment.Get("metadata.transaction_id").String(), payment.Get("external_reference").String())
	rawStatus := payment.Get("status").String()
	ref := firstNonEmpty(payment.Get("id").String(), paymentID)
	return &Notification{
		Provider:      models.ProviderMercadoPago,
		DeliveryID:    deliveryID(ref, rawStatus),
		TransactionID: custom,
		ProviderRef:   ref,
		Status:        MercadoPagoStatus(rawStatus),
		RawStatus:     rawStatus,
		CustomRef:     custom,
	}, nil
}

// membershipNotification reads a prime membership payment. Its
// external_reference is the buyer's user id.
func membershipNotification(payment gjson.Result, paymentID string) *Notification {
	rawStatus := payment.Get("status").String()
	ref := firstNonEmpty(payment.Get("id").String(), paymentID)
	paid, err := decimal.NewFromString(payment.Get("transaction_amount").String())
	if err != nil {
		paid = decimal.Zero
	}
	return &Notification{
		Provider:    models.ProviderMercadoPago,
		DeliveryID:  deliveryID(ref, rawStatus),
		ProviderRef: ref,
		Status:      MercadoPagoStatus(rawStatus),
		RawStatus:   rawStatus,
		CustomRef:   payment.Get("external_reference").String(),
		ProductType: models.ProductPrimeMembership,
		UserID:      firstNonEmpty(payment.Get("metadata.user_id").String(), payment.Get("external_reference").String()),
		PaidAmount:  paid,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
