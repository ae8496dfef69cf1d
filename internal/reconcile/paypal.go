package reconcile

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/tidwall/gjson"
)

type PayPalAPI interface {
	GetOrder(ctx context.Context, orderID string) ([]byte, error)
	GetCapture(ctx context.Context, captureID string) ([]byte, error)
	CaptureOrder(ctx context.Context, orderID string) ([]byte, error)
}

type PayPalAdapter struct {
	api PayPalAPI
}

func NewPayPalAdapter(api PayPalAPI) *PayPalAdapter {
	return &PayPalAdapter{api: api}
}

func (a *PayPalAdapter) Provider() models.Provider { return models.ProviderPayPal }

func (a *PayPalAdapter) ParseWebhook(ctx context.Context, body []byte, _ url.Values) (*Notification, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed paypal event", pkgerrors.ErrInvalidInput)
	}
	event := gjson.ParseBytes(body)
	eventType := event.Get("event_type").String()
	resourceID := event.Get("resource.id").String()

	var (
		raw []byte
		err error
	)
	switch {
	case strings.HasPrefix(eventType, "PAYMENT.CAPTURE."):
		if resourceID == "" {
			return nil, fmt.Errorf("%w: capture event without resource id", pkgerrors.ErrInvalidInput)
		}
		raw, err = a.api.GetCapture(ctx, resourceID)
	case strings.HasPrefix(eventType, "CHECKOUT.ORDER."):
		if resourceID == "" {
			return nil, fmt.Errorf("%w: order event without resource id", pkgerrors.ErrInvalidInput)
		}
		raw, err = a.api.GetOrder(ctx, resourceID)
	default:
		return nil, ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}

	resource := gjson.ParseBytes(raw)
	custom := firstNonEmpty(
		resource.Get("custom_id").String(),
		resource.Get("purchase_units.0.custom_id").String(),
	)
	rawStatus := resource.Get("status").String()
	// Checkout stored the order id, so prefer it over the capture id.
	ref := firstNonEmpty(resource.Get("supplementary_data.related_ids.order_id").String(), resourceID)

	n := &Notification{
		Provider:    models.ProviderPayPal,
		DeliveryID:  deliveryID(resourceID, rawStatus),
		ProviderRef: ref,
		Status:      PayPalStatus(rawStatus),
		RawStatus:   rawStatus,
		CustomRef:   custom,
	}
	n.TransactionID, n.ExpectedSolcitos = decodeCustomID(custom, "")
	return n, nil
}

// ParseCallback captures the order named by the token query parameter. Any
// capture error is returned before a Notification exists, so the ledger is
// never touched for an uncaptured order.
func (a *PayPalAdapter) ParseCallback(ctx context.Context, query url.Values) (*Notification, error) {
	orderID := query.Get("token")
	if orderID == "" {
		return nil, fmt.Errorf("%w: callback without order token", pkgerrors.ErrInvalidInput)
	}

	raw, err := a.api.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order := gjson.ParseBytes(raw)

	custom := firstNonEmpty(
		order.Get("purchase_units.0.payments.captures.0.custom_id").String(),
		order.Get("purchase_units.0.custom_id").String(),
	)
	rawStatus := order.Get("status").String()

	n := &Notification{
		Provider:    models.ProviderPayPal,
		DeliveryID:  deliveryID(orderID, rawStatus),
		ProviderRef: orderID,
		Status:      PayPalStatus(rawStatus),
		RawStatus:   rawStatus,
		CustomRef:   custom,
	}
	n.TransactionID, n.ExpectedSolcitos = decodeCustomID(custom, query.Get("transaction_id"))
	return n, nil
}

// decodeCustomID reads custom_id as either a bare transaction id or the JSON
// object {userId, packageId, solcitos}. The JSON form does not carry the
// transaction id, which then comes from fallback.
func decodeCustomID(custom, fallback string) (string, int64) {
	trimmed := strings.TrimSpace(custom)
	if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) {
		data := gjson.Parse(trimmed)
		return firstNonEmpty(data.Get("transactionId").String(), fallback), data.Get("solcitos").Int()
	}
	return firstNonEmpty(trimmed, fallback), 0
}
