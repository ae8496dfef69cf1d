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

type StripeAPI interface {
	GetSession(ctx context.Context, sessionID string) ([]byte, error)
}

type StripeAdapter struct {
	api StripeAPI
}

func NewStripeAdapter(api StripeAPI) *StripeAdapter {
	return &StripeAdapter{api: api}
}

func (a *StripeAdapter) Provider() models.Provider { return models.ProviderStripe }

func (a *StripeAdapter) ParseWebhook(ctx context.Context, body []byte, _ url.Values) (*Notification, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed stripe event", pkgerrors.ErrInvalidInput)
	}
	event := gjson.ParseBytes(body)
	eventType := event.Get("type").String()
	if !strings.HasPrefix(eventType, "checkout.session.") {
		return nil, ErrEventIgnored
	}
	sessionID := event.Get("data.object.id").String()
	if sessionID == "" {
		return nil, fmt.Errorf("%w: stripe event without session id", pkgerrors.ErrInvalidInput)
	}

	raw, err := a.api.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session := gjson.ParseBytes(raw)

	custom := firstNonEmpty(session.Get("metadata.transaction_id").String(), session.Get("client_reference_id").String())
	status := session.Get("status").String()
	paymentStatus := session.Get("payment_status").String()
	rawStatus := status + "/" + paymentStatus
	return &Notification{
		Provider:      models.ProviderStripe,
		DeliveryID:    deliveryID(sessionID, rawStatus),
		TransactionID: custom,
		ProviderRef:   sessionID,
		Status:        StripeStatus(eventType, status, paymentStatus),
		RawStatus:     rawStatus,
		CustomRef:     custom,
	}, nil
}
