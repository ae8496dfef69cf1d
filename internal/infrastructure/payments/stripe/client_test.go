package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateCheckout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_1", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1099", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "tx-1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "tx-1", r.PostForm.Get("metadata[transaction_id]"))
		assert.Equal(t, "https://app/payment/success?transaction_id=tx-1&session_id={CHECKOUT_SESSION_ID}", r.PostForm.Get("success_url"))
		w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{SecretKey: "sk_test_1", Sandbox: true, BaseURL: srv.URL}, srv.Client())
	checkout, err := c.CreateCheckout(context.Background(), payments.CheckoutRequest{
		TransactionID: "tx-1",
		Title:         "2750 Solcitos",
		Price:         decimal.RequireFromString("10.99"),
		Currency:      "USD",
		SuccessURL:    "https://app/payment/success?transaction_id=tx-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", checkout.ProviderRef)
	assert.Contains(t, checkout.URL, "cs_test_1")
}

func TestClient_GetSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions/cs_1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"No such checkout.session"}}`))
			return
		}
		w.Write([]byte(`{"id":"cs_1","payment_status":"paid"}`))
	}))
	defer srv.Close()
	c := NewClient(Config{SecretKey: "sk_test_1", Sandbox: true, BaseURL: srv.URL}, srv.Client())

	body, err := c.GetSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Contains(t, string(body), "paid")

	_, err = c.GetSession(context.Background(), "cs_2")
	assert.ErrorIs(t, err, pkgerrors.ErrProviderUnavailable)
}
