package mercadopago

import (
	"context"
	"encoding/json"
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
	var got preferenceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"pref-1","init_point":"https://mp/live","sandbox_init_point":"https://mp/sandbox"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{AccessToken: "TEST-token", Sandbox: true, BaseURL: srv.URL}, srv.Client())
	checkout, err := c.CreateCheckout(context.Background(), payments.CheckoutRequest{
		TransactionID: "tx-1",
		UserID:        "user-1",
		PackageID:     "pack_95",
		Title:         "95 Solcitos",
		Price:         decimal.RequireFromString("1.99"),
		Currency:      "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://mp/sandbox", checkout.URL)
	assert.Equal(t, "pref-1", checkout.ProviderRef)
	assert.Equal(t, "tx-1", got.ExternalReference)
	assert.Equal(t, "tx-1", got.Metadata["transaction_id"])
	assert.Equal(t, 1.99, got.Items[0].UnitPrice)
}

func TestClient_CreateCheckoutForProduct(t *testing.T) {
	var got preferenceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"pref-2","init_point":"https://mp/live"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{AccessToken: "t", BaseURL: srv.URL}, srv.Client())
	checkout, err := c.CreateCheckout(context.Background(), payments.CheckoutRequest{
		TransactionID: "chk-1",
		UserID:        "user-1",
		PackageID:     "prime_membership",
		Price:         decimal.RequireFromString("3.99"),
		Currency:      "USD",
		ProductType:   "prime_membership",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://mp/live", checkout.URL)
	assert.Equal(t, "user-1", got.ExternalReference)
	assert.Equal(t, "prime_membership", got.Metadata["product_type"])
}

func TestClient_GetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/123":
			w.Write([]byte(`{"id":123,"status":"approved"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	c := NewClient(Config{AccessToken: "t", BaseURL: srv.URL}, srv.Client())

	t.Run("Success", func(t *testing.T) {
		body, err := c.GetPayment(context.Background(), "123")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":123,"status":"approved"}`, string(body))
	})

	t.Run("ProviderUnavailable", func(t *testing.T) {
		_, err := c.GetPayment(context.Background(), "999")
		assert.ErrorIs(t, err, pkgerrors.ErrProviderUnavailable)
		var perr *pkgerrors.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	})
}
