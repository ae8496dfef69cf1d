package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestServer(t *testing.T, tokenCalls *int32, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			atomic.AddInt32(tokenCalls, 1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client", user)
			assert.Equal(t, "secret", pass)
			w.Write([]byte(`{"access_token":"A21","expires_in":3600}`))
			return
		}
		assert.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
}

func TestClient_CreateCheckout(t *testing.T) {
	var tokenCalls int32
	var got orderRequest
	srv := newTestServer(t, &tokenCalls, map[string]http.HandlerFunc{
		"POST /v2/checkout/orders": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"ORDER-1","links":[{"rel":"self","href":"x"},{"rel":"approve","href":"https://paypal/approve"}]}`))
		},
	})
	defer srv.Close()

	c := NewClient(Config{ClientID: "client", ClientSecret: "secret", BaseURL: srv.URL}, srv.Client())
	req := payments.CheckoutRequest{
		TransactionID: "tx-1",
		Title:         "510 Solcitos",
		Price:         decimal.RequireFromString("4.99"),
		Currency:      "USD",
		ReturnURL:     "https://app/payment-callback/paypal?transaction_id=tx-1",
	}

	checkout, err := c.CreateCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://paypal/approve", checkout.URL)
	assert.Equal(t, "ORDER-1", checkout.ProviderRef)
	assert.Equal(t, "tx-1", got.PurchaseUnits[0].CustomID)
	assert.Equal(t, "4.99", got.PurchaseUnits[0].Amount.Value)

	_, err = c.CreateCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestClient_CaptureOrder(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls, map[string]http.HandlerFunc{
		"POST /v2/checkout/orders/ORDER-1/capture": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED"}`))
		},
		"POST /v2/checkout/orders/ORDER-2/capture": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`))
		},
		"GET /v2/checkout/orders/ORDER-2": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"ORDER-2","status":"COMPLETED"}`))
		},
		"POST /v2/checkout/orders/ORDER-3/capture": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED"}]}`))
		},
	})
	defer srv.Close()
	c := NewClient(Config{ClientID: "client", ClientSecret: "secret", BaseURL: srv.URL}, srv.Client())
	ctx := context.Background()

	t.Run("Captured", func(t *testing.T) {
		body, err := c.CaptureOrder(ctx, "ORDER-1")
		require.NoError(t, err)
		assert.Equal(t, "COMPLETED", gjson.GetBytes(body, "status").String())
	})

	t.Run("AlreadyCaptured", func(t *testing.T) {
		body, err := c.CaptureOrder(ctx, "ORDER-2")
		require.NoError(t, err)
		assert.Equal(t, "ORDER-2", gjson.GetBytes(body, "id").String())
	})

	t.Run("Declined", func(t *testing.T) {
		_, err := c.CaptureOrder(ctx, "ORDER-3")
		assert.ErrorIs(t, err, pkgerrors.ErrProviderUnavailable)
	})
}
