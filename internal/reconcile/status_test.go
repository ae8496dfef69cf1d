package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	t.Run("MercadoPago", func(t *testing.T) {
		assert.Equal(t, StatusApproved, MercadoPagoStatus("approved"))
		assert.Equal(t, StatusRejected, MercadoPagoStatus("rejected"))
		assert.Equal(t, StatusRejected, MercadoPagoStatus("cancelled"))
		assert.Equal(t, StatusPending, MercadoPagoStatus("in_process"))
		assert.Equal(t, StatusUnknown, MercadoPagoStatus("whatever"))
	})

	t.Run("PayPal", func(t *testing.T) {
		assert.Equal(t, StatusApproved, PayPalStatus("COMPLETED"))
		assert.Equal(t, StatusRejected, PayPalStatus("DENIED"))
		assert.Equal(t, StatusRejected, PayPalStatus("VOIDED"))
		assert.Equal(t, StatusPending, PayPalStatus("APPROVED"))
		assert.Equal(t, StatusUnknown, PayPalStatus(""))
	})

	t.Run("Stripe", func(t *testing.T) {
		assert.Equal(t, StatusApproved, StripeStatus("checkout.session.completed", "complete", "paid"))
		assert.Equal(t, StatusPending, StripeStatus("checkout.session.completed", "complete", "unpaid"))
		assert.Equal(t, StatusRejected, StripeStatus("checkout.session.async_payment_failed", "complete", "unpaid"))
		assert.Equal(t, StatusRejected, StripeStatus("checkout.session.expired", "expired", "unpaid"))
	})
}
