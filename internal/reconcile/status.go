package reconcile

import "strings"

// PaymentStatus is a provider payment state reduced to what the ledger acts on.
type PaymentStatus int

const (
	StatusUnknown PaymentStatus = iota
	StatusApproved
	StatusRejected
	StatusPending
)

func (s PaymentStatus) String() string {
	switch s {
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

func MercadoPagoStatus(raw string) PaymentStatus {
	switch strings.ToLower(raw) {
	case "approved":
		return StatusApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return StatusRejected
	case "pending", "in_process", "authorized", "in_mediation":
		return StatusPending
	default:
		return StatusUnknown
	}
}

// PayPalStatus maps both order and capture statuses.
func PayPalStatus(raw string) PaymentStatus {
	switch strings.ToUpper(raw) {
	case "COMPLETED":
		return StatusApproved
	case "DENIED", "DECLINED", "VOIDED", "FAILED":
		return StatusRejected
	case "PENDING", "CREATED", "SAVED", "APPROVED", "PAYER_ACTION_REQUIRED":
		return StatusPending
	default:
		return StatusUnknown
	}
}

// StripeStatus maps a checkout session. A session is only approved once its
// payment_status is paid; async_payment_failed events leave the session
// complete but unpaid, so the event type decides.
func StripeStatus(eventType, status, paymentStatus string) PaymentStatus {
	switch {
	case paymentStatus == "paid" || paymentStatus == "no_payment_required":
		return StatusApproved
	case status == "expired" || eventType == "checkout.session.async_payment_failed" || eventType == "checkout.session.expired":
		return StatusRejected
	case status == "open" || status == "complete":
		return StatusPending
	default:
		return StatusUnknown
	}
}
