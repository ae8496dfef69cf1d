package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductPrimeMembership tags provider payments that buy a membership month
// instead of Solcitos.
const ProductPrimeMembership = "prime_membership"

// MembershipStatus of a canceled membership keeps its benefits until the end
// date passes.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipCanceled MembershipStatus = "canceled"
	MembershipExpired  MembershipStatus = "expired"
)

// PrimeMembership is a user's premium subscription period.
type PrimeMembership struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	Status    MembershipStatus `json:"status" db:"status"`
	Price     decimal.Decimal  `json:"price" db:"price"`
	StartDate time.Time        `json:"start_date" db:"start_date"`
	EndDate   time.Time        `json:"end_date" db:"end_date"`
}

// Grants reports whether the membership still carries prime benefits at now.
func (m *PrimeMembership) Grants(now time.Time) bool {
	running := m.Status == MembershipActive || m.Status == MembershipCanceled
	return running && !m.EndDate.Before(now)
}

// MembershipPayment is a verified provider payment for one membership month.
type MembershipPayment struct {
	UserID     string
	Provider   Provider
	PaymentRef string
	Amount     decimal.Decimal
	PaidAt     time.Time
}
