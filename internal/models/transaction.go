package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one attempted purchase of Solcitos through an external provider.
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	UserID         string            `json:"user_id" db:"user_id"`
	Type           TransactionType   `json:"type" db:"type"`
	Status         StatusType        `json:"status" db:"status"`
	Amount         decimal.Decimal   `json:"amount" db:"amount"`
	SolcitosAmount int64             `json:"solcitos_amount" db:"solcitos_amount"`
	BonusAmount    int64             `json:"bonus_amount" db:"bonus_amount"`
	Provider       Provider          `json:"provider" db:"provider"`
	ProviderRef    *string           `json:"provider_ref,omitempty" db:"provider_ref"`
	Description    string            `json:"description,omitempty" db:"description"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"-"`
	FailureReason  *string           `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
}

// TotalSolcitos is what a completed transaction credits to its owner.
func (t *Transaction) TotalSolcitos() int64 {
	return t.SolcitosAmount + t.BonusAmount
}

func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

type TransactionType string

const (
	TypePurchase TransactionType = "PURCHASE"
)

type StatusType string

const (
	StatusPending   StatusType = "PENDING"
	StatusCompleted StatusType = "COMPLETED"
	StatusFailed    StatusType = "FAILED"
)

type Provider string

const (
	ProviderMercadoPago Provider = "MERCADOPAGO"
	ProviderPayPal      Provider = "PAYPAL"
	ProviderStripe      Provider = "STRIPE"
)

// ParseProvider maps the lower-case names used in routes and request bodies.
func ParseProvider(name string) (Provider, bool) {
	switch name {
	case "mercadopago":
		return ProviderMercadoPago, true
	case "paypal":
		return ProviderPayPal, true
	case "stripe":
		return ProviderStripe, true
	}
	return "", false
}

// NewTransaction holds the fields fixed at intent creation.
type NewTransaction struct {
	UserID         string
	Type           TransactionType
	Amount         decimal.Decimal
	SolcitosAmount int64
	BonusAmount    int64
	Provider       Provider
	Description    string
	Metadata       map[string]string
}
