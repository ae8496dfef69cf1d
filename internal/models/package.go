package models

import "github.com/shopspring/decimal"

// Package is a purchasable bundle of Solcitos.
type Package struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Amount       int64           `json:"amount" yaml:"amount"`
	Bonus        int64           `json:"bonus" yaml:"bonus"`
	Solcitos     int64           `json:"solcitos" yaml:"solcitos"`
	PriceUSD     decimal.Decimal `json:"price_usd" yaml:"-"`
	DisplayOrder int             `json:"display_order" yaml:"display_order"`
	Active       bool            `json:"active" yaml:"active"`
	Popular      bool            `json:"popular,omitempty" yaml:"popular"`
}
