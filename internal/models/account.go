package models

import "github.com/shopspring/decimal"

// Account holds a server-side balance. Balances only move inside the
// executor's atomic unit.
type Account struct {
	OwnerID  string          `json:"ownerId"`
	Email    string          `json:"email"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}
