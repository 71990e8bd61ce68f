package models

import "github.com/shopspring/decimal"

// Error codes carried in ErrorResponse.Code
const (
	CodeValidation        = "validation"
	CodeNotEligible       = "not_eligible"
	CodeNotFound          = "not_found"
	CodeRecipientNotFound = "recipient_not_found"
	CodeSenderNotFound    = "sender_not_found"
	CodeUnauthenticated   = "unauthenticated"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal"
)

// MaxPageSize is the largest page GET /transactions returns.
const MaxPageSize = 100

// CreateTransferRequest is the body of POST /transfer. ID is the client
// generated idempotency key.
type CreateTransferRequest struct {
	ID                  string          `json:"id,omitempty"`
	RecipientIdentifier string          `json:"recipientIdentifier"`
	Amount              decimal.Decimal `json:"amount"`
	Note                string          `json:"note"`
}

// ErrorResponse is the body of every non-2xx answer. Transaction is set when
// the server refuses an operation on an existing record.
type ErrorResponse struct {
	Error       string       `json:"error"`
	Code        string       `json:"code"`
	Transaction *Transaction `json:"transaction"`
}

// BalanceResponse is the body of GET /accounts/balance.
type BalanceResponse struct {
	OwnerID  string          `json:"ownerId"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}
