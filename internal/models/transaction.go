package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a transfer intent
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Failure reasons persisted on failed transactions
const (
	ReasonInsufficientBalance = "insufficient balance"
	ReasonRecipientNotFound   = "recipient not found"
	ReasonSenderNotFound      = "sender account not found"
	ReasonCurrencyMismatch    = "currency mismatch"
	ReasonSelfTransfer        = "cannot transfer to own account"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed, ignoring the
// failed -> retry path which goes through sync.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Operation is a status-mutating action on a transaction
type Operation string

const (
	OpSync   Operation = "sync"
	OpCancel Operation = "cancel"
)

// EligibleStatuses lists the statuses an operation may start from.
func EligibleStatuses(op Operation) []Status {
	switch op {
	case OpSync:
		return []Status{StatusPending, StatusFailed}
	case OpCancel:
		return []Status{StatusPending}
	}
	return nil
}

// Transaction represents an intent to transfer money from the owner to a
// recipient identified by email. The ID is generated by the client and is the
// idempotency key for every later operation.
type Transaction struct {
	ID                  string          `json:"id"`
	OwnerID             string          `json:"-"`
	RecipientIdentifier string          `json:"recipientIdentifier"`
	Amount              decimal.Decimal `json:"amount"`
	Note                string          `json:"note"`
	Status              Status          `json:"status"`
	FailureReason       *string         `json:"failureReason"`
	ExecutedAt          *time.Time      `json:"executedAt"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// CheckEligible returns an error wrapping ErrNotEligible when the
// transaction's current status does not allow op.
func (t Transaction) CheckEligible(op Operation) error {
	for _, s := range EligibleStatuses(op) {
		if t.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s a %s transaction", ErrNotEligible, op, t.Status)
}

// MarkSucceeded moves the transaction to success and stamps executedAt.
func (t *Transaction) MarkSucceeded(at time.Time) {
	at = at.UTC()
	t.Status = StatusSuccess
	t.ExecutedAt = &at
	t.FailureReason = nil
}

func (t *Transaction) MarkFailed(reason string) {
	t.Status = StatusFailed
	t.FailureReason = &reason
	t.ExecutedAt = nil
}

func (t *Transaction) MarkCancelled() {
	t.Status = StatusCancelled
	t.FailureReason = nil
	t.ExecutedAt = nil
}

// Reason returns the failure reason or an empty string.
func (t Transaction) Reason() string {
	if t.FailureReason == nil {
		return ""
	}
	return *t.FailureReason
}
