package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry represents one side of a settled transfer
type LedgerEntry struct {
	ID            string          `json:"id"`            // <transaction id>-debit or -credit
	TransactionID string          `json:"transactionId"` // transaction that produced the entry
	AccountID     string          `json:"accountId"`     // owner id of the account
	Amount        decimal.Decimal `json:"amount"`        // negative for debits
	CreatedAt     time.Time       `json:"createdAt"`
}

// EntriesFor builds the debit and credit entries of a successful transfer.
func EntriesFor(tx Transaction, recipientID string, at time.Time) (LedgerEntry, LedgerEntry) {
	debit := LedgerEntry{
		ID:            tx.ID + "-debit",
		TransactionID: tx.ID,
		AccountID:     tx.OwnerID,
		Amount:        tx.Amount.Neg(),
		CreatedAt:     at,
	}
	credit := LedgerEntry{
		ID:            tx.ID + "-credit",
		TransactionID: tx.ID,
		AccountID:     recipientID,
		Amount:        tx.Amount,
		CreatedAt:     at,
	}
	return debit, credit
}
