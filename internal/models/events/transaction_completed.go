package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const TopicTransactionCompleted = "transaction_completed"

// TransactionCompleted is published once a transfer has moved balances.
type TransactionCompleted struct {
	TransactionID string          `json:"transaction_id"`
	FromAccount   string          `json:"from_account"`
	ToAccount     string          `json:"to_account"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
