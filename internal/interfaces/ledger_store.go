package interfaces

import (
	"context"

	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerStore is the server-side store of accounts, ledger entries and
// transaction records.
type LedgerStore interface {
	// CreateTransaction inserts a pending record. When the id already exists
	// the stored record is returned with created=false.
	CreateTransaction(ctx context.Context, tx models.Transaction) (stored models.Transaction, created bool, err error)
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error)

	GetAccount(ctx context.Context, ownerID string) (models.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (models.Account, error)
	GetEntriesByAccount(ctx context.Context, ownerID string) ([]models.LedgerEntry, error)

	// RunInTx runs fn inside one atomic unit. Every write made through the
	// LedgerTx commits together when fn returns nil and is discarded otherwise.
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the view of the store inside an atomic unit. Lock methods hold
// row-level exclusivity until the unit ends.
type LedgerTx interface {
	LockTransaction(id string) (models.Transaction, error)
	// LockAccounts locks the accounts of the given owners in a deterministic
	// order. Owners without an account are absent from the result.
	LockAccounts(ownerIDs ...string) (map[string]models.Account, error)
	FindAccountByEmail(email string) (models.Account, error)
	UpdateBalance(ownerID string, balance decimal.Decimal) error
	SaveEntry(entry models.LedgerEntry) error
	UpdateTransaction(tx models.Transaction) error
}
