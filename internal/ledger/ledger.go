package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces"
	"github.com/sheikh-saqib/offline-payments-sync/internal/logger"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models/events"
	"github.com/shopspring/decimal"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = models.MaxPageSize
)

// Ledger is the transfer executor. It is the only place balances move.
type Ledger struct {
	store     interfaces.LedgerStore   // accounts, entries and transaction records
	publisher interfaces.EventPublisher // optional, receives transaction_completed events
	topic     string
	now       func() time.Time
}

type Option func(*Ledger)

// WithPublisher publishes a TransactionCompleted event to topic after every
// successful execution.
func WithPublisher(publisher interfaces.EventPublisher, topic string) Option {
	return func(l *Ledger) {
		l.publisher = publisher
		l.topic = topic
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger on top of the given storage implementation.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		topic: events.TopicTransactionCompleted,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateTransferInput is the caller supplied part of a new transfer.
type CreateTransferInput struct {
	ID                  string // optional client generated idempotency key
	RecipientIdentifier string
	Amount              decimal.Decimal
	Note                string
}

// CreatePending validates a transfer and stores it as pending without moving
// any balance. Repeating a request with the same id returns the stored record
// and created=false.
func (l *Ledger) CreatePending(ctx context.Context, ownerID string, in CreateTransferInput) (models.Transaction, bool, error) {
	if err := models.ValidateTransferInput(in.RecipientIdentifier, in.Amount, in.Note); err != nil {
		return models.Transaction{}, false, err
	}

	id := in.ID
	if id == "" {
		id = uuid.New().String()
	} else if err := models.ValidateID(id); err != nil {
		return models.Transaction{}, false, err
	}

	if existing, err := l.store.GetTransaction(ctx, id); err == nil {
		if existing.OwnerID != ownerID {
			return models.Transaction{}, false, fmt.Errorf("%w: id %s is already in use", models.ErrValidation, id)
		}
		return existing, false, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return models.Transaction{}, false, err
	}

	if _, err := l.store.GetAccount(ctx, ownerID); errors.Is(err, models.ErrAccountNotFound) {
		return models.Transaction{}, false, fmt.Errorf("%w: %s", models.ErrSenderNotFound, ownerID)
	} else if err != nil {
		return models.Transaction{}, false, err
	}

	// a transfer to the sender's own address is stored and fails at execution
	if _, err := l.store.FindAccountByEmail(ctx, in.RecipientIdentifier); errors.Is(err, models.ErrAccountNotFound) {
		return models.Transaction{}, false, fmt.Errorf("%w: %s", models.ErrRecipientNotFound, in.RecipientIdentifier)
	} else if err != nil {
		return models.Transaction{}, false, err
	}

	tx := models.Transaction{
		ID:                  id,
		OwnerID:             ownerID,
		RecipientIdentifier: models.NormalizeRecipient(in.RecipientIdentifier),
		Amount:              in.Amount,
		Note:                strings.TrimSpace(in.Note),
		Status:              models.StatusPending,
		CreatedAt:           l.now().UTC(),
	}

	stored, created, err := l.store.CreateTransaction(ctx, tx)
	if err != nil {
		return models.Transaction{}, false, err
	}
	if stored.OwnerID != ownerID {
		return models.Transaction{}, false, fmt.Errorf("%w: id %s is already in use", models.ErrValidation, id)
	}

	logger.FromContext(ctx).Info("pending transfer recorded", "transaction_id", stored.ID, "created", created)
	return stored, created, nil
}

// Execute settles a pending or failed transfer. Balances, ledger entries and
// the record's new status are committed in one atomic unit. Executing an
// already successful transfer is a no-op that returns the stored record.
// Unresolvable recipients and insufficient funds are persisted as failed
// records and are not returned as errors.
func (l *Ledger) Execute(ctx context.Context, ownerID, id string) (models.Transaction, error) {
	var (
		result   models.Transaction
		settled  bool
		replayed bool
	)

	err := l.store.RunInTx(ctx, func(tx interfaces.LedgerTx) error {
		record, err := tx.LockTransaction(id)
		if err != nil {
			return err
		}
		if record.OwnerID != ownerID {
			return models.ErrNotFound
		}

		if record.Status == models.StatusSuccess {
			result, replayed = record, true
			return nil
		}
		if err := record.CheckEligible(models.OpSync); err != nil {
			result = record
			return err
		}

		recipient, err := tx.FindAccountByEmail(record.RecipientIdentifier)
		if errors.Is(err, models.ErrAccountNotFound) {
			return l.fail(tx, &result, record, models.ReasonRecipientNotFound)
		}
		if err != nil {
			return err
		}
		if recipient.OwnerID == record.OwnerID {
			return l.fail(tx, &result, record, models.ReasonSelfTransfer)
		}

		accounts, err := tx.LockAccounts(record.OwnerID, recipient.OwnerID)
		if err != nil {
			return err
		}
		sender, ok := accounts[record.OwnerID]
		if !ok {
			return l.fail(tx, &result, record, models.ReasonSenderNotFound)
		}
		recipient, ok = accounts[recipient.OwnerID]
		if !ok {
			return l.fail(tx, &result, record, models.ReasonRecipientNotFound)
		}
		if sender.Currency != recipient.Currency {
			return l.fail(tx, &result, record, models.ReasonCurrencyMismatch)
		}
		if sender.Balance.LessThan(record.Amount) {
			return l.fail(tx, &result, record, models.ReasonInsufficientBalance)
		}

		now := l.now().UTC()
		if err := tx.UpdateBalance(sender.OwnerID, sender.Balance.Sub(record.Amount)); err != nil {
			return err
		}
		if err := tx.UpdateBalance(recipient.OwnerID, recipient.Balance.Add(record.Amount)); err != nil {
			return err
		}

		debit, credit := models.EntriesFor(record, recipient.OwnerID, now)
		if err := tx.SaveEntry(debit); err != nil {
			return err
		}
		if err := tx.SaveEntry(credit); err != nil {
			return err
		}

		record.MarkSucceeded(now)
		if err := tx.UpdateTransaction(record); err != nil {
			return err
		}

		result, settled = record, true
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotEligible) {
			return result, err
		}
		return models.Transaction{}, err
	}

	txLog := logger.FromContext(ctx).With("transaction_id", id, "status", result.Status)
	switch {
	case replayed:
		txLog.Info("transfer already settled, nothing to do")
	case settled:
		txLog.Info("transfer settled", "amount", result.Amount.String())
		l.publishCompleted(ctx, txLog, result)
	default:
		txLog.Info("transfer rejected", "reason", result.Reason())
	}
	return result, nil
}

func (l *Ledger) fail(tx interfaces.LedgerTx, result *models.Transaction, record models.Transaction, reason string) error {
	record.MarkFailed(reason)
	if err := tx.UpdateTransaction(record); err != nil {
		return err
	}
	*result = record
	return nil
}

// publishCompleted runs after commit; a publish failure never undoes the transfer.
func (l *Ledger) publishCompleted(ctx context.Context, txLog *log.Logger, tx models.Transaction) {
	if l.publisher == nil {
		return
	}

	var toAccount, currency string
	if recipient, err := l.store.FindAccountByEmail(ctx, tx.RecipientIdentifier); err == nil {
		toAccount, currency = recipient.OwnerID, recipient.Currency
	}

	event := events.TransactionCompleted{
		TransactionID: tx.ID,
		FromAccount:   tx.OwnerID,
		ToAccount:     toAccount,
		Amount:        tx.Amount,
		Currency:      currency,
		OccurredAt:    *tx.ExecutedAt,
	}
	if err := l.publisher.Publish(context.WithoutCancel(ctx), l.topic, tx.ID, event); err != nil {
		txLog.Error("failed to publish transaction_completed", "error", err)
	}
}

// Cancel moves a pending transfer to cancelled. It never touches balances.
func (l *Ledger) Cancel(ctx context.Context, ownerID, id string) (models.Transaction, error) {
	var result models.Transaction

	err := l.store.RunInTx(ctx, func(tx interfaces.LedgerTx) error {
		record, err := tx.LockTransaction(id)
		if err != nil {
			return err
		}
		if record.OwnerID != ownerID {
			return models.ErrNotFound
		}

		result = record
		if err := record.CheckEligible(models.OpCancel); err != nil {
			return err
		}

		record.MarkCancelled()
		if err := tx.UpdateTransaction(record); err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotEligible) {
			return result, err
		}
		return models.Transaction{}, err
	}

	logger.FromContext(ctx).Info("transfer cancelled", "transaction_id", id)
	return result, nil
}

// List returns the owner's transfers, newest first.
func (l *Ledger) List(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListTransactions(ctx, ownerID, limit, offset)
}

// GetBalance returns the owner's account.
func (l *Ledger) GetBalance(ctx context.Context, ownerID string) (models.Account, error) {
	return l.store.GetAccount(ctx, ownerID)
}

// GetLedgerEntries returns the double-entry rows of the owner's account.
func (l *Ledger) GetLedgerEntries(ctx context.Context, ownerID string) ([]models.LedgerEntry, error) {
	entries, err := l.store.GetEntriesByAccount(ctx, ownerID)
	if err != nil {
		return []models.LedgerEntry{}, err
	}
	return entries, nil
}
