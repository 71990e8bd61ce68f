package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, owner_id, recipient_identifier, amount, note, status, failure_reason, executed_at, created_at`

type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		tx            models.Transaction
		status        string
		failureReason sql.NullString
		executedAt    sql.NullTime
	)
	err := row.Scan(
		&tx.ID,
		&tx.OwnerID,
		&tx.RecipientIdentifier,
		&tx.Amount,
		&tx.Note,
		&status,
		&failureReason,
		&executedAt,
		&tx.CreatedAt,
	)
	if err != nil {
		return models.Transaction{}, err
	}

	tx.Status = models.Status(status)
	tx.CreatedAt = tx.CreatedAt.UTC()
	if failureReason.Valid {
		tx.FailureReason = &failureReason.String
	}
	if executedAt.Valid {
		at := executedAt.Time.UTC()
		tx.ExecutedAt = &at
	}
	return tx, nil
}

func scanAccount(row rowScanner) (models.Account, error) {
	var account models.Account
	err := row.Scan(&account.OwnerID, &account.Email, &account.Balance, &account.Currency)
	return account, err
}

// SeedAccount creates the account or resets its balance.
func (p *PostgresLedgerStore) SeedAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (owner_id, email, balance, currency)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (owner_id) DO UPDATE SET email = EXCLUDED.email, balance = EXCLUDED.balance, currency = EXCLUDED.currency`

	_, err := p.db.ExecContext(ctx, query, account.OwnerID, models.NormalizeRecipient(account.Email), account.Balance, account.Currency)
	return err
}

func (p *PostgresLedgerStore) CreateTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	const query = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
	RETURNING ` + transactionColumns

	row := p.db.QueryRowContext(ctx, query,
		tx.ID, tx.OwnerID, tx.RecipientIdentifier, tx.Amount, tx.Note,
		string(tx.Status), tx.FailureReason, tx.ExecutedAt, tx.CreatedAt,
	)
	stored, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := p.GetTransaction(ctx, tx.ID)
		return existing, false, getErr
	}
	if err != nil {
		return models.Transaction{}, false, err
	}
	return stored, true, nil
}

func (p *PostgresLedgerStore) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, models.ErrNotFound
	}
	return tx, err
}

func (p *PostgresLedgerStore) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE owner_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT $2 OFFSET $3`

	rows, err := p.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, ownerID string) (models.Account, error) {
	const query = `SELECT owner_id, email, balance, currency FROM accounts WHERE owner_id = $1`

	account, err := scanAccount(p.db.QueryRowContext(ctx, query, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, models.ErrAccountNotFound
	}
	return account, err
}

func (p *PostgresLedgerStore) FindAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	return findAccountByEmail(ctx, p.db, email)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findAccountByEmail(ctx context.Context, q queryer, email string) (models.Account, error) {
	const query = `SELECT owner_id, email, balance, currency FROM accounts WHERE email = $1`

	account, err := scanAccount(q.QueryRowContext(ctx, query, models.NormalizeRecipient(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, models.ErrAccountNotFound
	}
	return account, err
}

func (p *PostgresLedgerStore) GetEntriesByAccount(ctx context.Context, ownerID string) ([]models.LedgerEntry, error) {
	const query = `SELECT id, transaction_id, account_id, amount, created_at FROM ledger_entries
	WHERE account_id = $1
	ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.AccountID, &entry.Amount, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RunInTx runs fn in one database transaction and rolls it back when fn or
// the commit fails.
func (p *PostgresLedgerStore) RunInTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			dbTx.Rollback()
			panic(r)
		}
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = fn(&pgTx{ctx: ctx, tx: dbTx}); err != nil {
		return err
	}
	return dbTx.Commit()
}

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *pgTx) LockTransaction(id string) (models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	tx, err := scanTransaction(t.tx.QueryRowContext(t.ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, models.ErrNotFound
	}
	return tx, err
}

// LockAccounts takes the row locks in owner id order so two transfers
// between the same accounts cannot deadlock.
func (t *pgTx) LockAccounts(ownerIDs ...string) (map[string]models.Account, error) {
	const query = `SELECT owner_id, email, balance, currency FROM accounts
	WHERE owner_id = ANY($1)
	ORDER BY owner_id
	FOR UPDATE`

	sorted := append([]string(nil), ownerIDs...)
	sort.Strings(sorted)

	rows, err := t.tx.QueryContext(t.ctx, query, pq.Array(sorted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]models.Account, len(sorted))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result[account.OwnerID] = account
	}
	return result, rows.Err()
}

func (t *pgTx) FindAccountByEmail(email string) (models.Account, error) {
	return findAccountByEmail(t.ctx, t.tx, email)
}

func (t *pgTx) UpdateBalance(ownerID string, balance decimal.Decimal) error {
	const query = `UPDATE accounts SET balance = $2 WHERE owner_id = $1`

	res, err := t.tx.ExecContext(t.ctx, query, ownerID, balance)
	if err != nil {
		return err
	}
	return expectOneRow(res, "account "+ownerID)
}

func (t *pgTx) SaveEntry(entry models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, transaction_id, account_id, amount, created_at)
	VALUES ($1, $2, $3, $4, $5)`

	_, err := t.tx.ExecContext(t.ctx, query, entry.ID, entry.TransactionID, entry.AccountID, entry.Amount, entry.CreatedAt)
	return err
}

func (t *pgTx) UpdateTransaction(tx models.Transaction) error {
	const query = `UPDATE transactions SET status = $2, failure_reason = $3, executed_at = $4 WHERE id = $1`

	res, err := t.tx.ExecContext(t.ctx, query, tx.ID, string(tx.Status), tx.FailureReason, tx.ExecutedAt)
	if err != nil {
		return err
	}
	return expectOneRow(res, "transaction "+tx.ID)
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("update of %s affected %d rows", what, n)
	}
	return nil
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
