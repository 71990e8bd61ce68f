package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const transactionColumns = `id, owner_id, recipient_identifier, amount, note, status, failure_reason, executed_at, created_at`

// LocalStore keeps the client's transfer intents in a SQLite file so they
// survive restarts while the device is offline.
type LocalStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*LocalStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database at %s: %w", path, err)
	}
	// One connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping local database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &LocalStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("could not create sqlite migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply local migrations: %w", err)
	}
	return nil
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		tx            models.Transaction
		status        string
		failureReason sql.NullString
		executedAt    sql.NullInt64
		createdAt     int64
	)
	err := row.Scan(&tx.ID, &tx.OwnerID, &tx.RecipientIdentifier, &tx.Amount, &tx.Note,
		&status, &failureReason, &executedAt, &createdAt)
	if err != nil {
		return models.Transaction{}, err
	}

	tx.Status = models.Status(status)
	tx.CreatedAt = time.Unix(0, createdAt).UTC()
	if failureReason.Valid {
		tx.FailureReason = &failureReason.String
	}
	if executedAt.Valid {
		at := time.Unix(0, executedAt.Int64).UTC()
		tx.ExecutedAt = &at
	}
	return tx, nil
}

// nullable columns are always bound explicitly, never omitted
func executedAtArg(tx models.Transaction) sql.NullInt64 {
	if tx.ExecutedAt == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: tx.ExecutedAt.UnixNano(), Valid: true}
}

func failureReasonArg(tx models.Transaction) sql.NullString {
	if tx.FailureReason == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *tx.FailureReason, Valid: true}
}

func (s *LocalStore) Insert(ctx context.Context, tx models.Transaction) error {
	const query = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.OwnerID, tx.RecipientIdentifier, tx.Amount.String(), tx.Note,
		string(tx.Status), failureReasonArg(tx), executedAtArg(tx), tx.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, id string) (models.Transaction, error) {
	return get(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q queryer, id string) (models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, models.ErrNotFound
	}
	return tx, err
}

func (s *LocalStore) List(ctx context.Context, ownerID string) ([]models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE owner_id = ?
	ORDER BY created_at DESC, id DESC`

	return s.query(ctx, query, ownerID)
}

func (s *LocalStore) query(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	return result, rows.Err()
}

// CompareAndSetStatus writes the status fields of next only when the stored
// status is still one of from. The guard and the write are one UPDATE, so a
// racing writer either wins or observes the new status.
func (s *LocalStore) CompareAndSetStatus(ctx context.Context, id string, from []models.Status, next models.Transaction) (models.Transaction, error) {
	if len(from) == 0 {
		return models.Transaction{}, fmt.Errorf("%w: no eligible statuses given", models.ErrNotEligible)
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Transaction{}, err
	}
	defer dbTx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	query := `UPDATE transactions SET status = ?, failure_reason = ?, executed_at = ?
	WHERE id = ? AND status IN (` + placeholders + `)`

	args := []any{string(next.Status), failureReasonArg(next), executedAtArg(next), id}
	for _, status := range from {
		args = append(args, string(status))
	}

	res, err := dbTx.ExecContext(ctx, query, args...)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("update transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Transaction{}, err
	}

	current, err := get(ctx, dbTx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if n == 0 {
		return current, fmt.Errorf("%w: transaction %s is %s", models.ErrNotEligible, id, current.Status)
	}
	if err := dbTx.Commit(); err != nil {
		return models.Transaction{}, err
	}
	return current, nil
}

func (s *LocalStore) Wipe(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE owner_id = ?`, ownerID)
	return err
}

var _ interfaces.LocalStore = (*LocalStore)(nil)
