package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"fmt"
	"sort"
	"sync" // standard Go package for concurrency primitives like Mutex

	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// Row-level exclusivity is emulated with one mutex per transaction id and per
// account, taken for the lifetime of a RunInTx call.
type MemoryLedgerStore struct {
	mu           sync.Mutex                    // protects the maps and slice below
	accounts     map[string]models.Account     // keyed by owner id
	emails       map[string]string             // normalized email -> owner id
	entries      []models.LedgerEntry          // append-only ledger
	transactions map[string]models.Transaction // keyed by transaction id

	rowLocks map[string]*sync.Mutex // stores the *sync.Mutex for each locked row
	mapMu    sync.Mutex             // protects the rowLocks map itself
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts:     make(map[string]models.Account),
		emails:       make(map[string]string),
		entries:      make([]models.LedgerEntry, 0),
		transactions: make(map[string]models.Transaction),
		rowLocks:     make(map[string]*sync.Mutex),
	}
}

func (m *MemoryLedgerStore) rowLock(key string) *sync.Mutex {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()

	if _, exists := m.rowLocks[key]; !exists {
		m.rowLocks[key] = &sync.Mutex{}
	}
	return m.rowLocks[key]
}

// SeedAccount creates or replaces an account.
func (m *MemoryLedgerStore) SeedAccount(ctx context.Context, account models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account.Email = models.NormalizeRecipient(account.Email)
	if owner, taken := m.emails[account.Email]; taken && owner != account.OwnerID {
		return fmt.Errorf("email %s already belongs to %s", account.Email, owner)
	}
	m.accounts[account.OwnerID] = account
	m.emails[account.Email] = account.OwnerID
	return nil
}

func (m *MemoryLedgerStore) CreateTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.transactions[tx.ID]; exists {
		return existing, false, nil
	}
	m.transactions[tx.ID] = tx
	return tx, true, nil
}

func (m *MemoryLedgerStore) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, exists := m.transactions[id]
	if !exists {
		return models.Transaction{}, models.ErrNotFound
	}
	return tx, nil
}

// ListTransactions returns the owner's records newest first.
func (m *MemoryLedgerStore) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error) {
	m.mu.Lock()
	var result []models.Transaction
	for _, tx := range m.transactions {
		if tx.OwnerID == ownerID {
			result = append(result, tx)
		}
	}
	m.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if offset >= len(result) {
		return []models.Transaction{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, ownerID string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, exists := m.accounts[ownerID]
	if !exists {
		return models.Account{}, models.ErrAccountNotFound
	}
	return account, nil
}

func (m *MemoryLedgerStore) FindAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByEmail(email)
}

func (m *MemoryLedgerStore) findByEmail(email string) (models.Account, error) {
	owner, exists := m.emails[models.NormalizeRecipient(email)]
	if !exists {
		return models.Account{}, models.ErrAccountNotFound
	}
	return m.accounts[owner], nil
}

func (m *MemoryLedgerStore) GetEntriesByAccount(ctx context.Context, ownerID string) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == ownerID {
			result = append(result, e)
		}
	}
	return result, nil
}

// RunInTx buffers every write of fn and applies them together on success.
// Row locks taken through the LedgerTx are released when fn returns.
func (m *MemoryLedgerStore) RunInTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:        m,
		held:         make(map[string]*sync.Mutex),
		balances:     make(map[string]decimal.Decimal),
		transactions: make(map[string]models.Transaction),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for owner, balance := range tx.balances {
		account := m.accounts[owner]
		account.Balance = balance
		m.accounts[owner] = account
	}
	m.entries = append(m.entries, tx.entries...)
	for id, record := range tx.transactions {
		m.transactions[id] = record
	}
	return nil
}

type memoryTx struct {
	store *MemoryLedgerStore
	held  map[string]*sync.Mutex
	order []string

	balances     map[string]decimal.Decimal
	entries      []models.LedgerEntry
	transactions map[string]models.Transaction
}

func (t *memoryTx) lock(key string) {
	if _, ok := t.held[key]; ok {
		return
	}
	mu := t.store.rowLock(key)
	mu.Lock()
	t.held[key] = mu
	t.order = append(t.order, key)
}

func (t *memoryTx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.held[t.order[i]].Unlock()
	}
}

func (t *memoryTx) LockTransaction(id string) (models.Transaction, error) {
	t.lock("tx:" + id)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	record, exists := t.store.transactions[id]
	if !exists {
		return models.Transaction{}, models.ErrNotFound
	}
	return record, nil
}

// LockAccounts locks in owner id order to avoid deadlocks
func (t *memoryTx) LockAccounts(ownerIDs ...string) (map[string]models.Account, error) {
	sorted := append([]string(nil), ownerIDs...)
	sort.Strings(sorted)
	for _, owner := range sorted {
		t.lock("account:" + owner)
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	result := make(map[string]models.Account, len(sorted))
	for _, owner := range sorted {
		if account, exists := t.store.accounts[owner]; exists {
			result[owner] = account
		}
	}
	return result, nil
}

func (t *memoryTx) FindAccountByEmail(email string) (models.Account, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.findByEmail(email)
}

func (t *memoryTx) UpdateBalance(ownerID string, balance decimal.Decimal) error {
	if _, ok := t.held["account:"+ownerID]; !ok {
		return fmt.Errorf("account %s is not locked by this transaction", ownerID)
	}
	t.balances[ownerID] = balance
	return nil
}

func (t *memoryTx) SaveEntry(entry models.LedgerEntry) error {
	t.entries = append(t.entries, entry)
	return nil
}

func (t *memoryTx) UpdateTransaction(record models.Transaction) error {
	if _, ok := t.held["tx:"+record.ID]; !ok {
		return fmt.Errorf("transaction %s is not locked by this transaction", record.ID)
	}
	t.transactions[record.ID] = record
	return nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
