package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models/events"
	"github.com/sheikh-saqib/offline-payments-sync/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TransactionCompleted
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(events.TransactionCompleted))
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	store     *memory.MemoryLedgerStore
	ledger    *Ledger
	publisher *recordingPublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewMemoryLedgerStore()
	require.NoError(t, store.SeedAccount(ctx, models.Account{OwnerID: "alice", Email: "alice@example.com", Balance: decimal.NewFromInt(1000), Currency: "USD"}))
	require.NoError(t, store.SeedAccount(ctx, models.Account{OwnerID: "bob", Email: "bob@example.com", Balance: decimal.NewFromInt(50), Currency: "USD"}))
	require.NoError(t, store.SeedAccount(ctx, models.Account{OwnerID: "carol", Email: "carol@example.com", Balance: decimal.NewFromInt(10), Currency: "EUR"}))

	publisher := &recordingPublisher{}
	return fixture{
		store:     store,
		ledger:    NewLedger(store, WithPublisher(publisher, events.TopicTransactionCompleted)),
		publisher: publisher,
	}
}

func (f fixture) balance(t *testing.T, owner string) decimal.Decimal {
	t.Helper()
	account, err := f.ledger.GetBalance(context.Background(), owner)
	require.NoError(t, err)
	return account.Balance
}

func (f fixture) create(t *testing.T, owner, recipient string, amount int64) models.Transaction {
	t.Helper()
	tx, created, err := f.ledger.CreatePending(context.Background(), owner, CreateTransferInput{
		ID:                  uuid.New().String(),
		RecipientIdentifier: recipient,
		Amount:              decimal.NewFromInt(amount),
		Note:                "rent",
	})
	require.NoError(t, err)
	require.True(t, created)
	return tx
}

func TestCreatePendingHasNoBalanceEffect(t *testing.T) {
	f := newFixture(t)

	tx := f.create(t, "alice", "bob@example.com", 100)

	assert.Equal(t, models.StatusPending, tx.Status)
	assert.Nil(t, tx.ExecutedAt)
	assert.Nil(t, tx.FailureReason)
	assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(1000)))
	assert.True(t, f.balance(t, "bob").Equal(decimal.NewFromInt(50)))
}

func TestCreatePendingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      CreateTransferInput
		wantErr error
	}{
		{"zero amount", CreateTransferInput{RecipientIdentifier: "bob@example.com", Amount: decimal.Zero}, models.ErrValidation},
		{"negative amount", CreateTransferInput{RecipientIdentifier: "bob@example.com", Amount: decimal.NewFromInt(-5)}, models.ErrValidation},
		{"empty recipient", CreateTransferInput{RecipientIdentifier: "  ", Amount: decimal.NewFromInt(5)}, models.ErrValidation},
		{"malformed recipient", CreateTransferInput{RecipientIdentifier: "bob", Amount: decimal.NewFromInt(5)}, models.ErrValidation},
		{"bad id", CreateTransferInput{ID: "not-a-uuid", RecipientIdentifier: "bob@example.com", Amount: decimal.NewFromInt(5)}, models.ErrValidation},
		{"unknown recipient", CreateTransferInput{RecipientIdentifier: "nobody@example.com", Amount: decimal.NewFromInt(5)}, models.ErrRecipientNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.ledger.CreatePending(ctx, "alice", tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreatePendingUnknownSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New().String()

	_, _, err := f.ledger.CreatePending(ctx, "dave", CreateTransferInput{ID: id, RecipientIdentifier: "bob@example.com", Amount: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSenderNotFound)
	assert.NotErrorIs(t, err, models.ErrValidation)

	_, err = f.store.GetTransaction(ctx, id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreatePendingIsIdempotentPerID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateTransferInput{ID: uuid.New().String(), RecipientIdentifier: "bob@example.com", Amount: decimal.NewFromInt(10)}

	first, created, err := f.ledger.CreatePending(ctx, "alice", in)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.ledger.CreatePending(ctx, "alice", in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	_, _, err = f.ledger.CreatePending(ctx, "bob", CreateTransferInput{ID: in.ID, RecipientIdentifier: "alice@example.com", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "alice", "bob@example.com", 100)

	got, err := f.ledger.Execute(context.Background(), "alice", tx.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, got.Status)
	require.NotNil(t, got.ExecutedAt)
	assert.Nil(t, got.FailureReason)
	assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(900)))
	assert.True(t, f.balance(t, "bob").Equal(decimal.NewFromInt(150)))

	require.Equal(t, 1, f.publisher.count())
	assert.Equal(t, tx.ID, f.publisher.events[0].TransactionID)
	assert.Equal(t, "bob", f.publisher.events[0].ToAccount)

	entries, err := f.ledger.GetLedgerEntries(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(-100)))
}

func TestExecuteConservesMoney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.balance(t, "alice").Add(f.balance(t, "bob"))

	for _, amount := range []int64{1, 20, 300} {
		tx := f.create(t, "alice", "bob@example.com", amount)
		_, err := f.ledger.Execute(ctx, "alice", tx.ID)
		require.NoError(t, err)
	}

	after := f.balance(t, "alice").Add(f.balance(t, "bob"))
	assert.True(t, before.Equal(after), "before %s after %s", before, after)

	aliceEntries, err := f.ledger.GetLedgerEntries(ctx, "alice")
	require.NoError(t, err)
	bobEntries, err := f.ledger.GetLedgerEntries(ctx, "bob")
	require.NoError(t, err)

	sum := decimal.Zero
	for _, e := range append(aliceEntries, bobEntries...) {
		sum = sum.Add(e.Amount)
	}
	assert.True(t, sum.IsZero())
}

func TestExecuteInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "alice", "bob@example.com", 999999)

	got, err := f.ledger.Execute(context.Background(), "alice", tx.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ReasonInsufficientBalance, got.Reason())
	assert.Nil(t, got.ExecutedAt)
	assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(1000)))
	assert.True(t, f.balance(t, "bob").Equal(decimal.NewFromInt(50)))
	assert.Zero(t, f.publisher.count())
}

func TestExecuteRecipientGoneAtExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Record stored directly, as if the recipient was resolvable at creation.
	tx := models.Transaction{
		ID:                  uuid.New().String(),
		OwnerID:             "alice",
		RecipientIdentifier: "ghost@example.com",
		Amount:              decimal.NewFromInt(10),
		Status:              models.StatusPending,
		CreatedAt:           time.Now().UTC(),
	}
	_, _, err := f.store.CreateTransaction(ctx, tx)
	require.NoError(t, err)

	got, err := f.ledger.Execute(ctx, "alice", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ReasonRecipientNotFound, got.Reason())
	assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(1000)))
}

func TestExecuteCurrencyMismatchFails(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, "alice", "carol@example.com", 5)

	got, err := f.ledger.Execute(context.Background(), "alice", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ReasonCurrencyMismatch, got.Reason())
}

func TestExecuteSelfTransferFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, "alice", "Alice@Example.com", 5)
	assert.Equal(t, models.StatusPending, tx.Status)

	got, err := f.ledger.Execute(ctx, "alice", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ReasonSelfTransfer, got.Reason())
	assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(1000)))
	assert.Zero(t, f.publisher.count())

	entries, err := f.ledger.GetLedgerEntries(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteRetryOfFailedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, "bob", "alice@example.com", 80)

	got, err := f.ledger.Execute(ctx, "bob", tx.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)

	// alice tops bob up, then bob retries
	topUp := f.create(t, "alice", "bob@example.com", 100)
	_, err = f.ledger.Execute(ctx, "alice", topUp.ID)
	require.NoError(t, err)

	got, err = f.ledger.Execute(ctx, "bob", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Nil(t, got.FailureReason)
	assert.True(t, f.balance(t, "bob").Equal(decimal.NewFromInt(70)))
}

func TestExecuteTwiceMutatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, "alice", "bob@example.com", 100)

	first, err := f.ledger.Execute(ctx, "alice", tx.ID)
	require.NoError(t, err)
	second, err := f.ledger.Execute(ctx, "alice", tx.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ExecutedAt, second.ExecutedAt)
	assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(900)))
	assert.Equal(t, 1, f.publisher.count())
}

func TestConcurrentExecuteSameIDMutatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, "alice", "bob@example.com", 100)

	const attempts = 16
	results := make([]models.Transaction, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := f.ledger.Execute(ctx, "alice", tx.ID)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, models.StatusSuccess, got.Status)
	}
	assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(900)))
	assert.True(t, f.balance(t, "bob").Equal(decimal.NewFromInt(150)))
	assert.Equal(t, 1, f.publisher.count())
}

func TestConcurrentTransfersSameAccountNoLostUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const transfers = 20
	ids := make([]string, transfers)
	for i := range ids {
		ids[i] = f.create(t, "alice", "bob@example.com", 10).ID
	}
	// bob sends back concurrently so both rows are contended in both directions
	back := make([]string, transfers)
	for i := range back {
		back[i] = f.create(t, "bob", "alice@example.com", 1).ID
	}

	var wg sync.WaitGroup
	for i := 0; i < transfers; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_, err := f.ledger.Execute(ctx, "alice", id)
			assert.NoError(t, err)
		}(ids[i])
		go func(id string) {
			defer wg.Done()
			_, err := f.ledger.Execute(ctx, "bob", id)
			assert.NoError(t, err)
		}(back[i])
	}
	wg.Wait()

	assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(1000-200+20)))
	assert.True(t, f.balance(t, "bob").Equal(decimal.NewFromInt(50+200-20)))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("pending transfer", func(t *testing.T) {
		tx := f.create(t, "alice", "bob@example.com", 100)

		got, err := f.ledger.Cancel(ctx, "alice", tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)
		assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(1000)))

		_, err = f.ledger.Cancel(ctx, "alice", tx.ID)
		assert.ErrorIs(t, err, models.ErrNotEligible)

		got, err = f.ledger.Execute(ctx, "alice", tx.ID)
		assert.ErrorIs(t, err, models.ErrNotEligible)
		assert.ErrorIs(t, err, models.ErrValidation)
		assert.Equal(t, models.StatusCancelled, got.Status)
		assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(1000)))
	})

	t.Run("successful transfer", func(t *testing.T) {
		tx := f.create(t, "alice", "bob@example.com", 100)
		_, err := f.ledger.Execute(ctx, "alice", tx.ID)
		require.NoError(t, err)

		got, err := f.ledger.Cancel(ctx, "alice", tx.ID)
		assert.ErrorIs(t, err, models.ErrNotEligible)
		assert.Equal(t, models.StatusSuccess, got.Status)
		assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(900)))
	})
}

func TestOtherOwnersRecordsAreNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, "alice", "bob@example.com", 100)

	_, err := f.ledger.Execute(ctx, "bob", tx.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.ledger.Cancel(ctx, "bob", tx.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.ledger.Execute(ctx, "alice", uuid.New().String())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListNewestFirstWithPaging(t *testing.T) {
	store := memory.NewMemoryLedgerStore()
	ctx := context.Background()
	require.NoError(t, store.SeedAccount(ctx, models.Account{OwnerID: "alice", Email: "alice@example.com", Balance: decimal.NewFromInt(1000), Currency: "USD"}))
	require.NoError(t, store.SeedAccount(ctx, models.Account{OwnerID: "bob", Email: "bob@example.com", Balance: decimal.Zero, Currency: "USD"}))

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLedger(store, WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))

	var ids []string
	for i := 0; i < 5; i++ {
		tx, _, err := l.CreatePending(ctx, "alice", CreateTransferInput{RecipientIdentifier: "bob@example.com", Amount: decimal.NewFromInt(1)})
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}

	page, err := l.List(ctx, "alice", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	page, err = l.List(ctx, "alice", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	page, err = l.List(ctx, "bob", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestPublishFailureDoesNotUndoTransfer(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	tx := f.create(t, "alice", "bob@example.com", 100)

	got, err := f.ledger.Execute(context.Background(), "alice", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.True(t, f.balance(t, "alice").Equal(decimal.NewFromInt(900)))
}
