package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pending(owner string, createdAt time.Time) models.Transaction {
	return models.Transaction{
		ID:                  uuid.New().String(),
		OwnerID:             owner,
		RecipientIdentifier: "bob@example.com",
		Amount:              decimal.RequireFromString("12.34"),
		Note:                "lunch",
		Status:              models.StatusPending,
		CreatedAt:           createdAt.UTC(),
	}
}

func TestInsertAndGetRoundTripsNullableFields(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	tx := pending("alice", time.Now())

	require.NoError(t, store.Insert(ctx, tx))

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.True(t, tx.Amount.Equal(got.Amount))
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.ExecutedAt)
	assert.Nil(t, got.FailureReason)
	assert.True(t, tx.CreatedAt.Equal(got.CreatedAt))

	_, err = store.Get(ctx, uuid.New().String())
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Error(t, store.Insert(ctx, tx), "duplicate id must be rejected")
}

func TestCompareAndSetStatus(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	tx := pending("alice", time.Now())
	require.NoError(t, store.Insert(ctx, tx))

	next := tx
	next.MarkSucceeded(time.Now())
	got, err := store.CompareAndSetStatus(ctx, tx.ID, models.EligibleStatuses(models.OpSync), next)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
	require.NotNil(t, got.ExecutedAt)

	cancelled := tx
	cancelled.MarkCancelled()
	got, err = store.CompareAndSetStatus(ctx, tx.ID, models.EligibleStatuses(models.OpCancel), cancelled)
	assert.ErrorIs(t, err, models.ErrNotEligible)
	assert.Equal(t, models.StatusSuccess, got.Status, "loser observes the winning status")

	_, err = store.CompareAndSetStatus(ctx, uuid.New().String(), models.EligibleStatuses(models.OpCancel), cancelled)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompareAndSetStatusRaceHasOneWinner(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	tx := pending("alice", time.Now())
	require.NoError(t, store.Insert(ctx, tx))

	cancelled := tx
	cancelled.MarkCancelled()
	failed := tx
	failed.MarkFailed(models.ReasonInsufficientBalance)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, next := range []models.Transaction{cancelled, failed, cancelled, failed} {
		wg.Add(1)
		go func(next models.Transaction) {
			defer wg.Done()
			if _, err := store.CompareAndSetStatus(ctx, tx.ID, []models.Status{models.StatusPending}, next); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, models.ErrNotEligible)
			}
		}(next)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestListNewestFirstPerOwner(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := pending("alice", base)
	newer := pending("alice", base.Add(time.Hour))
	other := pending("bob", base.Add(2*time.Hour))
	for _, tx := range []models.Transaction{older, newer, other} {
		require.NoError(t, store.Insert(ctx, tx))
	}

	done := newer
	done.MarkFailed(models.ReasonRecipientNotFound)
	_, err := store.CompareAndSetStatus(ctx, newer.ID, []models.Status{models.StatusPending}, done)
	require.NoError(t, err)

	all, err := store.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, models.ReasonRecipientNotFound, all[0].Reason())
	assert.Equal(t, older.ID, all[1].ID)
	assert.Equal(t, models.StatusPending, all[1].Status)
}

func TestWipeOnlyTouchesOwner(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, pending("alice", time.Now())))
	require.NoError(t, store.Insert(ctx, pending("bob", time.Now())))

	require.NoError(t, store.Wipe(ctx, "alice"))

	alice, err := store.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice)
	bob, err := store.List(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	tx := pending("alice", time.Now())
	require.NoError(t, store.Insert(ctx, tx))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "lunch", got.Note)
}
