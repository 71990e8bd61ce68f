package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces"
	"github.com/sheikh-saqib/offline-payments-sync/internal/logger"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/sheikh-saqib/offline-payments-sync/internal/reconcile"
	"github.com/shopspring/decimal"
)

const DefaultHistoryPageSize = models.MaxPageSize

// Coordinator drives transfer intents from the local store to the transfer
// service. Operations on the same id are serialized; different ids run
// concurrently.
type Coordinator struct {
	store        interfaces.LocalStore   // durable copy of the owner's intents
	api          interfaces.TransferAPI  // remote transfer executor
	connectivity interfaces.Connectivity // decides whether a remote call is attempted
	ownerID      string

	requestTimeout time.Duration // bound on one remote round trip, 0 leaves it to the transport
	pageSize       int
	now            func() time.Time
	log            *log.Logger

	muMap map[string]*idLock // one entry per id with an operation in flight
	mapMu sync.Mutex         // protects muMap
}

type idLock struct {
	mu   sync.Mutex
	refs int // holders plus waiters, guarded by mapMu
}

type Option func(*Coordinator)

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.requestTimeout = d }
}

// WithHistoryPageSize sets how many server records are fetched per request
// while building the history. Values above models.MaxPageSize are clamped
// because the server never returns larger pages.
func WithHistoryPageSize(n int) Option {
	return func(c *Coordinator) {
		switch {
		case n > models.MaxPageSize:
			c.pageSize = models.MaxPageSize
		case n > 0:
			c.pageSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func New(store interfaces.LocalStore, api interfaces.TransferAPI, connectivity interfaces.Connectivity, ownerID string, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		api:          api,
		connectivity: connectivity,
		ownerID:      ownerID,
		pageSize:     DefaultHistoryPageSize,
		now:          time.Now,
		log:          logger.Discard(),
		muMap:        make(map[string]*idLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lock serializes operations on id. The entry is dropped once the last
// holder or waiter releases it.
func (c *Coordinator) lock(id string) (unlock func()) {
	c.mapMu.Lock()
	l, exists := c.muMap[id]
	if !exists {
		l = &idLock{}
		c.muMap[id] = l
	}
	l.refs++
	c.mapMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		c.mapMu.Lock()
		defer c.mapMu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(c.muMap, id)
		}
	}
}

// Create records a new pending intent locally and makes one attempt to sync
// it. Only malformed input or a local storage failure is returned as an
// error; an unreachable server leaves the intent pending.
func (c *Coordinator) Create(ctx context.Context, recipientIdentifier string, amount decimal.Decimal, note string) (models.Transaction, error) {
	recipient := models.NormalizeRecipient(recipientIdentifier)
	note = strings.TrimSpace(note)
	if err := models.ValidateTransferInput(recipient, amount, note); err != nil {
		return models.Transaction{}, err
	}

	tx := models.Transaction{
		ID:                  uuid.New().String(),
		OwnerID:             c.ownerID,
		RecipientIdentifier: recipient,
		Amount:              amount,
		Note:                note,
		Status:              models.StatusPending,
		CreatedAt:           c.now().UTC(),
	}

	defer c.lock(tx.ID)()

	if err := c.store.Insert(ctx, tx); err != nil {
		return models.Transaction{}, fmt.Errorf("store transaction: %w", err)
	}
	c.log.Info("transaction created", "id", tx.ID, "recipient", tx.RecipientIdentifier, "amount", tx.Amount.String())

	synced, err := c.sync(ctx, tx)
	if err != nil {
		c.log.Warn("initial sync did not complete", "id", tx.ID, "error", err)
		return c.latest(ctx, synced), nil
	}
	return synced, nil
}

// Sync submits a pending or failed intent to the transfer service and stores
// the outcome. When the server cannot be reached the unchanged record is
// returned with an error wrapping models.ErrTransport.
func (c *Coordinator) Sync(ctx context.Context, id string) (models.Transaction, error) {
	defer c.lock(id)()

	tx, err := c.load(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := tx.CheckEligible(models.OpSync); err != nil {
		return tx, err
	}
	return c.sync(ctx, tx)
}

// sync must be called with the id's lock held.
func (c *Coordinator) sync(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if !c.connectivity.Online(ctx) {
		return tx, fmt.Errorf("%w: offline", models.ErrTransport)
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	result, err := c.api.Execute(reqCtx, tx.ID)
	if errors.Is(err, models.ErrNotFound) {
		// the server has not seen this id yet
		if _, err = c.api.CreatePending(reqCtx, tx); err == nil {
			result, err = c.api.Execute(reqCtx, tx.ID)
		}
	}

	switch {
	case err == nil:
		c.log.Info("transaction synced", "id", tx.ID, "status", result.Status, "reason", result.Reason())
		return c.record(ctx, tx, result)

	case errors.Is(err, models.ErrRecipientNotFound):
		return c.fail(ctx, tx, models.ReasonRecipientNotFound)

	case errors.Is(err, models.ErrSenderNotFound):
		return c.fail(ctx, tx, models.ReasonSenderNotFound)

	case errors.Is(err, models.ErrNotEligible) && result.ID == tx.ID && result.Status.Terminal():
		// the server already settled this id differently
		c.log.Warn("server refused sync", "id", tx.ID, "server_status", result.Status)
		adopted, recErr := c.record(ctx, tx, result)
		if recErr != nil {
			return tx, recErr
		}
		return adopted, err

	case errors.Is(err, models.ErrTransport):
		c.invalidateConnectivity()
		c.log.Warn("sync left pending", "id", tx.ID, "error", err)
		return tx, err
	}

	c.log.Error("sync rejected", "id", tx.ID, "error", err)
	return tx, err
}

// fail stores a business rejection the server answered without keeping a
// record of its own. The intent stays eligible for another sync.
func (c *Coordinator) fail(ctx context.Context, tx models.Transaction, reason string) (models.Transaction, error) {
	failed := tx
	failed.MarkFailed(reason)
	c.log.Info("transaction failed", "id", tx.ID, "reason", reason)
	return c.record(ctx, tx, failed)
}

// Cancel moves a pending intent to cancelled. The server is told when it can
// be reached, but the local transition does not depend on it. If the server
// has already settled the id, its outcome is adopted and the cancel fails as
// not eligible.
func (c *Coordinator) Cancel(ctx context.Context, id string) (models.Transaction, error) {
	defer c.lock(id)()

	tx, err := c.load(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := tx.CheckEligible(models.OpCancel); err != nil {
		return tx, err
	}

	if c.connectivity.Online(ctx) {
		reqCtx, cancel := c.requestContext(ctx)
		remote, err := c.api.Cancel(reqCtx, id)
		cancel()

		settledElsewhere := errors.Is(err, models.ErrNotEligible) && remote.ID == id &&
			remote.Status.Terminal() && remote.Status != models.StatusCancelled

		switch {
		case err == nil, errors.Is(err, models.ErrNotFound):
		case errors.Is(err, models.ErrNotEligible) && remote.Status == models.StatusCancelled:
		case settledElsewhere:
			c.log.Warn("server refused cancel", "id", id, "server_status", remote.Status)
			adopted, recErr := c.record(ctx, tx, remote)
			if recErr != nil {
				return tx, recErr
			}
			return adopted, err
		default:
			if errors.Is(err, models.ErrTransport) {
				c.invalidateConnectivity()
			}
			c.log.Warn("cancel not propagated", "id", id, "error", err)
		}
	}

	cancelled := tx
	cancelled.MarkCancelled()
	updated, err := c.store.CompareAndSetStatus(ctx, id, models.EligibleStatuses(models.OpCancel), cancelled)
	if err != nil {
		return c.storeFailure(updated, tx, err)
	}
	c.log.Info("transaction cancelled", "id", id)
	return updated, nil
}

// History returns the server's records merged with every record only known
// locally, whatever its status, newest first. If the server cannot be listed
// the local history is returned instead.
func (c *Coordinator) History(ctx context.Context) ([]models.Transaction, error) {
	local, err := c.store.List(ctx, c.ownerID)
	if err != nil {
		return nil, fmt.Errorf("list local transactions: %w", err)
	}

	var remote []models.Transaction
	if c.connectivity.Online(ctx) {
		remote, err = c.listRemote(ctx)
	} else {
		err = fmt.Errorf("%w: offline", models.ErrTransport)
	}
	if err != nil {
		c.log.Warn("history served from local store", "error", err)
		reconcile.SortNewestFirst(local)
		return local, nil
	}

	for _, settled := range reconcile.Outdated(remote, local) {
		c.converge(ctx, settled)
	}
	return reconcile.Merge(remote, local), nil
}

// converge writes a terminal server outcome back over a local pending copy.
func (c *Coordinator) converge(ctx context.Context, settled models.Transaction) {
	defer c.lock(settled.ID)()

	settled.OwnerID = c.ownerID
	if _, err := c.store.CompareAndSetStatus(ctx, settled.ID, []models.Status{models.StatusPending}, settled); err != nil {
		c.log.Debug("local copy not converged", "id", settled.ID, "error", err)
		return
	}
	c.log.Info("local copy converged", "id", settled.ID, "status", settled.Status)
}

func (c *Coordinator) listRemote(ctx context.Context) ([]models.Transaction, error) {
	var all []models.Transaction
	for offset := 0; ; offset += c.pageSize {
		reqCtx, cancel := c.requestContext(ctx)
		page, err := c.api.List(reqCtx, c.pageSize, offset)
		cancel()
		if err != nil {
			return nil, err
		}
		for i := range page {
			page[i].OwnerID = c.ownerID
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			return all, nil
		}
	}
}

// Wipe deletes every local record of the owner.
func (c *Coordinator) Wipe(ctx context.Context) error {
	if err := c.store.Wipe(ctx, c.ownerID); err != nil {
		return fmt.Errorf("wipe local transactions: %w", err)
	}
	c.log.Info("local transactions wiped", "owner_id", c.ownerID)
	return nil
}

func (c *Coordinator) load(ctx context.Context, id string) (models.Transaction, error) {
	tx, err := c.store.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) || (err == nil && tx.OwnerID != c.ownerID) {
		return models.Transaction{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("load transaction %s: %w", id, err)
	}
	return tx, nil
}

// record stores a definitive outcome over the local copy, which must still
// be in a status the outcome may replace.
func (c *Coordinator) record(ctx context.Context, current, outcome models.Transaction) (models.Transaction, error) {
	outcome.OwnerID = current.OwnerID
	updated, err := c.store.CompareAndSetStatus(ctx, current.ID, models.EligibleStatuses(models.OpSync), outcome)
	if err != nil {
		return c.storeFailure(updated, current, err)
	}
	return updated, nil
}

func (c *Coordinator) storeFailure(stored, fallback models.Transaction, err error) (models.Transaction, error) {
	if errors.Is(err, models.ErrNotEligible) || errors.Is(err, models.ErrNotFound) {
		if stored.ID == "" {
			stored = fallback
		}
		return stored, err
	}
	return fallback, fmt.Errorf("update transaction %s: %w", fallback.ID, err)
}

// latest re-reads a record after a failed sync so the caller sees what is
// stored.
func (c *Coordinator) latest(ctx context.Context, tx models.Transaction) models.Transaction {
	stored, err := c.store.Get(ctx, tx.ID)
	if err != nil {
		return tx
	}
	return stored
}

func (c *Coordinator) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func (c *Coordinator) invalidateConnectivity() {
	if inv, ok := c.connectivity.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
}
