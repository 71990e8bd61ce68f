package interfaces

import (
	"context"

	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
)

// LocalStore is the client's durable copy of its transaction intents.
type LocalStore interface {
	Insert(ctx context.Context, tx models.Transaction) error
	Get(ctx context.Context, id string) (models.Transaction, error)
	List(ctx context.Context, ownerID string) ([]models.Transaction, error)

	// CompareAndSetStatus atomically replaces the status fields of id with
	// those of next, provided the stored status is one of from. It returns
	// models.ErrNotFound or an error wrapping models.ErrNotEligible otherwise.
	CompareAndSetStatus(ctx context.Context, id string, from []models.Status, next models.Transaction) (models.Transaction, error)

	// Wipe removes every record of the owner.
	Wipe(ctx context.Context, ownerID string) error
}
