package interfaces

import (
	"context"

	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
)

// TransferAPI is the client's view of the remote Transfer Executor. Failures
// without a definitive answer wrap models.ErrTransport. When the server refuses
// an operation as not eligible, its current record is returned with the error.
type TransferAPI interface {
	CreatePending(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	Execute(ctx context.Context, id string) (models.Transaction, error)
	Cancel(ctx context.Context, id string) (models.Transaction, error)
	List(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

// Connectivity reports whether the transfer service is currently reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}
