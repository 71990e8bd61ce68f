package reconcile

import (
	"sort"

	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
)

// Merge builds one history from the server's records and all local records.
// Local records the server does not know are kept in any status. The server
// copy wins whenever both sides know an id. The result is ordered by creation
// time, newest first.
func Merge(remote, local []models.Transaction) []models.Transaction {
	byID := make(map[string]models.Transaction, len(remote)+len(local))
	for _, tx := range local {
		byID[tx.ID] = tx
	}
	for _, tx := range remote {
		if localCopy, ok := byID[tx.ID]; ok && tx.OwnerID == "" {
			tx.OwnerID = localCopy.OwnerID
		}
		byID[tx.ID] = tx
	}

	merged := make([]models.Transaction, 0, len(byID))
	for _, tx := range byID {
		merged = append(merged, tx)
	}
	SortNewestFirst(merged)
	return merged
}

// SortNewestFirst orders by CreatedAt descending, breaking ties by id so the
// order is stable across calls.
func SortNewestFirst(txs []models.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

// Outdated returns the server copies that carry a terminal outcome for a
// record still pending locally. Non-pending local records are ignored.
func Outdated(remote, local []models.Transaction) []models.Transaction {
	pending := make(map[string]bool, len(local))
	for _, tx := range local {
		if tx.Status == models.StatusPending {
			pending[tx.ID] = true
		}
	}

	var result []models.Transaction
	for _, tx := range remote {
		if pending[tx.ID] && tx.Status.Terminal() {
			result = append(result, tx)
		}
	}
	return result
}
