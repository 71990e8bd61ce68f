package reconcile

import (
	"testing"
	"time"

	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func tx(id string, status models.Status, minutes int) models.Transaction {
	return models.Transaction{ID: id, OwnerID: "alice", Status: status, CreatedAt: base.Add(time.Duration(minutes) * time.Minute)}
}

func ids(txs []models.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}

func TestMergeServerAndLocalPending(t *testing.T) {
	remote := []models.Transaction{
		tx("a", models.StatusSuccess, 10),
		tx("b", models.StatusFailed, 20),
	}
	local := []models.Transaction{
		tx("c", models.StatusPending, 30),
	}

	merged := Merge(remote, local)

	assert.Equal(t, []string{"c", "b", "a"}, ids(merged))
}

func TestMergePrefersServerCopy(t *testing.T) {
	remoteCopy := tx("a", models.StatusSuccess, 10)
	remoteCopy.OwnerID = ""
	localCopy := tx("a", models.StatusPending, 10)

	merged := Merge([]models.Transaction{remoteCopy}, []models.Transaction{localCopy})

	require.Len(t, merged, 1)
	assert.Equal(t, models.StatusSuccess, merged[0].Status)
	assert.Equal(t, "alice", merged[0].OwnerID)
}

func TestMergeKeepsLocalOnlyRecordsInAnyStatus(t *testing.T) {
	remote := []models.Transaction{
		tx("a", models.StatusSuccess, 10),
	}
	local := []models.Transaction{
		tx("a", models.StatusPending, 10),
		tx("f", models.StatusFailed, 20),
		tx("x", models.StatusCancelled, 30),
	}

	merged := Merge(remote, local)

	require.Equal(t, []string{"x", "f", "a"}, ids(merged))
	assert.Equal(t, models.StatusCancelled, merged[0].Status)
	assert.Equal(t, models.StatusFailed, merged[1].Status)
	assert.Equal(t, models.StatusSuccess, merged[2].Status)
}

func TestMergeEmptyInputs(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))
	assert.Equal(t, []string{"x"}, ids(Merge(nil, []models.Transaction{tx("x", models.StatusPending, 0)})))
}

func TestMergeTieBreakIsDeterministic(t *testing.T) {
	merged := Merge([]models.Transaction{tx("a", models.StatusSuccess, 5), tx("b", models.StatusSuccess, 5)}, nil)
	assert.Equal(t, []string{"b", "a"}, ids(merged))
}

func TestOutdated(t *testing.T) {
	remote := []models.Transaction{
		tx("a", models.StatusSuccess, 1),
		tx("b", models.StatusPending, 2),
		tx("c", models.StatusCancelled, 3),
	}
	local := []models.Transaction{
		tx("a", models.StatusPending, 1),
		tx("b", models.StatusPending, 2),
		tx("c", models.StatusFailed, 3),
	}

	assert.Equal(t, []string{"a"}, ids(Outdated(remote, local)))
}
