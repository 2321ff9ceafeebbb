package rules

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleforge/automation-core/app/store"
)

func TestRetryFailedEntries_RequeuesWithBackoff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	writeJSON(t, path, map[string]any{
		"entries": map[string]any{
			"task-1": map[string]any{"status": "failed", "error": "boom", "retry_count": 0},
		},
	})

	e, _ := newTestEngine(t, newFakeInvoker())
	result, err := e.RetryFailedEntries(context.Background(), path, 3, 5)
	require.NoError(t, err)
	assert.Contains(t, result.Retried, "task-1")

	var doc entriesDoc
	require.NoError(t, store.ReadJSON(path, &doc))
	entry := doc.Entries["task-1"]
	assert.Equal(t, "pending", entry["status"])
	assert.Equal(t, float64(1), entry["retry_count"])
	assert.Equal(t, "boom", entry["previous_error"])
	assert.NotContains(t, entry, "error")
	assert.Contains(t, entry, "next_retry")
}

func TestRetryFailedEntries_PromotesToPermanentlyFailedAtLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	writeJSON(t, path, map[string]any{
		"entries": map[string]any{
			"task-1": map[string]any{"status": "failed", "retry_count": 3},
		},
	})

	e, _ := newTestEngine(t, newFakeInvoker())
	result, err := e.RetryFailedEntries(context.Background(), path, 3, 5)
	require.NoError(t, err)
	assert.Contains(t, result.PermanentlyFailed, "task-1")

	var doc entriesDoc
	require.NoError(t, store.ReadJSON(path, &doc))
	assert.Equal(t, "permanently_failed", doc.Entries["task-1"]["status"])
}

func TestRetryFailedEntries_SkipsEntriesStillCoolingDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	future := time.Now().Add(1 * time.Hour).Format(time.RFC3339Nano)
	writeJSON(t, path, map[string]any{
		"entries": map[string]any{
			"task-1": map[string]any{"status": "failed", "retry_count": 0, "next_retry": future},
		},
	})

	e, _ := newTestEngine(t, newFakeInvoker())
	result, err := e.RetryFailedEntries(context.Background(), path, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, result.StillCoolingDown)
	assert.Empty(t, result.Retried)
}
