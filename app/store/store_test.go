package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSON_MissingFileIsEmpty(t *testing.T) {
	var v map[string]any
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &v)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestWriteJSON_ReadJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "doc.json")
	type doc struct {
		Name string `json:"name"`
	}
	require.NoError(t, WriteJSON(path, doc{Name: "rule-1"}))

	var got doc
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, "rule-1", got.Name)
}

func TestUpdateEntryStatus_StampsTimestampsOnlyWhenStatusChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	seed := map[string]any{
		"entries": map[string]any{
			"task-1": map[string]any{"status": "queued"},
		},
	}
	require.NoError(t, WriteJSON(path, seed))

	ok, err := UpdateEntryStatus(context.Background(), path, "task-1", "in_progress", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	var raw map[string]map[string]map[string]any
	require.NoError(t, ReadJSON(path, &raw))
	entry := raw["entries"]["task-1"]
	assert.Equal(t, "in_progress", entry["status"])
	assert.Contains(t, entry, "updated_at")
	assert.Contains(t, entry, "status_changed_at")

	firstChange := entry["status_changed_at"]

	ok, err = UpdateEntryStatus(context.Background(), path, "task-1", "in_progress", map[string]any{"note": "still running"})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ReadJSON(path, &raw))
	entry = raw["entries"]["task-1"]
	assert.Equal(t, firstChange, entry["status_changed_at"])
	assert.Equal(t, "still running", entry["note"])
}

func TestUpdateEntryStatus_MissingEntryReturnsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, WriteJSON(path, map[string]any{"entries": map[string]any{}}))

	ok, err := UpdateEntryStatus(context.Background(), path, "nope", "failed", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendHistory_RotatesOldRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	old := HistoryRecord{Timestamp: time.Now().Add(-40 * 24 * time.Hour), RuleID: "r1", Result: "success"}
	seed, err := json.Marshal([]HistoryRecord{old})
	require.NoError(t, err)
	require.NoError(t, writeRaw(path, seed))

	fresh := HistoryRecord{Timestamp: time.Now(), RuleID: "r2", Result: "success"}
	require.NoError(t, AppendHistory(context.Background(), path, fresh))

	var history []HistoryRecord
	require.NoError(t, ReadJSON(path, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "r2", history[0].RuleID)
}

func TestGetHistory_FiltersAndSortsDescending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	now := time.Now()
	records := []HistoryRecord{
		{Timestamp: now.Add(-2 * time.Minute), RuleID: "r1", Result: "success"},
		{Timestamp: now.Add(-1 * time.Minute), RuleID: "r1", Result: "failed"},
		{Timestamp: now, RuleID: "r2", Result: "success"},
	}
	require.NoError(t, WriteJSON(path, records))

	page, err := GetHistory(path, HistoryFilter{RuleID: "r1"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "failed", page.Entries[0].Result)
	assert.Equal(t, 2, page.TotalCount)
}

func writeRaw(path string, data []byte) error {
	return WriteJSON(path, json.RawMessage(data))
}
