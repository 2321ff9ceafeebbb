package supervisor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueAndClaimInFIFOOrder(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json")}
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{ID: "t1", Payload: map[string]any{}}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "t2", Payload: map[string]any{}}))

	first, ok, err := q.ClaimNext()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t1", first.ID)
	assert.Equal(t, "in_progress", first.Status)

	second, ok, err := q.ClaimNext()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t2", second.ID)
}

func TestQueue_ClaimNextReturnsFalseWhenEmpty(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json")}
	_, ok, err := q.ClaimNext()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_EnqueueRejectsOverCapacity(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json"), Capacity: 1}
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{ID: "t1", Payload: map[string]any{}}))
	err := q.Enqueue(ctx, Task{ID: "t2", Payload: map[string]any{}})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueue_MarkCompletedUpdatesStatus(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json")}
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{ID: "t1", Payload: map[string]any{}}))
	_, _, err := q.ClaimNext()
	require.NoError(t, err)

	require.NoError(t, q.MarkCompleted("t1", "completed", ""))

	task, ok, err := q.Get("t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "completed", task.Status)
}

func TestQueue_MarkCompletedUnknownTaskFails(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json")}
	err := q.MarkCompleted("missing", "completed", "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestQueue_EnqueueBatchSplitsAcrossBatchIDs(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json")}
	ctx := context.Background()

	payloads := make([]map[string]any, 5)
	for i := range payloads {
		payloads[i] = map[string]any{"n": i}
	}

	batchIDs, err := q.EnqueueBatch(ctx, payloads, "scan", []string{"proj-a"}, 2)
	require.NoError(t, err)
	require.Len(t, batchIDs, 3) // chunks of 2: [2,2,1]

	tasks, err := q.List()
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	seen := map[string]int{}
	for _, task := range tasks {
		assert.Equal(t, "scan", task.Category)
		assert.Equal(t, []string{"proj-a"}, task.ProjectTags)
		assert.Contains(t, batchIDs, task.BatchID)
		seen[task.BatchID]++
	}
	assert.Equal(t, 2, seen[batchIDs[0]])
	assert.Equal(t, 2, seen[batchIDs[1]])
	assert.Equal(t, 1, seen[batchIDs[2]])
}

func TestQueue_ClaimByAgentOnlyClaimsMatchingTasks(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json")}
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{ID: "t1", AgentID: "a1", Payload: map[string]any{}}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "t2", AgentID: "a2", Payload: map[string]any{}}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "t3", AgentID: "a1", Payload: map[string]any{}}))

	claimed, err := q.Claim("a1")
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, task := range claimed {
		assert.Equal(t, "a1", task.AgentID)
		assert.Equal(t, "in_progress", task.Status)
	}

	other, ok, err := q.Get("t2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "queued", other.Status)
}

func TestQueue_CancelTaskRemovesOnlyQueuedTasks(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json")}
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{ID: "t1", Payload: map[string]any{}}))

	require.NoError(t, q.CancelTask("t1"))
	_, ok, err := q.Get("t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, q.Enqueue(ctx, Task{ID: "t2", Payload: map[string]any{}}))
	_, _, err = q.ClaimNext()
	require.NoError(t, err)
	assert.ErrorIs(t, q.CancelTask("t2"), ErrAlreadyClaimed)
}

func TestQueue_UpdateTaskRejectsOnceClaimed(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json")}
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{ID: "t1", Category: "old", Payload: map[string]any{}}))

	require.NoError(t, q.UpdateTask("t1", func(t Task) Task {
		t.Category = "new"
		return t
	}))
	task, _, err := q.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "new", task.Category)

	_, _, err = q.ClaimNext()
	require.NoError(t, err)
	assert.ErrorIs(t, q.UpdateTask("t1", func(t Task) Task { return t }), ErrAlreadyClaimed)
}

func TestQueue_EnqueueBatchDefaultsBatchSizeWhenNonPositive(t *testing.T) {
	q := &Queue{Path: filepath.Join(t.TempDir(), "queue.json")}
	ctx := context.Background()

	payloads := []map[string]any{{"n": 0}, {"n": 1}}
	batchIDs, err := q.EnqueueBatch(ctx, payloads, "scan", nil, 0)
	require.NoError(t, err)
	require.Len(t, batchIDs, 1)
}
