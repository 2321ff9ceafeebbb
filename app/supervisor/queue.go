package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/ruleforge/automation-core/app/metrics"
	"github.com/ruleforge/automation-core/app/store"
)

// Queue is the bounded, file-backed task-dispatch queue: every mutation
// goes through a locked read-modify-write against Path, so the
// Supervisor's polling loop and any CLI command issuing Enqueue/Claim
// calls never race each other.
type Queue struct {
	Path     string
	Capacity int
}

type queueDoc struct {
	Tasks map[string]Task `json:"tasks"`
}

// Enqueue adds task to the queue, failing with ErrQueueFull once Capacity
// queued-or-running tasks are already present (0 means unbounded).
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	return store.WithFileLock(ctx, q.Path, func() error {
		doc, err := q.readDoc()
		if err != nil {
			return err
		}

		if q.Capacity > 0 && activeCount(doc.Tasks) >= q.Capacity {
			return ErrQueueFull
		}

		task.Status = "queued"
		task.CreatedAt = time.Now().UTC()
		doc.Tasks[task.ID] = task
		if err := store.WriteJSON(q.Path, doc); err != nil {
			return err
		}
		metrics.QueueDepth.Set(float64(activeCount(doc.Tasks)))
		return nil
	})
}

// ClaimNext atomically marks the oldest queued task as "in_progress" and
// returns it, or ok=false if none are queued.
func (q *Queue) ClaimNext() (Task, bool, error) {
	var claimed Task
	found := false
	err := store.WithFileLock(context.Background(), q.Path, func() error {
		doc, err := q.readDoc()
		if err != nil {
			return err
		}

		var oldestID string
		var oldest time.Time
		for id, t := range doc.Tasks {
			if t.Status != "queued" {
				continue
			}
			if oldestID == "" || t.CreatedAt.Before(oldest) {
				oldestID, oldest = id, t.CreatedAt
			}
		}
		if oldestID == "" {
			return nil
		}

		t := doc.Tasks[oldestID]
		now := time.Now().UTC()
		t.Status = "in_progress"
		t.StartedAt = &now
		doc.Tasks[oldestID] = t
		claimed, found = t, true
		return store.WriteJSON(q.Path, doc)
	})
	return claimed, found, err
}

// Claim atomically transitions every "queued" task (matching agentID, if
// non-empty) to "in_progress", stamping StartedAt identically for the whole
// batch — the mechanism by which parallel workers partition disjoint
// work by agent id rather than racing over a single ClaimNext call.
func (q *Queue) Claim(agentID string) ([]Task, error) {
	var claimed []Task
	err := store.WithFileLock(context.Background(), q.Path, func() error {
		doc, err := q.readDoc()
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for id, t := range doc.Tasks {
			if t.Status != "queued" {
				continue
			}
			if agentID != "" && t.AgentID != agentID {
				continue
			}
			t.Status = "in_progress"
			t.StartedAt = &now
			doc.Tasks[id] = t
			claimed = append(claimed, t)
		}
		if len(claimed) == 0 {
			return nil
		}
		return store.WriteJSON(q.Path, doc)
	})
	return claimed, err
}

// CancelTask removes a still-queued task from the queue. Returns
// ErrAlreadyClaimed if the task has already been claimed or completed.
func (q *Queue) CancelTask(taskID string) error {
	return store.WithFileLock(context.Background(), q.Path, func() error {
		doc, err := q.readDoc()
		if err != nil {
			return err
		}
		t, ok := doc.Tasks[taskID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if t.Status != "queued" {
			return fmt.Errorf("%w: %s", ErrAlreadyClaimed, taskID)
		}
		delete(doc.Tasks, taskID)
		if err := store.WriteJSON(q.Path, doc); err != nil {
			return err
		}
		metrics.QueueDepth.Set(float64(activeCount(doc.Tasks)))
		return nil
	})
}

// UpdateTask replaces a still-queued task's payload/category/tags via
// mutate. Returns ErrAlreadyClaimed once the task has left "queued".
func (q *Queue) UpdateTask(taskID string, mutate func(Task) Task) error {
	return store.WithFileLock(context.Background(), q.Path, func() error {
		doc, err := q.readDoc()
		if err != nil {
			return err
		}
		t, ok := doc.Tasks[taskID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if t.Status != "queued" {
			return fmt.Errorf("%w: %s", ErrAlreadyClaimed, taskID)
		}
		updated := mutate(t)
		updated.ID = t.ID
		doc.Tasks[taskID] = updated
		return store.WriteJSON(q.Path, doc)
	})
}

// MarkInProgress stamps ProcessingStartedAt on a claimed task, recording
// the moment a worker actually begins that specific task rather than the
// moment the whole batch was claimed.
func (q *Queue) MarkInProgress(taskID string) error {
	return store.WithFileLock(context.Background(), q.Path, func() error {
		doc, err := q.readDoc()
		if err != nil {
			return err
		}
		t, ok := doc.Tasks[taskID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		now := time.Now().UTC()
		t.ProcessingStartedAt = &now
		doc.Tasks[taskID] = t
		return store.WriteJSON(q.Path, doc)
	})
}

// MarkCompleted transitions an in_progress task to a terminal status (spec:
// "error" leaves the task in the queue for inspection; successful
// completions are removed entirely via RemoveTask instead).
func (q *Queue) MarkCompleted(taskID string, status string, errMsg string) error {
	return store.WithFileLock(context.Background(), q.Path, func() error {
		doc, err := q.readDoc()
		if err != nil {
			return err
		}
		t, ok := doc.Tasks[taskID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		t.Status = status
		t.Error = errMsg
		doc.Tasks[taskID] = t
		return store.WriteJSON(q.Path, doc)
	})
}

// RemoveTask deletes a task from the queue unconditionally, used once a
// result has been successfully logged — the "removed on success" leg of
// the task status state machine.
func (q *Queue) RemoveTask(taskID string) error {
	return store.WithFileLock(context.Background(), q.Path, func() error {
		doc, err := q.readDoc()
		if err != nil {
			return err
		}
		delete(doc.Tasks, taskID)
		if err := store.WriteJSON(q.Path, doc); err != nil {
			return err
		}
		metrics.QueueDepth.Set(float64(activeCount(doc.Tasks)))
		return nil
	})
}

// Get returns one task by id.
func (q *Queue) Get(taskID string) (Task, bool, error) {
	doc, err := q.readDoc()
	if err != nil {
		return Task{}, false, err
	}
	t, ok := doc.Tasks[taskID]
	return t, ok, nil
}

// List returns every task currently tracked by the queue.
func (q *Queue) List() (map[string]Task, error) {
	doc, err := q.readDoc()
	if err != nil {
		return nil, err
	}
	return doc.Tasks, nil
}

func (q *Queue) readDoc() (queueDoc, error) {
	var doc queueDoc
	if err := store.ReadJSON(q.Path, &doc); err != nil {
		return queueDoc{}, err
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]Task{}
	}
	return doc, nil
}

func activeCount(tasks map[string]Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == "queued" || t.Status == "in_progress" {
			n++
		}
	}
	return n
}
