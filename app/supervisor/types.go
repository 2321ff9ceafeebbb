// Package supervisor implements the Agent Supervisor: a bounded
// task-dispatch queue that spawns external worker processes, caps how
// many run at once, and archives their results — grounded on
// automation_engine.py's agent dispatch helpers plus the teacher's
// app/utils/parallel worker-pool pattern.
package supervisor

import (
	"time"

	"github.com/google/uuid"
)

// Task is one unit of dispatchable work: a prompt (or structured payload)
// for an external worker process, tagged with a category and project
// tags for later archival/reporting.
type Task struct {
	ID                  string         `json:"id"`
	BatchID             string         `json:"batch_id,omitempty"`
	AgentID             string         `json:"agent_id,omitempty"`
	Category            string         `json:"category,omitempty"`
	Description         string         `json:"description,omitempty"`
	ProjectTags         []string       `json:"project_tags,omitempty"`
	Payload             map[string]any `json:"payload"`
	Status              string         `json:"status"` // queued, in_progress, error
	CreatedAt           time.Time      `json:"created_at"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	ProcessingStartedAt *time.Time     `json:"processing_started_at,omitempty"`
	Error               string         `json:"error,omitempty"`
}

// ExecutionStartedAt returns the most specific available timestamp for
// execution-time accounting: ProcessingStartedAt (the worker's own mark),
// falling back to StartedAt (claim time), then CreatedAt (enqueue time).
func (t Task) ExecutionStartedAt() time.Time {
	if t.ProcessingStartedAt != nil {
		return *t.ProcessingStartedAt
	}
	if t.StartedAt != nil {
		return *t.StartedAt
	}
	return t.CreatedAt
}

// NewTaskID and NewBatchID mint opaque ids for queued work, grounded on
// the original's uuid4() task/batch identifiers.
func NewTaskID() string  { return uuid.NewString() }
func NewBatchID() string { return uuid.NewString() }

// TaskResult is what a worker process reports back for one task, via a
// JSON result file in the results directory.
type TaskResult struct {
	TaskID             string         `json:"task_id"`
	Status             string         `json:"status"` // completed|complete|done succeed; anything else is an error
	Output             map[string]any `json:"output,omitempty"`
	ExecutionTimeSeconds float64      `json:"execution_time_seconds"`
	Tokens             *TokenUsage    `json:"tokens,omitempty"`
}

// TokenUsage is the telemetry sidecar payload a worker may leave behind
// at "<results_dir>/.telemetry-<task_id>.json", merged into the archived
// TaskResultArchiveEntry and then deleted.
type TokenUsage struct {
	Input     int `json:"input"`
	Output    int `json:"output"`
	CacheRead int `json:"cache_read"`
	Total     int `json:"total"`
}

// TaskResultArchiveEntry is one row appended to the results archive,
// combining a worker's TaskResult with the originating Task's metadata.
type TaskResultArchiveEntry struct {
	TaskID               string         `json:"task_id"`
	CompletedAt          time.Time      `json:"completed_at"`
	Status               string         `json:"status"`
	ExecutionTimeSeconds float64        `json:"execution_time_seconds"`
	Category             string         `json:"category,omitempty"`
	ProjectTags          []string       `json:"project_tags,omitempty"`
	Output               map[string]any `json:"output,omitempty"`
	Tokens               *TokenUsage    `json:"tokens,omitempty"`
}
