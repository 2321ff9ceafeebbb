package supervisor

import "github.com/pkg/errors"

// Error kinds the Agent Supervisor returns, realized as sentinels so
// callers can errors.Is/errors.As regardless of the wrapping message.
var (
	ErrQueueFull      = errors.New("supervisor: task queue is at capacity")
	ErrTaskNotFound   = errors.New("supervisor: task not found")
	ErrAlreadyClaimed = errors.New("supervisor: task already claimed")
	ErrSpawnFailed    = errors.New("supervisor: failed to spawn worker process")
	ErrResultMissing  = errors.New("supervisor: worker produced no result file")
	ErrAlreadyRunning = errors.New("supervisor: execute_queue already running")
	ErrNestedSpawn    = errors.New("supervisor: execute_queue called from inside a worker process")
)
