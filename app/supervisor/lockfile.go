package supervisor

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"
)

// NestingGuardEnv, when present in the environment, marks the process as
// already running inside a worker and forbids a further execute_queue —
// grounded on the original's nesting sentinel.
const NestingGuardEnv = "AUTOMATION_CORE_WORKER"

// StaleLockAfter mirrors the AgentLock entity's 30-minute staleness bound
// (spec.md §3/§4.1): a lockfile older than this is reclaimed regardless of
// pid liveness, and a lockfile whose pids are all dead is reclaimed at any
// age.
const StaleLockAfter = 30 * time.Minute

// supervisorLock is the JSON document written to the Supervisor lockfile,
// the single source of truth for worker liveness across processes.
type supervisorLock struct {
	CreatedAt time.Time `json:"created_at"`
	Pids      []int     `json:"pids"`
	TaskCount int       `json:"task_count"`
	Parallel  int       `json:"parallel"`
	Agents    []string  `json:"agents"`
}

// acquireLock reclaims a stale lockfile in place (all recorded pids dead,
// or older than StaleLockAfter) and returns ErrAlreadyRunning if a live
// lock is still held.
func acquireLock(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "supervisor: read lockfile")
	}

	var held supervisorLock
	if err := json.Unmarshal(data, &held); err != nil {
		// corrupt lockfile: treat as abandoned, reclaim.
		return os.Remove(path)
	}

	if anyAlive(held.Pids) && time.Since(held.CreatedAt) < StaleLockAfter {
		return ErrAlreadyRunning
	}
	return os.Remove(path)
}

func anyAlive(pids []int) bool {
	for _, pid := range pids {
		if alive, _ := process.PidExists(int32(pid)); alive {
			return true
		}
	}
	return false
}

func writeLock(path string, pids []int, taskCount, parallel int, agents []string) error {
	lockData := supervisorLock{
		CreatedAt: time.Now().UTC(),
		Pids:      pids,
		TaskCount: taskCount,
		Parallel:  parallel,
		Agents:    agents,
	}
	data, err := json.Marshal(lockData)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func releaseLock(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
