package supervisor

import (
	"context"
	"os"
)

// ExecuteQueue is the entry point the original calls execute_queue: it
// enforces the nesting guard and the cross-process Supervisor lock, then
// either spawns a single worker over every queued task or partitions work
// across up to DefaultMaxParallelAgents agent buckets, one concurrency
// slot per bucket, each bucket claiming only its own agent_id's tasks.
//
// Unlike the original's one-long-lived-process-per-bucket model, each
// bucket's tasks still flow through the existing per-task WorkerSpawner —
// this supervisor already spawns one subprocess per task rather than one
// long-lived subprocess per agent, so "one worker per bucket" here means
// one concurrency slot (and thus an independent Claim/drain sequence) per
// bucket rather than a second process tree.
func (s *Supervisor) ExecuteQueue(ctx context.Context, parallel int, agentID string) ([]error, error) {
	if os.Getenv(NestingGuardEnv) != "" {
		return nil, ErrNestedSpawn
	}
	if parallel < 1 {
		parallel = 1
	}
	if parallel > DefaultMaxParallelAgents {
		parallel = DefaultMaxParallelAgents
	}

	if s.LockPath != "" {
		if err := acquireLock(s.LockPath); err != nil {
			return nil, err
		}
		defer releaseLock(s.LockPath)
	}

	tasks, err := s.Queue.List()
	if err != nil {
		return nil, err
	}
	queuedCount := 0
	for _, t := range tasks {
		if t.Status == "queued" {
			queuedCount++
		}
	}
	if queuedCount == 0 {
		return nil, nil
	}

	agents := bucketAgents(tasks, agentID, parallel)
	if s.LockPath != "" {
		pids := []int{}
		if spawner, ok := s.Spawner.(interface{ Pids() []int }); ok {
			pids = spawner.Pids()
		}
		if err := writeLock(s.LockPath, pids, queuedCount, parallel, agents); err != nil {
			return nil, err
		}
	}

	waiter := NewWaiter()
	for _, agent := range agents {
		agent := agent
		s.manager.Run(func() error {
			claimed, err := s.Queue.Claim(agent)
			if err != nil {
				return err
			}
			for _, task := range claimed {
				if err := s.runOne(ctx, task); err != nil {
					return err
				}
			}
			return nil
		}, waiter)
	}
	waiter.Wait()

	var errs []error
	for err := range waiter.Err() {
		errs = append(errs, err)
	}
	return errs, nil
}

// bucketAgents decides which agent_id values get their own concurrency
// slot: if the caller pinned agentID, that is the only bucket; otherwise
// the first (at most parallel, capped at DefaultMaxParallelAgents) distinct
// agent ids among queued tasks, or a single "" bucket (claim everything)
// when no queued task carries an agent_id.
func bucketAgents(tasks map[string]Task, agentID string, parallel int) []string {
	if agentID != "" {
		return []string{agentID}
	}

	seen := map[string]bool{}
	var ids []string
	for _, t := range tasks {
		if t.Status != "queued" || t.AgentID == "" || seen[t.AgentID] {
			continue
		}
		seen[t.AgentID] = true
		ids = append(ids, t.AgentID)
		if len(ids) == parallel {
			break
		}
	}
	if len(ids) == 0 {
		return []string{""}
	}
	return ids
}
