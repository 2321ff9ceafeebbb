// Package lock implements the file-based advisory locking used to serialize
// access to the engine's JSON state files and to coordinate the Supervisor's
// exclusive run across process restarts.
//
// A lock is a regular file created with O_CREATE|O_EXCL so creation itself is
// the atomic test-and-set. The file holds a small JSON payload identifying
// the owner; a lock whose payload is older than its stale timeout (or, for
// the Supervisor variant, whose recorded pids are all dead) is treated as
// abandoned and reclaimed by the next acquirer.
package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	ErrAcquireTimeout = errors.New("lock: timed out waiting to acquire")
	ErrCorrupt        = errors.New("lock: corrupt lock file")
	ErrNotHeld        = errors.New("lock: not held by this instance")
)

// PollInterval is how often Acquire retries after finding the lock held.
// Fixed at 100ms per the engine's lock contract; var so tests can shrink it.
var PollInterval = 100 * time.Millisecond

const filePerm = 0o644

// FileLock is a single-owner advisory lock backed by a file on disk.
type FileLock struct {
	path         string
	staleTimeout time.Duration
	hostname     string
	pid          int
}

type lockContent struct {
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a FileLock guarding path. staleTimeout bounds how long a held
// lock is honored before it is considered abandoned by a crashed owner.
func New(path string, staleTimeout time.Duration) *FileLock {
	hostname, _ := os.Hostname()
	return &FileLock{
		path:         path,
		staleTimeout: staleTimeout,
		hostname:     hostname,
		pid:          os.Getpid(),
	}
}

// Acquire blocks, polling every PollInterval, until the lock is obtained,
// the context is cancelled, or timeout elapses (timeout <= 0 means no limit
// beyond ctx). A stale lock found along the way is reclaimed in place.
func (fl *FileLock) Acquire(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		acquired, err := fl.tryAcquire()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrAcquireTimeout
		case <-time.After(PollInterval):
		}
	}
}

// tryAcquire makes a single atomic attempt, reclaiming a stale lock file
// in place if one is found.
func (fl *FileLock) tryAcquire() (bool, error) {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err == nil {
		defer f.Close()
		if err := fl.write(f); err != nil {
			os.Remove(fl.path)
			return false, errors.Wrap(err, "lock: write lock content")
		}
		return true, nil
	}
	if !os.IsExist(err) {
		return false, errors.Wrap(err, "lock: create lock file")
	}

	stale, rerr := fl.isStale()
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return false, nil // raced with the owner releasing; retry next tick
		}
		return false, nil // corrupt or transient: treat as held, retry next tick
	}
	if !stale {
		return false, nil
	}
	if err := os.Remove(fl.path); err != nil && !os.IsNotExist(err) {
		return false, errors.Wrap(err, "lock: remove stale lock")
	}
	return false, nil
}

func (fl *FileLock) isStale() (bool, error) {
	data, err := os.ReadFile(fl.path)
	if err != nil {
		return false, err
	}
	var lc lockContent
	if err := json.Unmarshal(data, &lc); err != nil {
		return false, errors.Wrap(ErrCorrupt, err.Error())
	}
	return time.Since(lc.Timestamp) >= fl.staleTimeout, nil
}

func (fl *FileLock) write(f *os.File) error {
	data, err := json.Marshal(lockContent{
		Hostname:  fl.hostname,
		PID:       fl.pid,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// Release removes the lock file. Idempotent: releasing an already-released
// or never-acquired lock is not an error.
func (fl *FileLock) Release() error {
	if err := os.Remove(fl.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "lock: release")
	}
	return nil
}

// WithLock acquires fl, runs fn, and releases fl even if fn panics or errors.
func WithLock(ctx context.Context, fl *FileLock, timeout time.Duration, fn func() error) error {
	if err := fl.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer fl.Release()
	return fn()
}

// SupervisorLock guards the Agent Supervisor's single-run invariant. Unlike
// FileLock's timestamp-only staleness test, a supervisor lock records the
// pids of every agent it spawned; it is reclaimable once none of them are
// alive, even if younger than maxAge, and is always reclaimable past maxAge
// regardless of pid liveness (a crashed host can leave live-looking pids
// belonging to an unrelated process that reused the pid).
type SupervisorLock struct {
	path   string
	maxAge time.Duration
}

type supervisorLockContent struct {
	CreatedAt time.Time `json:"created_at"`
	PIDs      []int     `json:"pids"`
}

// NewSupervisorLock creates a SupervisorLock guarding path. maxAge <= 0 uses
// a 30 minute default, matching the Supervisor's run-length expectation.
func NewSupervisorLock(path string, maxAge time.Duration) *SupervisorLock {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &SupervisorLock{path: path, maxAge: maxAge}
}

// Acquire takes ownership, recording pids as the agents currently running
// under this supervisor run. It reclaims a stale or pid-dead prior lock.
func (sl *SupervisorLock) Acquire(pids []int) error {
	if held, err := sl.read(); err == nil {
		if !sl.isStale(held) && sl.anyAlive(held.PIDs) {
			return errors.New("lock: supervisor already running")
		}
		if err := os.Remove(sl.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "lock: remove stale supervisor lock")
		}
	}

	f, err := os.OpenFile(sl.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		if os.IsExist(err) {
			return errors.New("lock: supervisor already running")
		}
		return errors.Wrap(err, "lock: create supervisor lock")
	}
	defer f.Close()

	data, err := json.Marshal(supervisorLockContent{CreatedAt: time.Now(), PIDs: pids})
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// Touch rewrites the recorded pid set, e.g. as agents finish and new ones
// are spawned within the same supervisor run.
func (sl *SupervisorLock) Touch(pids []int) error {
	held, err := sl.read()
	if err != nil {
		return ErrNotHeld
	}
	held.PIDs = pids
	data, err := json.Marshal(held)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(sl.path), "supervisor-lock-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	return os.Rename(tmp.Name(), sl.path)
}

func (sl *SupervisorLock) Release() error {
	if err := os.Remove(sl.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "lock: release supervisor lock")
	}
	return nil
}

func (sl *SupervisorLock) read() (*supervisorLockContent, error) {
	data, err := os.ReadFile(sl.path)
	if err != nil {
		return nil, err
	}
	var c supervisorLockContent
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(ErrCorrupt, err.Error())
	}
	return &c, nil
}

func (sl *SupervisorLock) isStale(c *supervisorLockContent) bool {
	return time.Since(c.CreatedAt) > sl.maxAge
}

func (sl *SupervisorLock) anyAlive(pids []int) bool {
	for _, pid := range pids {
		if alive, err := process.PidExists(int32(pid)); err == nil && alive {
			return true
		}
	}
	return false
}
