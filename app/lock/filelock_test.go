package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	fl := New(filepath.Join(dir, "state.lock"), time.Second)

	require.NoError(t, fl.Acquire(context.Background(), time.Second))
	_, err := os.Stat(filepath.Join(dir, "state.lock"))
	require.NoError(t, err)

	require.NoError(t, fl.Release())
	_, err = os.Stat(filepath.Join(dir, "state.lock"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileLock_ReleaseIsIdempotent(t *testing.T) {
	fl := New(filepath.Join(t.TempDir(), "state.lock"), time.Second)
	require.NoError(t, fl.Release())
	require.NoError(t, fl.Release())
}

func TestFileLock_AcquireTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	holder := New(path, time.Hour)
	require.NoError(t, holder.Acquire(context.Background(), time.Second))
	defer holder.Release()

	PollInterval = 10 * time.Millisecond
	defer func() { PollInterval = 100 * time.Millisecond }()

	waiter := New(path, time.Hour)
	err := waiter.Acquire(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}

func TestFileLock_ReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	content, err := json.Marshal(lockContent{Hostname: "ghost", PID: 999999, Timestamp: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	fl := New(path, time.Millisecond)
	PollInterval = 5 * time.Millisecond
	defer func() { PollInterval = 100 * time.Millisecond }()

	require.NoError(t, fl.Acquire(context.Background(), time.Second))
	defer fl.Release()
}

func TestFileLock_AcquireRespectsContextCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	holder := New(path, time.Hour)
	require.NoError(t, holder.Acquire(context.Background(), time.Second))
	defer holder.Release()

	PollInterval = 10 * time.Millisecond
	defer func() { PollInterval = 100 * time.Millisecond }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := New(path, time.Hour).Acquire(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithLock_ReleasesAfterFn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	fl := New(path, time.Second)

	ran := false
	err := WithLock(context.Background(), fl, time.Second, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSupervisorLock_RejectsConcurrentRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.lock")
	first := NewSupervisorLock(path, time.Hour)
	require.NoError(t, first.Acquire([]int{os.Getpid()}))
	defer first.Release()

	second := NewSupervisorLock(path, time.Hour)
	err := second.Acquire([]int{os.Getpid()})
	assert.Error(t, err)
}

func TestSupervisorLock_ReclaimsWhenAllPIDsDead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.lock")
	content, err := json.Marshal(supervisorLockContent{CreatedAt: time.Now(), PIDs: []int{999999}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	sl := NewSupervisorLock(path, time.Hour)
	require.NoError(t, sl.Acquire([]int{os.Getpid()}))
	defer sl.Release()
}

func TestSupervisorLock_ReclaimsPastMaxAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.lock")
	content, err := json.Marshal(supervisorLockContent{CreatedAt: time.Now().Add(-time.Hour), PIDs: []int{os.Getpid()}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	sl := NewSupervisorLock(path, time.Minute)
	require.NoError(t, sl.Acquire([]int{os.Getpid()}))
	defer sl.Release()
}

func TestSupervisorLock_Touch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.lock")
	sl := NewSupervisorLock(path, time.Hour)
	require.NoError(t, sl.Acquire([]int{1}))
	defer sl.Release()

	require.NoError(t, sl.Touch([]int{1, 2, 3}))
	held, err := sl.read()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, held.PIDs)
}
