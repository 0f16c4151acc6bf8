package lock

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	t.Parallel()
	r := NewRunLocker(t.TempDir())

	require.NoError(t, r.Acquire("pull"))
	require.NoError(t, r.Release())
	require.NoError(t, r.Acquire("push"))
	require.NoError(t, r.Release())
}

func TestAcquireHeldByOtherOwnerFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first := NewRunLocker(dir)
	require.NoError(t, first.Acquire("pull"))

	second := NewRunLocker(dir)
	second.owner = "someone@elsewhere"
	err := second.Acquire("push")
	require.Error(t, err)
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "pull", lockErr.Operation)
}

func TestAcquireHeldBySameUserOtherProcessFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := NewRunLocker(dir)

	// Same user@host but a different live process: the parent of the test
	// binary stands in for a second CLI run.
	now := time.Now()
	require.NoError(t, r.write(&Lock{
		Owner:     r.owner,
		Operation: "pull",
		Acquired:  now,
		Heartbeat: now,
		TTL:       DefaultTTL.String(),
		PID:       os.Getppid(),
	}))

	err := r.Acquire("push")
	require.Error(t, err)
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, os.Getppid(), lockErr.PID)
	assert.Equal(t, "pull", lockErr.Operation)
}

func TestAcquireTakesOverDeadProcessLock(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := NewRunLocker(dir)

	// Fresh heartbeat, same owner, but the recorded process is gone.
	now := time.Now()
	require.NoError(t, r.write(&Lock{
		Owner:     r.owner,
		Operation: "pull",
		Acquired:  now,
		Heartbeat: now,
		TTL:       DefaultTTL.String(),
		PID:       999999,
	}))

	require.NoError(t, r.Acquire("push"))
	l, err := r.read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), l.PID)
	assert.Equal(t, "push", l.Operation)
}

func TestStaleLockIsTakenOver(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first := NewRunLocker(dir)
	first.ttl = time.Millisecond
	require.NoError(t, first.Acquire("pull"))
	time.Sleep(5 * time.Millisecond)

	second := NewRunLocker(dir)
	second.owner = "someone@elsewhere"
	require.NoError(t, second.Acquire("push"))
}

func TestHeartbeatKeepsLockFresh(t *testing.T) {
	t.Parallel()
	r := NewRunLocker(t.TempDir())
	require.NoError(t, r.Acquire("import"))
	require.NoError(t, r.Heartbeat())

	l, err := r.read()
	require.NoError(t, err)
	assert.False(t, l.IsStale())
	assert.Equal(t, "import", l.Operation)
}

func TestReleaseWithoutLockIsNoop(t *testing.T) {
	t.Parallel()
	r := NewRunLocker(t.TempDir())
	require.NoError(t, r.Release())
}
