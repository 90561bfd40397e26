package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/shipper/pkg/types"
)

func TestLockAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, time.Hour, false)
	require.NoError(t, err)
	assert.True(t, IsLocked(dir))

	info, err := ReadLockInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.Host)

	require.NoError(t, lock.Release())
	assert.False(t, IsLocked(dir))
	require.NoError(t, lock.Release(), "double release is safe")
}

func TestLockContention(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir, time.Hour, false)
	require.NoError(t, err)
	defer first.Release()

	_, err = AcquireLock(dir, time.Hour, false)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeLockHeld, types.CodeOf(err))
}

func TestLockStaleReaping(t *testing.T) {
	dir := t.TempDir()

	stale := LockInfo{
		PID:        99999,
		Host:       "elsewhere",
		AcquiredAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), data, 0o644))

	lock, err := AcquireLock(dir, time.Hour, false)
	require.NoError(t, err)
	defer lock.Release()

	info, err := ReadLockInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestLockForceBreaks(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir, time.Hour, false)
	require.NoError(t, err)
	defer first.Release()

	lock, err := AcquireLock(dir, time.Hour, true)
	require.NoError(t, err)
	defer lock.Release()
}

func TestLockCorruptFileIsReaped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), []byte("junk"), 0o644))

	lock, err := AcquireLock(dir, time.Hour, false)
	require.NoError(t, err)
	defer lock.Release()
}

func TestLockSetPlanID(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, time.Hour, false)
	require.NoError(t, err)
	defer lock.Release()

	require.NoError(t, lock.SetPlanID("plan-42"))
	info, err := ReadLockInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, "plan-42", info.PlanID)
}
