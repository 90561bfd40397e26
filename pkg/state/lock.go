package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/piwi3910/shipper/pkg/types"
)

// LockFileName is the lock file name inside the state directory.
const LockFileName = "lock"

// LockInfo is the metadata stored in the lock file.
type LockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
	PlanID     string    `json:"plan_id,omitempty"`
}

// Lock is a held workspace lock. At most one engine runs per workspace;
// the lock file enforces this across processes.
type Lock struct {
	path string
}

// AcquireLock takes the workspace lock via exclusive create. When the
// lock exists: a holder older than staleAfter is reaped, force breaks
// it unconditionally, otherwise acquisition fails with LOCK_HELD.
func AcquireLock(stateDir string, staleAfter time.Duration, force bool) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			host, _ := os.Hostname()
			info := LockInfo{
				PID:        os.Getpid(),
				Host:       host,
				AcquiredAt: time.Now().UTC(),
			}
			data, merr := json.MarshalIndent(info, "", "  ")
			if merr != nil {
				f.Close()
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to serialize lock info: %w", merr)
			}
			if _, werr := f.Write(data); werr != nil {
				f.Close()
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", werr)
			}
			_ = f.Sync()
			if cerr := f.Close(); cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to close lock file: %w", cerr)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
		}

		info, rerr := ReadLockInfo(stateDir)
		switch {
		case force:
			// Explicit override.
		case rerr != nil:
			// Corrupt lock file; reap it.
		case time.Since(info.AcquiredAt) > staleAfter:
			// Stale holder, likely a crashed run.
		default:
			return nil, types.NewPermanentError(
				fmt.Sprintf("lock held by pid %d on %s since %s",
					info.PID, info.Host, info.AcquiredAt.Format(time.RFC3339)),
				nil,
			).WithCode(types.ErrCodeLockHeld)
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("failed to remove stale lock file %s: %w", path, rmErr)
		}
	}

	return nil, types.NewPermanentError("lock contention while breaking stale lock", nil).
		WithCode(types.ErrCodeLockHeld)
}

// SetPlanID records the executing plan in the lock file.
func (l *Lock) SetPlanID(planID string) error {
	info, err := readLockInfoFromPath(l.path)
	if err != nil {
		return err
	}
	info.PlanID = planID
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize lock info: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write lock tmp file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to rename lock file: %w", err)
	}
	return nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	return nil
}

// IsLocked reports whether a lock file exists in the state directory.
func IsLocked(stateDir string) bool {
	_, err := os.Stat(filepath.Join(stateDir, LockFileName))
	return err == nil
}

// ReadLockInfo reads the lock file metadata from a state directory.
func ReadLockInfo(stateDir string) (*LockInfo, error) {
	return readLockInfoFromPath(filepath.Join(stateDir, LockFileName))
}

func readLockInfoFromPath(path string) (*LockInfo, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file %s: %w", path, err)
	}
	var info LockInfo
	if err := json.Unmarshal(content, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock JSON from %s: %w", path, err)
	}
	return &info, nil
}
