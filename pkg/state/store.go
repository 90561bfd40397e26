// Package state persists execution state, receipts, and the event log
// with crash-safe atomic writes, and enforces the workspace lock.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/piwi3910/shipper/pkg/types"
)

// Schema versions for the files the store owns.
const (
	CurrentStateVersion   = "shipper.state.v1"
	CurrentReceiptVersion = "shipper.receipt.v2"
	MinimumReceiptVersion = "shipper.receipt.v1"
	StateFile             = "state.json"
	ReceiptFile           = "receipt.json"
	DefaultStateDirName   = ".shipper"
)

// Store is the persistence surface the engine depends on. The file
// system implementation is DirStore; tests substitute in-memory fakes.
type Store interface {
	// LoadState returns the persisted execution state, or nil when no
	// state exists.
	LoadState() (*types.ExecutionState, error)

	// SaveState atomically persists the full execution state.
	SaveState(st *types.ExecutionState) error

	// ClearState removes the state file.
	ClearState() error

	// WriteReceipt atomically persists the terminal receipt.
	WriteReceipt(r *types.Receipt) error

	// AppendEvents appends records to the event log, flushing each.
	AppendEvents(events ...types.Event) error

	// EventLogPath is the receipt's pointer to the event log.
	EventLogPath() string
}

// DirStore owns all files under a single state directory.
type DirStore struct {
	dir string
}

// NewDirStore creates a store rooted at dir. The directory is created
// on first write.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Dir returns the state directory.
func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) statePath() string   { return filepath.Join(s.dir, StateFile) }
func (s *DirStore) receiptPath() string { return filepath.Join(s.dir, ReceiptFile) }

// EventLogPath returns the events file path.
func (s *DirStore) EventLogPath() string { return filepath.Join(s.dir, EventsFile) }

// LoadState loads state.json. A file that fails to parse is re-read
// once (a concurrent writer may have been mid-rename); a second
// failure is STATE_CORRUPT. Unknown schema majors are refused.
func (s *DirStore) LoadState() (*types.ExecutionState, error) {
	path := s.statePath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat state file %s: %w", path, err)
	}

	st, err := readState(path)
	if err != nil {
		// One retry tolerates a concurrent atomic writer.
		st, err = readState(path)
		if err != nil {
			return nil, types.NewPermanentError("state file is corrupt", err).
				WithCode(types.ErrCodeStateCorrupt)
		}
	}

	if err := validateSchemaVersion(st.StateVersion, CurrentStateVersion); err != nil {
		return nil, err
	}
	return st, nil
}

func readState(path string) (*types.ExecutionState, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	var st types.ExecutionState
	if err := json.Unmarshal(content, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state JSON %s: %w", path, err)
	}
	return &st, nil
}

// SaveState atomically writes state.json.
func (s *DirStore) SaveState(st *types.ExecutionState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir %s: %w", s.dir, err)
	}
	return atomicWriteJSON(s.statePath(), st)
}

// ClearState removes state.json if present.
func (s *DirStore) ClearState() error {
	err := os.Remove(s.statePath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// WriteReceipt atomically writes receipt.json.
func (s *DirStore) WriteReceipt(r *types.Receipt) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir %s: %w", s.dir, err)
	}
	return atomicWriteJSON(s.receiptPath(), r)
}

// LoadReceipt loads receipt.json with migration support, or nil when
// no receipt exists.
func (s *DirStore) LoadReceipt() (*types.Receipt, error) {
	path := s.receiptPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat receipt file %s: %w", path, err)
	}
	return MigrateReceiptFile(path)
}

// HasIncompleteState reports whether a run was interrupted: state.json
// exists but receipt.json does not.
func (s *DirStore) HasIncompleteState() bool {
	_, stErr := os.Stat(s.statePath())
	_, rcErr := os.Stat(s.receiptPath())
	return stErr == nil && os.IsNotExist(rcErr)
}

// atomicWriteJSON serializes to <path>.tmp, fsyncs, and renames over
// the target, then fsyncs the parent directory. This is the only
// crash-safety primitive the store needs: every transition rewrites
// the full (small) state.
func atomicWriteJSON(path string, value interface{}) error {
	tmp := path + ".tmp"
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize JSON: %w", err)
	}

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create tmp file %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write tmp file %s: %w", tmp, err)
	}
	_ = f.Sync()
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close tmp file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, path, err)
	}
	fsyncParentDir(path)
	return nil
}

// fsyncParentDir makes the rename durable. Errors are ignored because
// not every platform supports opening a directory for sync.
func fsyncParentDir(path string) {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return
	}
	_ = dir.Sync()
	_ = dir.Close()
}

// validateSchemaVersion refuses unknown major schema versions.
func validateSchemaVersion(got, want string) error {
	gotNum, err := parseSchemaVersion(got)
	if err != nil {
		return types.NewPermanentError("invalid schema version", err).
			WithCode(types.ErrCodeSchemaUnsupported)
	}
	wantNum, err := parseSchemaVersion(want)
	if err != nil {
		return types.NewPermanentError("invalid expected schema version", err).
			WithCode(types.ErrCodeSchemaUnsupported)
	}
	if gotNum > wantNum {
		return types.NewPermanentError(
			fmt.Sprintf("schema version %s is newer than supported %s", got, want), nil).
			WithCode(types.ErrCodeSchemaUnsupported)
	}
	return nil
}

// parseSchemaVersion extracts the major number from versions shaped
// "shipper.<kind>.v<major>".
func parseSchemaVersion(version string) (int, error) {
	parts := strings.Split(version, ".")
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "shipper") || !strings.HasPrefix(parts[2], "v") {
		return 0, fmt.Errorf("invalid schema version format: %s", version)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v"))
	if err != nil {
		return 0, fmt.Errorf("invalid version number in %s: %w", version, err)
	}
	return n, nil
}
