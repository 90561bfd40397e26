package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/piwi3910/shipper/pkg/types"
)

// EventsFile is the event log file name inside the state directory.
const EventsFile = "events.jsonl"

// AppendEvents appends records to events.jsonl, one JSON object per
// line, flushing after every batch. The file is opened append-only so
// an interrupted run never truncates history.
func (s *DirStore) AppendEvents(events ...types.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir %s: %w", s.dir, err)
	}

	f, err := os.OpenFile(s.EventLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open events file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to serialize event: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write event line: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush events file: %w", err)
	}
	return f.Sync()
}

// ReadEvents loads all records from an events.jsonl file. Lines that
// fail to parse are skipped rather than failing the read — the log is
// diagnostic, not authoritative.
func ReadEvents(path string) ([]types.Event, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open events file %s: %w", path, err)
	}
	defer f.Close()

	var events []types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev types.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events file %s: %w", path, err)
	}
	return events, nil
}
