// Package history archives completed run receipts in a SQLite database
// so past runs remain queryable after the state directory moves on.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/piwi3910/shipper/pkg/types"

	// SQLite driver
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	plan_id TEXT NOT NULL,
	registry TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	result TEXT NOT NULL,
	package_count INTEGER NOT NULL,
	published_count INTEGER NOT NULL,
	skipped_count INTEGER NOT NULL,
	failed_count INTEGER NOT NULL,
	receipt_json TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_plan_id ON runs(plan_id);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// RunSummary is one archived run row.
type RunSummary struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	PlanID     string    `json:"plan_id"`
	Registry   string    `json:"registry"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Result     string    `json:"result"`
	Packages   int       `json:"package_count"`
	Published  int       `json:"published_count"`
	Skipped    int       `json:"skipped_count"`
	Failed     int       `json:"failed_count"`
}

// Store is the SQLite-backed run archive.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the archive at path. WAL mode and a
// busy timeout make concurrent readers harmless.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is required")
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordReceipt archives a receipt.
func (s *Store) RecordReceipt(ctx context.Context, receipt *types.Receipt) error {
	var published, skipped, failed int
	for _, p := range receipt.Packages {
		switch p.Status {
		case types.StatusPublished:
			published++
		case types.StatusSkipped:
			skipped++
		case types.StatusFailed:
			failed++
		}
	}

	result := "success"
	switch {
	case failed > 0 && published == 0 && skipped == 0:
		result = "complete_failure"
	case failed > 0:
		result = "partial_failure"
	}

	blob, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to serialize receipt: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, plan_id, registry, started_at, finished_at, result,
			package_count, published_count, skipped_count, failed_count, receipt_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.RunID, receipt.PlanID, receipt.Registry.Name,
		receipt.StartedAt.UTC(), receipt.FinishedAt.UTC(), result,
		len(receipt.Packages), published, skipped, failed, string(blob),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, plan_id, registry, started_at, finished_at, result,
			package_count, published_count, skipped_count, failed_count
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.RunID, &r.PlanID, &r.Registry,
			&r.StartedAt, &r.FinishedAt, &r.Result,
			&r.Packages, &r.Published, &r.Skipped, &r.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetReceipt loads the archived receipt for a run row.
func (s *Store) GetReceipt(ctx context.Context, id int64) (*types.Receipt, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT receipt_json FROM runs WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", id, err)
	}

	var receipt types.Receipt
	if err := json.Unmarshal([]byte(blob), &receipt); err != nil {
		return nil, fmt.Errorf("failed to parse archived receipt: %w", err)
	}
	return &receipt, nil
}
