// ABOUTME: SQLite history backend storing outcomes in a single portable file
// ABOUTME: Uses the pure-Go modernc driver through database/sql

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scan_outcomes (
	id              TEXT PRIMARY KEY,
	scan_type       TEXT NOT NULL,
	target          TEXT NOT NULL,
	verdict         TEXT NOT NULL,
	malicious_count INTEGER NOT NULL,
	summary         TEXT NOT NULL,
	timestamp       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_outcomes_timestamp ON scan_outcomes (timestamp);
CREATE INDEX IF NOT EXISTS idx_scan_outcomes_target ON scan_outcomes (scan_type, target, timestamp);
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// SQLiteStore stores outcomes in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	for _, p := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveScanOutcome inserts the outcome.
func (s *SQLiteStore) SaveScanOutcome(ctx context.Context, outcome *types.ScanOutcome) error {
	if err := validateOutcome(outcome); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_outcomes (id, scan_type, target, verdict, malicious_count, summary, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		outcome.ID,
		string(outcome.ScanType),
		outcome.Target,
		string(outcome.Verdict),
		outcome.MaliciousCount,
		outcome.Summary,
		outcome.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome %s: %w", outcome.ID, err)
	}
	return nil
}

const selectOutcome = `SELECT id, scan_type, target, verdict, malicious_count, summary, timestamp FROM scan_outcomes`

// ListOutcomes returns up to limit outcomes, newest first.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit int) ([]*types.ScanOutcome, error) {
	rows, err := s.db.QueryContext(ctx, selectOutcome+` ORDER BY timestamp DESC, id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*types.ScanOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// LookupTarget returns the newest outcome for target, or nil if none exists.
func (s *SQLiteStore) LookupTarget(ctx context.Context, target types.ScanTarget) (*types.ScanOutcome, error) {
	row := s.db.QueryRowContext(ctx,
		selectOutcome+` WHERE scan_type = ? AND target = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		string(target.Kind()), target.Value(),
	)
	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(r rowScanner) (*types.ScanOutcome, error) {
	var (
		o        types.ScanOutcome
		scanType string
		verdict  string
		ts       int64
	)
	if err := r.Scan(&o.ID, &scanType, &o.Target, &verdict, &o.MaliciousCount, &o.Summary, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan outcome: %w", err)
	}
	o.ScanType = types.TargetKind(scanType)
	o.Verdict = types.Verdict(verdict)
	o.Timestamp = time.Unix(0, ts).UTC()
	return &o, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
