package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/simachine/pkg/schema"
)

// LibSQLStore implements TraceStore using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/trace.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// BeginRun registers a simulator lifetime under its instance ID.
func (s *LibSQLStore) BeginRun(ctx context.Context, runID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, started_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		runID, name, time.Now().UTC(),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin run: %s", err.Error()).WithCause(err)
	}
	return nil
}

// AppendEntries appends trace entries with a monotonically increasing
// per-run sequence. The whole batch commits atomically.
func (s *LibSQLStore) AppendEntries(ctx context.Context, runID string, entries []schema.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin tx: %s", err.Error()).WithCause(err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM trace_entries WHERE run_id = ?`, runID,
	).Scan(&seq)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "read sequence: %s", err.Error()).WithCause(err)
	}

	now := time.Now().UTC()
	for _, e := range entries {
		seq++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trace_entries (run_id, sequence, severity, text, recorded_at)
			 VALUES (?, ?, ?, ?, ?)`,
			runID, seq, e.Severity.String(), e.Text, now,
		); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "append entry: %s", err.Error()).WithCause(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit: %s", err.Error()).WithCause(err)
	}
	return nil
}

// ListEntries returns all trace rows for a run in sequence order.
func (s *LibSQLStore) ListEntries(ctx context.Context, runID string) ([]TraceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, sequence, severity, text, recorded_at
		 FROM trace_entries WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list entries: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var out []TraceRow
	for rows.Next() {
		var r TraceRow
		var sevName string
		if err := rows.Scan(&r.RunID, &r.Sequence, &sevName, &r.Entry.Text, &r.RecordedAt); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan entry: %s", err.Error()).WithCause(err)
		}
		r.Entry.Severity = parseSeverity(sevName)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRuns returns all recorded runs, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, started_at FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list runs: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Name, &r.StartedAt); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan run: %s", err.Error()).WithCause(err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseSeverity(name string) schema.Severity {
	for s := schema.SeverityDebug; s <= schema.SeveritySecurity; s++ {
		if s.String() == name {
			return s
		}
	}
	return schema.SeverityInfo
}

var _ TraceStore = (*LibSQLStore)(nil)
