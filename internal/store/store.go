// Package store persists execution traces to an embedded libSQL database.
// It records history for post-hoc inspection only; the engine never reads
// simulation state back from it.
package store

import (
	"context"
	"time"

	"github.com/rendis/simachine/pkg/schema"
)

// Run identifies one simulator lifetime (construction to reset/teardown).
type Run struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// TraceRow is one persisted trace entry with its per-run sequence.
type TraceRow struct {
	RunID      string          `json:"run_id"`
	Sequence   int64           `json:"sequence"`
	Entry      schema.LogEntry `json:"entry"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// TraceStore is the persistence boundary for execution traces.
type TraceStore interface {
	BeginRun(ctx context.Context, runID, name string) error
	AppendEntries(ctx context.Context, runID string, entries []schema.LogEntry) error
	ListEntries(ctx context.Context, runID string) ([]TraceRow, error)
	ListRuns(ctx context.Context) ([]Run, error)
	Close() error
}
