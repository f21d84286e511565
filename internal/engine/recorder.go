package engine

import (
	"fmt"
	"log/slog"

	"github.com/rendis/simachine/pkg/schema"
)

// Recorder accumulates the execution trace of one simulation tree. All
// hierarchy levels append to a single backing sink so a step's trace reads
// top to bottom in execution order; nested levels are distinguished by a
// "[SUB] " text prefix per depth.
//
// Not safe for concurrent use: the engine is single-threaded per instance
// and the host serializes access (one actor per simulation).
type Recorder struct {
	sink   *entrySink
	prefix string
	logger *slog.Logger
}

type entrySink struct {
	entries []schema.LogEntry
}

// NewRecorder creates a root-level recorder. logger may be nil.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{sink: &entrySink{}, logger: logger}
}

// Child returns a recorder view for a nested engine one level down.
// Entries land in the same sink, prefixed with "[SUB] ".
func (r *Recorder) Child() *Recorder {
	return &Recorder{
		sink:   r.sink,
		prefix: r.prefix + "[SUB] ",
		logger: r.logger,
	}
}

// Record appends a trace entry and mirrors it to the operational logger.
func (r *Recorder) Record(sev schema.Severity, format string, args ...any) {
	text := r.prefix + fmt.Sprintf(format, args...)
	r.sink.entries = append(r.sink.entries, schema.LogEntry{Severity: sev, Text: text})

	switch sev {
	case schema.SeverityDebug:
		r.logger.Debug(text)
	case schema.SeverityInfo:
		r.logger.Debug(text)
	case schema.SeverityWarn:
		r.logger.Warn(text)
	default:
		r.logger.Error(text, slog.String("severity", sev.String()))
	}
}

// Drain returns all entries recorded since the last drain and clears the
// sink, so each step/reset call reports only its own lines.
func (r *Recorder) Drain() []schema.LogEntry {
	out := r.sink.entries
	r.sink.entries = nil
	return out
}
