// Package sim is the host-facing lifecycle and introspection API for one
// statechart simulation: construct from a diagram definition, drive with
// step/reset, and observe state, variables, and the execution trace.
//
// A Simulator is single-threaded and non-reentrant. Hosts must serialize
// access per instance; one goroutine (or one AutoStepper) per simulation.
package sim

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/simachine/internal/diagram"
	"github.com/rendis/simachine/internal/engine"
	"github.com/rendis/simachine/internal/logging"
	"github.com/rendis/simachine/internal/sandbox"
	"github.com/rendis/simachine/internal/store"
	"github.com/rendis/simachine/pkg/schema"
)

// Simulator owns one simulation tree built from an immutable diagram
// definition. Reset rebuilds the runtime from the same validated graph.
type Simulator struct {
	id    string
	name  string
	graph *diagram.Graph

	deps engine.Deps
	rec  *engine.Recorder
	root *engine.Machine
	seed map[string]any

	queries   *sandbox.QueryEngine
	logger    *slog.Logger
	traces    store.TraceStore
	initTrace []schema.LogEntry
}

// Option configures a Simulator at construction.
type Option func(*Simulator)

// WithHaltOnActionError makes any action failure (security blocks included)
// halt the machine until Reset. Conditions are unaffected; their failures
// are always soft.
func WithHaltOnActionError() Option {
	return func(s *Simulator) { s.deps.HaltOnActionError = true }
}

// WithInitialVariables seeds the top-level variable store before the initial
// entry action runs. Nested levels always start empty.
func WithInitialVariables(vars map[string]any) Option {
	return func(s *Simulator) { s.seed = sandbox.CopyVars(vars) }
}

// WithLogger sets the operational logger. Trace lines remain data returned
// from Step/Reset; the logger only mirrors them.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) { s.logger = logger }
}

// WithTraceStore persists every drained trace batch under this simulator's
// run ID. Persistence is best-effort observability: store failures are
// logged, never surfaced, and never change engine behavior.
func WithTraceStore(ts store.TraceStore) Option {
	return func(s *Simulator) { s.traces = ts }
}

// WithName attaches a human-readable name used in trace store records.
func WithName(name string) Option {
	return func(s *Simulator) { s.name = name }
}

// New validates the definition, builds the simulation tree, and runs the
// initial entry action. Any structural problem fails construction with a
// STRUCTURAL_ERROR; on success the instance is immediately steppable and
// InitialTrace holds the construction lines.
func New(def *schema.DiagramDef, opts ...Option) (*Simulator, error) {
	graph, err := diagram.Load(def)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		id:    uuid.New().String(),
		graph: graph,
		deps: engine.Deps{
			Actions:    sandbox.NewActionRunner(),
			Conditions: sandbox.NewConditionEngine(),
		},
		queries: sandbox.NewQueryEngine(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With(slog.String("machine_id", s.id))

	ctx := logging.WithMachineID(context.Background(), s.id)
	s.rec = engine.NewRecorder(s.logger)
	s.root = engine.New(ctx, s.graph, s.deps, s.rec, s.seed)
	s.initTrace = s.rec.Drain()

	if s.traces != nil {
		if err := s.traces.BeginRun(ctx, s.id, s.name); err != nil {
			s.logger.Error("trace store: begin run", slog.String("error", err.Error()))
		} else {
			s.persist(ctx, s.initTrace)
		}
	}
	return s, nil
}

// ID returns the simulator instance ID.
func (s *Simulator) ID() string { return s.id }

// InitialTrace returns the lines produced by construction (or the most
// recent reset's lines are returned by Reset itself).
func (s *Simulator) InitialTrace() []schema.LogEntry { return s.initTrace }

// Step runs one dispatch cycle. stimulus is the event name, or "" for an
// internal step. It returns the dotted active state path and the trace lines
// produced by this call only.
//
// A halted simulator fails with a HALTED error until Reset; introspection
// accessors stay usable throughout.
func (s *Simulator) Step(ctx context.Context, stimulus string) (string, []schema.LogEntry, error) {
	ctx = logging.WithMachineID(ctx, s.id)
	ctx = logging.WithState(ctx, s.root.CurrentStateName())
	if stimulus != "" {
		ctx = logging.WithEvent(ctx, stimulus)
	}

	if _, err := s.root.Step(ctx, stimulus); err != nil {
		return s.root.CurrentStateName(), nil, err
	}

	lines := s.rec.Drain()
	s.persist(ctx, lines)
	return s.root.CurrentStateName(), lines, nil
}

// Reset discards all runtime state (child machines included), rebuilds from
// the original immutable definitions, re-runs the initial entry action, and
// clears the halted flag. It returns the lines produced by the rebuild.
func (s *Simulator) Reset(ctx context.Context) ([]schema.LogEntry, error) {
	ctx = logging.WithMachineID(ctx, s.id)

	s.rec.Record(schema.SeverityInfo, "Resetting machine")
	s.root = engine.New(ctx, s.graph, s.deps, s.rec, s.seed)
	ctx = logging.WithState(ctx, s.root.CurrentStateName())

	lines := s.rec.Drain()
	s.persist(ctx, lines)
	return lines, nil
}

// CurrentStateName returns the active state path, dotted across nesting
// levels. Pure; safe while halted.
func (s *Simulator) CurrentStateName() string { return s.root.CurrentStateName() }

// Variables returns a deep-copied snapshot of the top-level variable store.
func (s *Simulator) Variables() map[string]any { return s.root.Variables() }

// PossibleEvents returns the sorted distinct event names currently
// dispatchable, unioned across the active state and any active sub-machine.
func (s *Simulator) PossibleEvents() []string { return s.root.PossibleEvents() }

// Halted reports whether the simulation is in its terminal failure mode.
func (s *Simulator) Halted() bool { return s.root.Halted() }

// InFinalState reports whether the top-level active state is final.
func (s *Simulator) InFinalState() bool { return s.root.ActiveIsFinal() }

// ActiveChild returns a read-only view of the nested engine owned by the
// active superstate, if one is active.
func (s *Simulator) ActiveChild() (Level, bool) {
	return wrapLevel(s.root.ActiveChild())
}

// Query evaluates a jq expression against a snapshot of the top-level
// variables. Read-only; the live store is never exposed.
func (s *Simulator) Query(ctx context.Context, expression string) (any, error) {
	return s.queries.Query(ctx, expression, s.root.Variables())
}

// Mermaid renders the diagram as a Mermaid statechart with the active leaf
// highlighted.
func (s *Simulator) Mermaid() string {
	return diagram.RenderMermaid(s.graph, strings.Split(s.root.CurrentStateName(), "."))
}

// DOT renders the diagram as Graphviz DOT text.
func (s *Simulator) DOT() string {
	return diagram.RenderDOT(s.graph, s.name)
}

func (s *Simulator) persist(ctx context.Context, lines []schema.LogEntry) {
	if s.traces == nil || len(lines) == 0 {
		return
	}
	if err := s.traces.AppendEntries(ctx, s.id, lines); err != nil {
		logging.LogWith(ctx, s.logger).Error("trace store: append entries",
			slog.String("error", err.Error()))
	}
}
