package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/simachine/internal/logging"
	"github.com/rendis/simachine/internal/store"
	"github.com/rendis/simachine/pkg/schema"
)

// ctxCapturingStore records the contexts handed to the persistence boundary
// so correlation wiring can be asserted.
type ctxCapturingStore struct {
	appendCtxs []context.Context
}

func (c *ctxCapturingStore) BeginRun(ctx context.Context, runID, name string) error { return nil }

func (c *ctxCapturingStore) AppendEntries(ctx context.Context, runID string, entries []schema.LogEntry) error {
	c.appendCtxs = append(c.appendCtxs, ctx)
	return nil
}

func (c *ctxCapturingStore) ListEntries(ctx context.Context, runID string) ([]store.TraceRow, error) {
	return nil, nil
}

func (c *ctxCapturingStore) ListRuns(ctx context.Context) ([]store.Run, error) { return nil, nil }

func (c *ctxCapturingStore) Close() error { return nil }

func counterDef() *schema.DiagramDef {
	return &schema.DiagramDef{
		States: []schema.StateDef{
			{Name: "A", IsInitial: true},
			{Name: "B", IsFinal: true, EntryAction: "done = true"},
		},
		Transitions: []schema.TransitionDef{
			{Source: "A", Target: "B", Event: "go", Condition: "x > 0", Action: "x = x - 1"},
		},
	}
}

func TestNewSimulator(t *testing.T) {
	s, err := New(counterDef(), WithInitialVariables(map[string]any{"x": 2}))
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "A", s.CurrentStateName())
	assert.EqualValues(t, 2, s.Variables()["x"])
	assert.False(t, s.Halted())
	assert.False(t, s.InFinalState())
	assert.NotEmpty(t, s.InitialTrace())
}

func TestNewSimulatorStructuralError(t *testing.T) {
	_, err := New(&schema.DiagramDef{
		States: []schema.StateDef{{Name: "A"}},
	})
	require.Error(t, err)

	var simErr *schema.SimError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, schema.ErrCodeStructural, simErr.Code)
}

func TestStepAndTrace(t *testing.T) {
	s, err := New(counterDef(), WithInitialVariables(map[string]any{"x": 1}))
	require.NoError(t, err)

	state, lines, err := s.Step(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "B", state)
	assert.NotEmpty(t, lines)
	assert.True(t, s.InFinalState())
	assert.EqualValues(t, 0, s.Variables()["x"])
	assert.Equal(t, true, s.Variables()["done"])

	// Each call drains only its own lines.
	_, lines2, err := s.Step(context.Background(), "")
	require.NoError(t, err)
	for _, l := range lines2 {
		assert.NotContains(t, l.Text, "Transitioned")
	}
}

func TestResetRestoresSeed(t *testing.T) {
	s, err := New(counterDef(), WithInitialVariables(map[string]any{"x": 1}))
	require.NoError(t, err)

	_, _, err = s.Step(context.Background(), "go")
	require.NoError(t, err)
	require.Equal(t, "B", s.CurrentStateName())

	lines, err := s.Reset(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, lines)
	assert.Equal(t, "A", s.CurrentStateName())
	assert.EqualValues(t, 1, s.Variables()["x"])
	assert.False(t, s.Halted())
	assert.NotContains(t, s.Variables(), "done")
}

func TestResetClearsHalt(t *testing.T) {
	def := &schema.DiagramDef{
		States: []schema.StateDef{
			{Name: "A", IsInitial: true, DuringAction: "y = missing + 1"},
		},
	}
	s, err := New(def, WithHaltOnActionError())
	require.NoError(t, err)

	_, _, err = s.Step(context.Background(), "")
	require.NoError(t, err)
	require.True(t, s.Halted())

	_, _, err = s.Step(context.Background(), "")
	require.Error(t, err)

	_, err = s.Reset(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Halted())

	_, _, err = s.Step(context.Background(), "")
	require.NoError(t, err)
}

func TestPossibleEventsAndQuery(t *testing.T) {
	s, err := New(counterDef(), WithInitialVariables(map[string]any{"x": 3}))
	require.NoError(t, err)

	assert.Equal(t, []string{"go"}, s.PossibleEvents())

	out, err := s.Query(context.Background(), ".x")
	require.NoError(t, err)
	assert.Equal(t, float64(3), out)
}

func TestActiveChildView(t *testing.T) {
	def := &schema.DiagramDef{
		States: []schema.StateDef{
			{
				Name: "Outer", IsInitial: true, IsSuperstate: true,
				SubDiagram: &schema.DiagramDef{
					States: []schema.StateDef{
						{Name: "Inner", IsInitial: true, EntryAction: "n = 1"},
					},
					Transitions: []schema.TransitionDef{
						{Source: "Inner", Target: "Inner", Event: "again"},
					},
				},
			},
		},
	}
	s, err := New(def)
	require.NoError(t, err)

	assert.Equal(t, "Outer.Inner", s.CurrentStateName())

	child, ok := s.ActiveChild()
	require.True(t, ok)
	assert.Equal(t, "Inner", child.CurrentStateName())
	assert.EqualValues(t, 1, child.Variables()["n"])
	assert.Equal(t, []string{"again"}, child.PossibleEvents())
	assert.False(t, child.Halted())

	_, ok = child.ActiveChild()
	assert.False(t, ok)

	assert.Contains(t, s.Mermaid(), "class Outer_Inner active")
}

func TestRenderers(t *testing.T) {
	s, err := New(counterDef(), WithName("counter"))
	require.NoError(t, err)

	assert.Contains(t, s.Mermaid(), "stateDiagram-v2")
	assert.Contains(t, s.Mermaid(), "class A active")
	assert.Contains(t, s.DOT(), "digraph statechart")
	assert.Contains(t, s.DOT(), `label="counter";`)
}

func TestStepCorrelationContext(t *testing.T) {
	ts := &ctxCapturingStore{}
	s, err := New(counterDef(),
		WithInitialVariables(map[string]any{"x": 1}),
		WithTraceStore(ts))
	require.NoError(t, err)
	ts.appendCtxs = nil

	_, _, err = s.Step(context.Background(), "go")
	require.NoError(t, err)
	require.Len(t, ts.appendCtxs, 1)

	ctx := ts.appendCtxs[0]
	assert.Equal(t, s.ID(), logging.MachineID(ctx))

	// The state key carries the active path at dispatch time.
	assert.Equal(t, "A", logging.State(ctx))
	assert.Equal(t, "go", logging.Event(ctx))

	ts.appendCtxs = nil
	_, err = s.Reset(context.Background())
	require.NoError(t, err)
	require.Len(t, ts.appendCtxs, 1)
	assert.Equal(t, "A", logging.State(ts.appendCtxs[0]))
}

func TestSeedIsCopied(t *testing.T) {
	seed := map[string]any{"x": 1}
	s, err := New(counterDef(), WithInitialVariables(seed))
	require.NoError(t, err)

	seed["x"] = 99
	assert.EqualValues(t, 1, s.Variables()["x"])
}
