package diagram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/simachine/pkg/schema"
)

func flatDef() *schema.DiagramDef {
	return &schema.DiagramDef{
		States: []schema.StateDef{
			{Name: "A", IsInitial: true},
			{Name: "B"},
			{Name: "C", IsFinal: true},
		},
		Transitions: []schema.TransitionDef{
			{Source: "A", Target: "B", Event: "go"},
			{Source: "A", Target: "C", Event: "skip"},
			{Source: "B", Target: "C"},
		},
	}
}

func TestLoadFlat(t *testing.T) {
	g, err := Load(flatDef())
	require.NoError(t, err)

	require.Len(t, g.States, 3)
	assert.Equal(t, "A", g.Initial.Def.Name)

	a, ok := g.State("A")
	require.True(t, ok)
	// Outgoing transitions keep declaration order.
	require.Len(t, a.Outgoing, 2)
	assert.Equal(t, "go", a.Outgoing[0].Event)
	assert.Equal(t, "skip", a.Outgoing[1].Event)

	_, ok = g.State("Z")
	assert.False(t, ok)
}

func TestLoadHierarchy(t *testing.T) {
	def := &schema.DiagramDef{
		States: []schema.StateDef{
			{Name: "Idle", IsInitial: true},
			{
				Name:         "Working",
				IsSuperstate: true,
				SubDiagram: &schema.DiagramDef{
					States: []schema.StateDef{
						{Name: "Heating", IsInitial: true},
						{Name: "Done", IsFinal: true},
					},
					Transitions: []schema.TransitionDef{
						{Source: "Heating", Target: "Done"},
					},
				},
			},
		},
		Transitions: []schema.TransitionDef{
			{Source: "Idle", Target: "Working", Event: "start"},
		},
	}

	g, err := Load(def)
	require.NoError(t, err)

	working, ok := g.State("Working")
	require.True(t, ok)
	require.NotNil(t, working.Sub)
	assert.Equal(t, "Heating", working.Sub.Initial.Def.Name)
}

func structuralError(t *testing.T, def *schema.DiagramDef) *schema.SimError {
	t.Helper()
	_, err := Load(def)
	require.Error(t, err)

	var simErr *schema.SimError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, schema.ErrCodeStructural, simErr.Code)
	return simErr
}

func TestLoadStructuralFailures(t *testing.T) {
	t.Run("nil definition", func(t *testing.T) {
		structuralError(t, nil)
	})

	t.Run("no states", func(t *testing.T) {
		structuralError(t, &schema.DiagramDef{})
	})

	t.Run("empty state name", func(t *testing.T) {
		structuralError(t, &schema.DiagramDef{
			States: []schema.StateDef{{Name: "", IsInitial: true}},
		})
	})

	t.Run("duplicate state names", func(t *testing.T) {
		structuralError(t, &schema.DiagramDef{
			States: []schema.StateDef{
				{Name: "A", IsInitial: true},
				{Name: "A"},
			},
		})
	})

	t.Run("no initial state", func(t *testing.T) {
		structuralError(t, &schema.DiagramDef{
			States: []schema.StateDef{{Name: "A"}},
		})
	})

	t.Run("multiple initial states", func(t *testing.T) {
		structuralError(t, &schema.DiagramDef{
			States: []schema.StateDef{
				{Name: "A", IsInitial: true},
				{Name: "B", IsInitial: true},
			},
		})
	})

	t.Run("dangling transition source", func(t *testing.T) {
		structuralError(t, &schema.DiagramDef{
			States:      []schema.StateDef{{Name: "A", IsInitial: true}},
			Transitions: []schema.TransitionDef{{Source: "X", Target: "A"}},
		})
	})

	t.Run("dangling transition target", func(t *testing.T) {
		structuralError(t, &schema.DiagramDef{
			States:      []schema.StateDef{{Name: "A", IsInitial: true}},
			Transitions: []schema.TransitionDef{{Source: "A", Target: "X"}},
		})
	})

	t.Run("sub-diagram on plain state", func(t *testing.T) {
		structuralError(t, &schema.DiagramDef{
			States: []schema.StateDef{
				{
					Name:      "A",
					IsInitial: true,
					SubDiagram: &schema.DiagramDef{
						States: []schema.StateDef{{Name: "X", IsInitial: true}},
					},
				},
			},
		})
	})
}

func TestLoadNestedFailureCarriesPath(t *testing.T) {
	def := &schema.DiagramDef{
		States: []schema.StateDef{
			{Name: "Outer", IsInitial: true, IsSuperstate: true,
				SubDiagram: &schema.DiagramDef{
					States: []schema.StateDef{
						{Name: "Inner", IsInitial: true, IsSuperstate: true,
							SubDiagram: &schema.DiagramDef{
								States: []schema.StateDef{{Name: "Leaf"}},
							},
						},
					},
				},
			},
		},
	}

	simErr := structuralError(t, def)
	assert.Equal(t, "Outer.Inner", simErr.StatePath)
}

func TestLoadSuperstateWithoutSubDiagram(t *testing.T) {
	structuralError(t, &schema.DiagramDef{
		States: []schema.StateDef{
			{Name: "A", IsInitial: true, IsSuperstate: true},
		},
	})
}
