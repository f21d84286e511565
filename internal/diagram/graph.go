// Package diagram turns raw state/transition records into a validated,
// immutable statechart graph, and renders graphs for host display.
package diagram

import (
	"fmt"

	"github.com/rendis/simachine/pkg/schema"
)

// Graph is the validated, runnable form of one hierarchy level. It is
// immutable after Load and shared by every runtime instance built from it,
// including across resets.
type Graph struct {
	// States in declaration order. Order is the transition tie-break.
	States  []*StateNode
	Initial *StateNode

	byName map[string]*StateNode
}

// StateNode is one validated state plus its outgoing transitions in
// declaration order, and, for superstates, the validated sub-graph.
type StateNode struct {
	Def      schema.StateDef
	Outgoing []schema.TransitionDef
	Sub      *Graph
}

// State resolves a state by name at this level.
func (g *Graph) State(name string) (*StateNode, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Load validates a diagram definition and builds the graph, recursing into
// every superstate's sub-diagram with the same rules. Construction is
// all-or-nothing: any structural failure yields no graph.
//
// Structural rules per level: at least one state, exactly one initial state,
// unique state names, and every transition endpoint resolving to a state at
// the same level.
func Load(def *schema.DiagramDef) (*Graph, error) {
	return load(def, "")
}

func load(def *schema.DiagramDef, path string) (*Graph, error) {
	if def == nil || len(def.States) == 0 {
		return nil, schema.NewError(schema.ErrCodeStructural, "no states defined").WithState(path)
	}

	g := &Graph{
		States: make([]*StateNode, 0, len(def.States)),
		byName: make(map[string]*StateNode, len(def.States)),
	}

	for _, sd := range def.States {
		if sd.Name == "" {
			return nil, schema.NewError(schema.ErrCodeStructural, "state with empty name").WithState(path)
		}
		if _, dup := g.byName[sd.Name]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeStructural,
				"duplicate state name %q", sd.Name).WithState(path)
		}

		node := &StateNode{Def: sd}
		if sd.IsInitial {
			if g.Initial != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStructural,
					"multiple initial states: %q and %q", g.Initial.Def.Name, sd.Name).WithState(path)
			}
			g.Initial = node
		}

		if sd.IsSuperstate {
			sub, err := load(sd.SubDiagram, childPath(path, sd.Name))
			if err != nil {
				return nil, err
			}
			node.Sub = sub
		} else if sd.SubDiagram != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStructural,
				"state %q has a sub-diagram but is not a superstate", sd.Name).WithState(path)
		}

		g.States = append(g.States, node)
		g.byName[sd.Name] = node
	}

	if g.Initial == nil {
		return nil, schema.NewError(schema.ErrCodeStructural, "no initial state defined").WithState(path)
	}

	for i, td := range def.Transitions {
		src, ok := g.byName[td.Source]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeStructural,
				"transition %d: source %q does not resolve", i, td.Source).WithState(path)
		}
		if _, ok := g.byName[td.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeStructural,
				"transition %d: target %q does not resolve", i, td.Target).WithState(path)
		}
		src.Outgoing = append(src.Outgoing, td)
	}

	return g, nil
}

func childPath(path, name string) string {
	if path == "" {
		return name
	}
	return fmt.Sprintf("%s.%s", path, name)
}
