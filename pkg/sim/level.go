package sim

import "github.com/rendis/simachine/internal/engine"

// Level is a read-only view of one hierarchy level of a running simulation.
// The facade's own accessors cover the top level; Level lets hosts walk into
// active sub-machines (the "[SUB]" panes of a UI).
type Level interface {
	CurrentStateName() string
	Variables() map[string]any
	PossibleEvents() []string
	Halted() bool
	ActiveChild() (Level, bool)
}

type levelView struct {
	m *engine.Machine
}

func wrapLevel(m *engine.Machine) (Level, bool) {
	if m == nil {
		return nil, false
	}
	return levelView{m: m}, true
}

func (v levelView) CurrentStateName() string    { return v.m.CurrentStateName() }
func (v levelView) Variables() map[string]any   { return v.m.Variables() }
func (v levelView) PossibleEvents() []string    { return v.m.PossibleEvents() }
func (v levelView) Halted() bool                { return v.m.Halted() }
func (v levelView) ActiveChild() (Level, bool)  { return wrapLevel(v.m.ActiveChild()) }
