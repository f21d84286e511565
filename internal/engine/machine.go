// Package engine interprets a validated statechart graph: it owns the active
// state at one hierarchy level, resolves transition eligibility, runs the
// sandboxed entry/during/exit/transition scripts, and owns a nested Machine
// while the active state is a superstate.
package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/rendis/simachine/internal/diagram"
	"github.com/rendis/simachine/internal/sandbox"
	"github.com/rendis/simachine/pkg/schema"
)

// Deps carries the collaborators a Machine needs. The same Deps value is
// shared by every level of one simulation tree; each level derives its own
// Recorder view.
type Deps struct {
	Actions           sandbox.ActionExecutor
	Conditions        sandbox.ConditionEvaluator
	HaltOnActionError bool
}

// Machine is the runtime of one hierarchy level: the active state marker,
// the level's variable store, and at most one child Machine while the active
// state is a superstate. It is created at construction (and recursively on
// superstate entry) and discarded wholesale on reset or superstate exit.
type Machine struct {
	graph *diagram.Graph
	deps  Deps
	rec   *Recorder

	active *diagram.StateNode
	vars   map[string]any
	child  *Machine
	halted bool
}

// New builds the runtime for a validated graph and immediately activates the
// level's initial state, running its entry action (and, for a superstate,
// spawning its sub-machine). seed, when non-nil, pre-populates this level's
// variable store before the initial entry action runs; nested levels always
// start empty. A failing entry action follows the normal action failure
// rules: the machine may come back already halted, but construction itself
// cannot fail; structural problems were ruled out by the loader.
func New(ctx context.Context, graph *diagram.Graph, deps Deps, rec *Recorder, seed map[string]any) *Machine {
	vars := sandbox.CopyVars(seed)
	if vars == nil {
		vars = make(map[string]any)
	}
	m := &Machine{
		graph: graph,
		deps:  deps,
		rec:   rec,
		vars:  vars,
	}
	m.enter(ctx, graph.Initial)
	return m
}

// Step runs one dispatch cycle. stimulus is the event name, or "" for an
// internal step eligible only for event-less transitions.
//
// Order within one step: the active state's during action always runs first;
// the stimulus is then offered to the active child machine, and only if the
// child did not fire is it offered to this level's own transitions (bubbling;
// the child wins when both layers are eligible). fired reports whether any
// level fired a transition.
//
// A halted machine refuses to step with a HALTED error until it is rebuilt.
// Action failures during the step never surface as errors; they are reported
// as trace entries and, depending on configuration, halt the machine.
func (m *Machine) Step(ctx context.Context, stimulus string) (fired bool, err error) {
	if m.halted {
		return false, schema.NewError(schema.ErrCodeHalted,
			"simulation halted; reset required").WithState(m.CurrentStateName())
	}

	if during := m.active.Def.DuringAction; during != "" {
		m.rec.Record(schema.SeverityDebug, "Running during action of state '%s'", m.active.Def.Name)
		m.runAction(ctx, during, "during action", m.active.Def.Name)
		if m.halted {
			return false, nil
		}
	}

	if m.child != nil {
		childFired, childErr := m.child.Step(ctx, stimulus)
		if childErr != nil {
			// The child refuses to step only when halted, and halts propagate
			// upward the moment they happen, so this is unreachable in
			// practice; surface it rather than swallow it.
			return false, childErr
		}
		if m.child.halted {
			m.propagateChildHalt()
			return false, nil
		}
		if m.child.active.Def.IsFinal {
			m.promoteSubCompleted()
		}
		if childFired {
			return true, nil
		}
	}

	if t, ok := m.selectTransition(ctx, stimulus); ok {
		m.fire(ctx, t)
		return true, nil
	}

	switch {
	case stimulus == "":
		m.rec.Record(schema.SeverityDebug,
			"No event; state '%s' unchanged", m.active.Def.Name)
	case !m.eventKnown(stimulus):
		m.rec.Record(schema.SeverityWarn,
			"Event '%s' is not allowed in state '%s'; no eligible transition", stimulus, m.active.Def.Name)
	default:
		m.rec.Record(schema.SeverityInfo,
			"No eligible transition for event '%s' from state '%s'", stimulus, m.active.Def.Name)
	}
	return false, nil
}

// selectTransition builds the candidate set from the active state's outgoing
// transitions and picks the first eligible one in declaration order. A failing
// condition is treated as false and logged; it never escalates.
func (m *Machine) selectTransition(ctx context.Context, stimulus string) (schema.TransitionDef, bool) {
	for _, t := range m.active.Outgoing {
		if t.Event != "" && t.Event != stimulus {
			continue
		}
		if t.Condition != "" {
			ok, err := m.deps.Conditions.EvalCondition(ctx, t.Condition, m.vars)
			if err != nil {
				m.recordScriptFailure(err, "Condition", t.Condition, m.active.Def.Name)
				continue
			}
			if !ok {
				continue
			}
		}
		return t, true
	}
	return schema.TransitionDef{}, false
}

// fire executes one transition: exit the source (tearing down any
// sub-machine), run the transition action, move the active marker, and enter
// the target (spawning a sub-machine for a superstate). Each script is
// independently sandboxed; a halt aborts the remaining sub-steps, leaving the
// machine queryable at the point it stopped.
func (m *Machine) fire(ctx context.Context, t schema.TransitionDef) {
	source := m.active
	target, _ := m.graph.State(t.Target)

	m.exit(ctx, source)
	if m.halted {
		return
	}

	m.rec.Record(schema.SeverityInfo, "Transitioned from %s to %s", t.Source, t.Target)
	if t.Action != "" {
		m.runAction(ctx, t.Action, "transition action", source.Def.Name)
		if m.halted {
			return
		}
	}

	m.enter(ctx, target)
}

// enter activates a state: logs the entry, runs the entry action, and spawns
// the sub-machine when the state is a superstate. The sub-machine initializes
// its own initial state immediately, mirroring top-level construction.
func (m *Machine) enter(ctx context.Context, node *diagram.StateNode) {
	m.active = node
	m.rec.Record(schema.SeverityInfo, "Entering state %s", node.Def.Name)

	if entry := node.Def.EntryAction; entry != "" {
		m.runAction(ctx, entry, "entry action", node.Def.Name)
		if m.halted {
			return
		}
	}

	if node.Sub != nil {
		m.rec.Record(schema.SeverityInfo,
			"Superstate '%s' entered; initializing its sub-machine", node.Def.Name)
		m.child = New(ctx, node.Sub, m.deps, m.rec.Child(), nil)
		if m.child.halted {
			m.propagateChildHalt()
		}
	}
}

// exit deactivates the current state: the sub-machine (if any) is discarded
// first, then the exit action runs. The child's variable store dies with it;
// nothing is merged into this level.
func (m *Machine) exit(ctx context.Context, node *diagram.StateNode) {
	if m.child != nil {
		m.rec.Record(schema.SeverityInfo,
			"Superstate '%s' exited; terminating its sub-machine", node.Def.Name)
		m.child = nil
	}

	m.rec.Record(schema.SeverityInfo, "Exiting state %s", node.Def.Name)
	if exit := node.Def.ExitAction; exit != "" {
		m.runAction(ctx, exit, "exit action", node.Def.Name)
	}
}

// runAction executes one sandboxed action script against the level's variable
// store, classifying and recording failures. With halt-on-error configured,
// any action failure, security blocks included, halts the machine.
func (m *Machine) runAction(ctx context.Context, code, kind, stateName string) {
	err := m.deps.Actions.RunAction(ctx, code, m.vars)
	if err == nil {
		return
	}

	m.recordScriptFailure(err, kind, code, stateName)
	if m.deps.HaltOnActionError {
		m.halted = true
		m.rec.Record(schema.SeverityWarn,
			"Simulation halted by failed %s in state '%s'", kind, stateName)
	}
}

// recordScriptFailure emits the trace entry for a failed script, using the
// security severity for safety-screen blocks and dynamic guard violations.
func (m *Machine) recordScriptFailure(err error, kind, code, stateName string) {
	var simErr *schema.SimError
	if errors.As(err, &simErr) && simErr.Code == schema.ErrCodeSecurityViolation {
		m.rec.Record(schema.SeveritySecurity,
			"%s blocked by safety screen in state '%s': %s", kind, stateName, simErr.Message)
		return
	}
	m.rec.Record(schema.SeverityError,
		"%s failed in state '%s' (code: '%s'): %v", kind, stateName, code, err)
}

func (m *Machine) propagateChildHalt() {
	m.halted = true
	m.rec.Record(schema.SeverityWarn,
		"Halted: sub-machine of superstate '%s' halted", m.active.Def.Name)
}

// promoteSubCompleted flags sub-machine completion in this level's variable
// store. This is the single sanctioned piece of cross-level variable traffic:
// transitions out of the superstate can condition on '<name>_sub_completed'.
func (m *Machine) promoteSubCompleted() {
	key := m.active.Def.Name + "_sub_completed"
	if done, _ := m.vars[key].(bool); done {
		return
	}
	m.vars[key] = true
	m.rec.Record(schema.SeverityInfo,
		"Sub-machine of '%s' reached final state '%s'; variable '%s' set",
		m.active.Def.Name, m.child.active.Def.Name, key)
}

// eventKnown reports whether name is in the current possible-event set,
// unioned across this level and the active child.
func (m *Machine) eventKnown(name string) bool {
	for _, t := range m.active.Outgoing {
		if t.Event == name {
			return true
		}
	}
	if m.child != nil {
		return m.child.eventKnown(name)
	}
	return false
}

// CurrentStateName returns the active state path, dotted across nesting
// levels while a superstate is active.
func (m *Machine) CurrentStateName() string {
	if m.child != nil {
		return m.active.Def.Name + "." + m.child.CurrentStateName()
	}
	return m.active.Def.Name
}

// PossibleEvents returns the sorted distinct non-empty event names reachable
// from the active state, unioned with the active child machine's own set.
func (m *Machine) PossibleEvents() []string {
	set := make(map[string]struct{})
	m.collectEvents(set)

	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Machine) collectEvents(set map[string]struct{}) {
	for _, t := range m.active.Outgoing {
		if t.Event != "" {
			set[t.Event] = struct{}{}
		}
	}
	if m.child != nil {
		m.child.collectEvents(set)
	}
}

// Variables returns a deep-copied snapshot of this level's variable store.
// Safe to call while halted.
func (m *Machine) Variables() map[string]any {
	snap := sandbox.CopyVars(m.vars)
	if snap == nil {
		snap = map[string]any{}
	}
	return snap
}

// Halted reports whether this machine has entered its terminal failure mode.
func (m *Machine) Halted() bool { return m.halted }

// ActiveChild returns the nested machine owned by the active superstate, or
// nil when the active state is a plain state.
func (m *Machine) ActiveChild() *Machine { return m.child }

// ActiveIsFinal reports whether the active state at this level is final.
func (m *Machine) ActiveIsFinal() bool { return m.active.Def.IsFinal }
