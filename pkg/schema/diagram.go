package schema

// DiagramDef is the JSON-serializable statechart format for one hierarchy level.
// Hosts provide it inline (CLI, MCP machine.load) or from a saved diagram file.
// Declaration order of states and transitions is significant: the first eligible
// transition in declaration order fires.
type DiagramDef struct {
	States      []StateDef      `json:"states"`
	Transitions []TransitionDef `json:"transitions,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// StateDef describes a single state. A superstate carries its own nested
// DiagramDef, recursively the same schema.
type StateDef struct {
	Name         string      `json:"name"`
	IsInitial    bool        `json:"is_initial,omitempty"`
	IsFinal      bool        `json:"is_final,omitempty"`
	EntryAction  string      `json:"entry_action,omitempty"`
	DuringAction string      `json:"during_action,omitempty"`
	ExitAction   string      `json:"exit_action,omitempty"`
	IsSuperstate bool        `json:"is_superstate,omitempty"`
	SubDiagram   *DiagramDef `json:"sub_diagram,omitempty"`
}

// TransitionDef describes a directed transition between two states at the
// same hierarchy level.
//
// An empty Event makes the transition eligible on every step, not just on a
// named event. An empty Condition is vacuously true.
type TransitionDef struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Event     string `json:"event,omitempty"`
	Condition string `json:"condition,omitempty"`
	Action    string `json:"action,omitempty"`
}
