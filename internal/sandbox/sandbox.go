// Package sandbox executes user-authored statechart scripts against a flat
// variable namespace under a capability restriction.
//
// Three engines, one per script role: Expr (action statements, mutate vars),
// CEL (transition conditions, boolean), GoJQ (host-side snapshot queries).
// Every action and condition is statically screened before execution; a second
// dynamic guard classifies anything that escapes screening as a security
// violation rather than an ordinary runtime fault.
package sandbox

import "context"

// ConditionEvaluator evaluates a boolean guard expression against vars.
// Implementations must be deterministic and must not retain or mutate vars.
type ConditionEvaluator interface {
	EvalCondition(ctx context.Context, code string, vars map[string]any) (bool, error)
}

// ActionExecutor runs an action script, mutating vars in place on success.
// On any failure vars must be left exactly as they were.
type ActionExecutor interface {
	RunAction(ctx context.Context, code string, vars map[string]any) error
}

// SnapshotQuerier evaluates a read-only query over a variable snapshot.
type SnapshotQuerier interface {
	Query(ctx context.Context, expression string, vars map[string]any) (any, error)
}

// CopyVars returns a deep copy of a variable store. Engines hand copies to
// user code paths that must not observe later mutations, and the facade hands
// copies to hosts.
func CopyVars(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	cp := make(map[string]any, len(vars))
	for k, v := range vars {
		cp[k] = copyValue(v)
	}
	return cp
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyVars(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = copyValue(item)
		}
		return cp
	default:
		// Primitives (string, float64, int, bool, nil) are value types.
		return v
	}
}
