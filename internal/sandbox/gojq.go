package sandbox

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/simachine/pkg/schema"
)

// QueryEngine evaluates jq expressions over variable snapshots. Hosts use it
// for read-only inspection of a running simulation (CLI `inspect`, MCP
// machine.inspect); the engine itself never consults it.
// Thread-safe: compiled *gojq.Code objects are cached and reused.
type QueryEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewQueryEngine creates a new jq snapshot query engine.
func NewQueryEngine() *QueryEngine {
	return &QueryEngine{cache: make(map[string]*gojq.Code)}
}

// Query compiles (or retrieves from cache) a jq expression and runs it against
// a deep copy of vars, so queries cannot mutate live simulation state.
//
// jq expressions can produce multiple outputs. A single output is returned
// directly; multiple outputs are collected into a []any.
func (e *QueryEngine) Query(ctx context.Context, expression string, vars map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	input := CopyVars(vars)
	if input == nil {
		input = map[string]any{}
	}
	iter := code.RunWithContext(ctx, normalizeForJQ(input))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeScriptRuntime,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// getOrCompile returns a cached compiled query or compiles and caches a new one.
func (e *QueryEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScriptSyntax,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScriptSyntax,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts values gojq does not accept natively (Go int) into
// jq-compatible representations.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForJQ(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ SnapshotQuerier = (*QueryEngine)(nil)
