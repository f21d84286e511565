package sandbox

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/simachine/pkg/schema"
)

// ConditionEngine evaluates transition guard expressions using Google's
// Common Expression Language. Guards must produce a bool.
//
// The variable namespace is flat and differs per diagram, so environments are
// declared from the variable names present at evaluation time and cached per
// name set. Thread-safe: environments and compiled programs are cached and
// reused across goroutines.
type ConditionEngine struct {
	mu       sync.RWMutex
	envs     map[string]*cel.Env     // keyed by sorted variable-name signature
	programs map[string]cel.Program  // keyed by signature + expression
}

// NewConditionEngine creates a new CEL condition engine.
func NewConditionEngine() *ConditionEngine {
	return &ConditionEngine{
		envs:     make(map[string]*cel.Env),
		programs: make(map[string]cel.Program),
	}
}

// EvalCondition screens, compiles (or retrieves from cache), and evaluates a
// boolean condition against vars. vars is never mutated: the activation is a
// deep copy.
//
// Callers treat any returned error as "condition false, log the failure";
// condition failures never escalate.
func (e *ConditionEngine) EvalCondition(ctx context.Context, code string, vars map[string]any) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return true, nil
	}

	if err := Screen(code); err != nil {
		return false, err
	}
	if err := GuardVars(vars); err != nil {
		return false, err
	}

	sig := varSignature(vars)
	prg, err := e.getOrCompile(sig, code, vars)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(CopyVars(vars))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeScriptRuntime,
			"condition evaluation failed for %q: %s", code, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": code})
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeScriptRuntime,
			"condition %q produced %T, want bool", code, out.Value())
	}
	return result, nil
}

func (e *ConditionEngine) getOrCompile(sig, code string, vars map[string]any) (cel.Program, error) {
	key := sig + "\x00" + code

	e.mu.RLock()
	if prg, ok := e.programs[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.programs[key]; ok {
		return prg, nil
	}

	env, err := e.envForLocked(sig, vars)
	if err != nil {
		return nil, err
	}

	astOut, issues := env.Compile(code)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScriptSyntax,
			"condition compile error in %q: %s", code, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": code})
	}

	prg, err := env.Program(astOut)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScriptSyntax,
			"condition program error for %q: %s", code, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": code})
	}

	e.programs[key] = prg
	return prg, nil
}

// envForLocked returns the cached CEL environment for a variable-name
// signature, declaring each name as dyn. Caller holds the write lock.
func (e *ConditionEngine) envForLocked(sig string, vars map[string]any) (*cel.Env, error) {
	if env, ok := e.envs[sig]; ok {
		return env, nil
	}

	opts := make([]cel.EnvOption, 0, len(vars))
	for name := range vars {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScriptRuntime,
			"create condition environment: %s", err.Error()).WithCause(err)
	}

	e.envs[sig] = env
	return env, nil
}

// varSignature is the sorted, NUL-joined variable name set. Environments and
// programs are cached per signature so identical vars content always hits the
// same compiled program.
func varSignature(vars map[string]any) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\x00")
}

var _ ConditionEvaluator = (*ConditionEngine)(nil)
