package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/simachine/pkg/schema"
)

func TestEvalCondition(t *testing.T) {
	e := NewConditionEngine()
	vars := map[string]any{"x": 5, "name": "ready", "done": false}

	tests := []struct {
		name string
		code string
		want bool
	}{
		{"empty is true", "", true},
		{"whitespace is true", "   ", true},
		{"comparison true", "x > 0", true},
		{"comparison false", "x > 10", false},
		{"string equality", "name == 'ready'", true},
		{"boolean var", "!done", true},
		{"conjunction", "x > 0 && name == 'ready'", true},
		{"arithmetic", "x * 2 == 10", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.EvalCondition(context.Background(), tc.code, vars)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalConditionDoesNotMutateVars(t *testing.T) {
	e := NewConditionEngine()
	vars := map[string]any{"x": 5}

	_, err := e.EvalCondition(context.Background(), "x > 0", vars)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 5}, vars)
}

func TestEvalConditionNonBoolResult(t *testing.T) {
	e := NewConditionEngine()

	ok, err := e.EvalCondition(context.Background(), "x + 1", map[string]any{"x": 1})
	require.Error(t, err)
	assert.False(t, ok)

	var simErr *schema.SimError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, schema.ErrCodeScriptRuntime, simErr.Code)
}

func TestEvalConditionUndeclaredVariable(t *testing.T) {
	e := NewConditionEngine()

	// The environment is built from the names present in vars, so a guard
	// over an absent name fails to compile and reads as false.
	ok, err := e.EvalCondition(context.Background(), "missing == true", map[string]any{"x": 1})
	require.Error(t, err)
	assert.False(t, ok)

	var simErr *schema.SimError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, schema.ErrCodeScriptSyntax, simErr.Code)
}

func TestEvalConditionSecurityScreen(t *testing.T) {
	e := NewConditionEngine()

	ok, err := e.EvalCondition(context.Background(), "x.size() > 0", map[string]any{"x": []any{1}})
	require.Error(t, err)
	assert.False(t, ok)

	var simErr *schema.SimError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, schema.ErrCodeSecurityViolation, simErr.Code)
}

func TestEvalConditionEnvCachePerSignature(t *testing.T) {
	e := NewConditionEngine()

	_, err := e.EvalCondition(context.Background(), "x > 0", map[string]any{"x": 1})
	require.NoError(t, err)
	_, err = e.EvalCondition(context.Background(), "x > 0", map[string]any{"x": 2})
	require.NoError(t, err)
	_, err = e.EvalCondition(context.Background(), "x > 0", map[string]any{"x": 1, "y": 2})
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	// One env per distinct name set, one program per env and expression.
	assert.Len(t, e.envs, 2)
	assert.Len(t, e.programs, 2)
}

func TestVarSignatureIsOrderIndependent(t *testing.T) {
	a := varSignature(map[string]any{"x": 1, "y": 2, "z": 3})
	b := varSignature(map[string]any{"z": 0, "y": 0, "x": 0})
	assert.Equal(t, a, b)
}
