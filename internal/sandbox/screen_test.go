package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/simachine/pkg/schema"
)

func TestScreenAllows(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"arithmetic", "x + y * 2 - 1"},
		{"comparison", "x > 0 && y <= 10"},
		{"equality", "state == 'ready' || done != true"},
		{"unary", "-x + !done"},
		{"conditional", "x > 0 ? x : 0"},
		{"builtin abs", "abs(x - y)"},
		{"builtin numeric", "floor(x) + ceil(y) + round(z)"},
		{"builtin conversions", "int(x) + float(y)"},
		{"builtin string", "string(x)"},
		{"builtin len", "len(items) > 0"},
		{"builtin aggregate", "min(a, b) + max(a, b)"},
		{"array literal", "[1, 2, 3]"},
		{"map literal", "{'a': 1, 'b': 2}"},
		{"nil literal", "x == nil"},
		{"modulo", "x % 2 == 0"},
		{"string concat", "'pre' + suffix"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, Screen(tc.code))
		})
	}
}

func TestScreenBlocks(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"member access", "x.foo"},
		{"method call", "x.Close()"},
		{"optional chain", "x?.foo"},
		{"slice", "items[1:3]"},
		{"closure map", "map(items, # * 2)"},
		{"closure filter", "filter(items, # > 0)"},
		{"unknown call", "open('/etc/passwd')"},
		{"matches operator", "x matches '^a.*'"},
		{"let binding", "let y = 1; y + 1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Screen(tc.code)
			require.Error(t, err)

			var simErr *schema.SimError
			require.True(t, errors.As(err, &simErr))
			assert.Equal(t, schema.ErrCodeSecurityViolation, simErr.Code)
		})
	}
}

func TestScreenSyntaxError(t *testing.T) {
	err := Screen("x +")
	require.Error(t, err)

	var simErr *schema.SimError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, schema.ErrCodeScriptSyntax, simErr.Code)
}

func TestGuardVars(t *testing.T) {
	ok := map[string]any{
		"n":      42,
		"f":      3.14,
		"s":      "text",
		"b":      true,
		"null":   nil,
		"nested": map[string]any{"deep": []any{1, "two", map[string]any{"x": 3}}},
	}
	assert.NoError(t, GuardVars(ok))

	tests := []struct {
		name string
		vars map[string]any
	}{
		{"func", map[string]any{"fn": func() {}}},
		{"chan", map[string]any{"ch": make(chan int)}},
		{"pointer", map[string]any{"p": &struct{}{}}},
		{"typed map", map[string]any{"m": map[int]string{1: "a"}}},
		{"typed slice", map[string]any{"s": []int{1, 2}}},
		{"nested func", map[string]any{"outer": map[string]any{"fn": func() {}}}},
		{"func in slice", map[string]any{"items": []any{1, func() {}}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := GuardVars(tc.vars)
			require.Error(t, err)

			var simErr *schema.SimError
			require.True(t, errors.As(err, &simErr))
			assert.Equal(t, schema.ErrCodeSecurityViolation, simErr.Code)
		})
	}
}

func TestCopyVarsIsDeep(t *testing.T) {
	original := map[string]any{
		"n":      1,
		"nested": map[string]any{"list": []any{1, 2}},
	}

	cp := CopyVars(original)
	cp["n"] = 99
	cp["nested"].(map[string]any)["list"].([]any)[0] = 99

	assert.Equal(t, 1, original["n"])
	assert.Equal(t, 1, original["nested"].(map[string]any)["list"].([]any)[0])

	assert.Nil(t, CopyVars(nil))
}
