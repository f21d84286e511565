package sandbox

import (
	"context"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/simachine/pkg/schema"
)

// ActionRunner executes action scripts using expr-lang/expr.
//
// An action script is a sequence of statements separated by ";" or newlines.
// Each statement is either an assignment `name = expression` or a bare
// expression (evaluated, result discarded). The right-hand grammar is the
// screened Expr subset; assignment is the only write capability.
//
// Thread-safe: compiled *vm.Program objects are cached and reused.
type ActionRunner struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewActionRunner creates a new action script runner.
func NewActionRunner() *ActionRunner {
	return &ActionRunner{cache: make(map[string]*vm.Program)}
}

// RunAction screens and executes an action script against vars.
// All statements are screened before the first one executes, so a blocked
// script never mutates vars. Statements run against a working copy that is
// committed only when the whole script succeeds: a runtime fault midway
// leaves vars untouched.
func (r *ActionRunner) RunAction(ctx context.Context, code string, vars map[string]any) error {
	stmts, err := splitStatements(code)
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		return nil
	}

	if err := GuardVars(vars); err != nil {
		return err
	}
	for _, st := range stmts {
		if err := Screen(st.rhs); err != nil {
			return err
		}
	}

	work := CopyVars(vars)
	if work == nil {
		work = make(map[string]any)
	}
	for _, st := range stmts {
		if err := ctx.Err(); err != nil {
			return schema.NewError(schema.ErrCodeScriptRuntime, "action cancelled").WithCause(err)
		}
		out, err := r.eval(st.rhs, work)
		if err != nil {
			return err
		}
		if st.target != "" {
			work[st.target] = out
		}
	}

	for k := range vars {
		delete(vars, k)
	}
	for k, v := range work {
		vars[k] = v
	}
	return nil
}

func (r *ActionRunner) eval(rhs string, env map[string]any) (any, error) {
	prg, err := r.getOrCompile(rhs)
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScriptRuntime,
			"action evaluation failed for %q: %s", rhs, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": rhs})
	}
	return out, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (r *ActionRunner) getOrCompile(rhs string) (*vm.Program, error) {
	r.mu.RLock()
	if prg, ok := r.cache[rhs]; ok {
		r.mu.RUnlock()
		return prg, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := r.cache[rhs]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(rhs,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScriptSyntax,
			"action compile error in %q: %s", rhs, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": rhs})
	}

	r.cache[rhs] = prg
	return prg, nil
}

// statement is one parsed action statement. target is "" for bare expressions.
type statement struct {
	target string
	rhs    string
}

// splitStatements splits an action script on ";" and newlines outside string
// literals, then peels off an optional `ident =` assignment head per statement.
func splitStatements(code string) ([]statement, error) {
	var parts []string
	var b strings.Builder
	var quote rune
	escaped := false

	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			parts = append(parts, s)
		}
		b.Reset()
	}

	for _, c := range code {
		switch {
		case escaped:
			escaped = false
			b.WriteRune(c)
		case quote != 0:
			if c == '\\' {
				escaped = true
			} else if c == quote {
				quote = 0
			}
			b.WriteRune(c)
		case c == '\'' || c == '"':
			quote = c
			b.WriteRune(c)
		case c == ';' || c == '\n':
			flush()
		default:
			b.WriteRune(c)
		}
	}
	if quote != 0 {
		return nil, schema.NewErrorf(schema.ErrCodeScriptSyntax,
			"unterminated string literal in action script")
	}
	flush()

	stmts := make([]statement, 0, len(parts))
	for _, part := range parts {
		stmts = append(stmts, parseStatement(part))
	}
	return stmts, nil
}

// parseStatement recognizes `ident = rhs` where the "=" is a plain assignment,
// not part of ==, !=, <=, or >=. Anything else is a bare expression.
func parseStatement(s string) statement {
	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '=' {
			i++ // skip "=="
			continue
		}
		if i > 0 && (s[i-1] == '=' || s[i-1] == '!' || s[i-1] == '<' || s[i-1] == '>') {
			continue
		}
		lhs := strings.TrimSpace(s[:i])
		if isIdentifier(lhs) {
			return statement{target: lhs, rhs: strings.TrimSpace(s[i+1:])}
		}
		break
	}
	return statement{rhs: s}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

var _ ActionExecutor = (*ActionRunner)(nil)
