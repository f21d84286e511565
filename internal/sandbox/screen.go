package sandbox

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/rendis/simachine/pkg/schema"
)

// allowedBuiltins is the only set of callables user scripts may invoke.
// Everything here is pure and operates on the value it is given.
var allowedBuiltins = map[string]bool{
	"abs":    true,
	"ceil":   true,
	"floor":  true,
	"round":  true,
	"int":    true,
	"float":  true,
	"string": true,
	"len":    true,
	"min":    true,
	"max":    true,
	"sum":    true,
}

// blockedOperators are binary operators excluded from the allow-list.
// "matches" compiles user input into a regular expression, which is an
// execution capability rather than a comparison.
var blockedOperators = map[string]bool{
	"matches": true,
}

// Screen statically checks a script expression against the capability
// allow-list: arithmetic, comparisons, boolean logic, literals, variable
// reads, and the pure builtins above. Anything else (member access,
// closures, ranges, calls to non-builtins) is rejected with a
// SECURITY_VIOLATION before any execution happens.
//
// Screen parses with the Expr grammar; both action statements and CEL
// conditions share the arithmetic/comparison core, so one screen covers both.
func Screen(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	tree, err := parser.Parse(code)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeScriptSyntax,
			"cannot parse %q: %s", code, err.Error()).WithCause(err)
	}

	v := &screenVisitor{}
	ast.Walk(&tree.Node, v)
	if len(v.violations) > 0 {
		return schema.NewErrorf(schema.ErrCodeSecurityViolation,
			"code blocked by safety screen: %s", strings.Join(v.violations, "; ")).
			WithDetails(map[string]any{"code": code})
	}
	return nil
}

type screenVisitor struct {
	violations []string
}

func (v *screenVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode,
		*ast.StringNode, *ast.NilNode, *ast.ConstantNode, *ast.ConditionalNode,
		*ast.ArrayNode, *ast.MapNode, *ast.PairNode, *ast.UnaryNode:
		// value-level constructs: allowed

	case *ast.BinaryNode:
		if blockedOperators[n.Operator] {
			v.add(fmt.Sprintf("operator %q is not allowed", n.Operator))
		}

	case *ast.CallNode:
		ident, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			v.add("only direct calls to allow-listed builtins are permitted")
		} else if !allowedBuiltins[ident.Value] {
			v.add(fmt.Sprintf("calling %q is not allowed", ident.Value))
		}

	case *ast.BuiltinNode:
		if !allowedBuiltins[n.Name] {
			v.add(fmt.Sprintf("builtin %q is not allowed", n.Name))
		}

	case *ast.MemberNode, *ast.ChainNode:
		v.add("attribute and member access is not allowed")

	case *ast.SliceNode:
		v.add("slicing is not allowed")

	case *ast.PredicateNode, *ast.PointerNode:
		v.add("closures are not allowed")

	case *ast.VariableDeclaratorNode:
		v.add("let bindings are not allowed")

	default:
		v.add(fmt.Sprintf("construct %T is not allowed", n))
	}
}

func (v *screenVisitor) add(msg string) {
	v.violations = append(v.violations, msg)
}

// GuardVars is the dynamic guard on the execution path: it rejects variable
// stores carrying values that would smuggle capabilities past the static
// screen (functions, channels, pointers, unsafe values). Plain data only.
func GuardVars(vars map[string]any) error {
	for name, value := range vars {
		if err := guardValue(name, value); err != nil {
			return err
		}
	}
	return nil
}

func guardValue(name string, value any) error {
	if value == nil {
		return nil
	}
	switch rv := reflect.ValueOf(value); rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Uintptr, reflect.Ptr:
		return schema.NewErrorf(schema.ErrCodeSecurityViolation,
			"variable %q holds a %s value, which cannot enter the sandbox", name, rv.Kind())
	case reflect.Map:
		if m, ok := value.(map[string]any); ok {
			return GuardVars(m)
		}
		return schema.NewErrorf(schema.ErrCodeSecurityViolation,
			"variable %q holds an unsupported map type %T", name, value)
	case reflect.Slice, reflect.Array:
		if s, ok := value.([]any); ok {
			for _, item := range s {
				if err := guardValue(name, item); err != nil {
					return err
				}
			}
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeSecurityViolation,
			"variable %q holds an unsupported slice type %T", name, value)
	default:
		return nil
	}
}
