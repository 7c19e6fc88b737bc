package classify

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/coral-mesh/corostack/pkg/remote"
)

// Filter matches scheduler plumbing frames: native frames that belong to
// the dispatcher or thread machinery and carry no information for the user.
// It is a CEL expression over the variables class, method, file and line,
// for example:
//
//	class.startsWith("kotlinx.coroutines.scheduling.") && method != "run"
//
// Assembly never drops frames; the filter is applied by presentation only.
type Filter struct {
	expr string
	prg  cel.Program
}

// NewFilter compiles a plumbing filter expression.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("class", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("file", cel.StringType),
		cel.Variable("line", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create filter environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter %q: %w", expr, err)
	}

	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the filter expression.
func (f *Filter) String() string {
	return f.expr
}

// Match reports whether loc is a plumbing frame. Evaluation errors count as
// no match so that a faulty filter never hides frames.
func (f *Filter) Match(loc remote.Location) bool {
	if f == nil {
		return false
	}
	out, _, err := f.prg.Eval(map[string]interface{}{
		"class":  loc.Class,
		"method": loc.Method,
		"file":   loc.File,
		"line":   int64(loc.Line),
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
