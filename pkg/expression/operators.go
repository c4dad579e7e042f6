package expression

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/sandrolain/gomql/pkg/compare"
	"github.com/sandrolain/gomql/pkg/functions"
	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

// compileFunc compiles the argument of one operator.
type compileFunc func(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error)

// opFunc implements an operator over evaluated arguments.
type opFunc func(args []types.Node) (interface{}, error)

// operators is the dispatch table of built-in operators. It is filled once by
// init and never modified afterwards.
var operators map[string]compileFunc

func init() {
	operators = map[string]compileFunc{
		"$literal": compileLiteral,
		"$let":     compileLet,

		"$and": compileAnd,
		"$or":  compileOr,
		"$not": eager(1, 1, func(a []types.Node) (interface{}, error) { return !compare.Truthy(a[0]), nil }),

		"$eq":  comparison(func(c int, eq bool) bool { return eq }),
		"$ne":  comparison(func(c int, eq bool) bool { return !eq }),
		"$gt":  comparison(func(c int, _ bool) bool { return c > 0 }),
		"$gte": comparison(func(c int, _ bool) bool { return c >= 0 }),
		"$lt":  comparison(func(c int, _ bool) bool { return c < 0 }),
		"$lte": comparison(func(c int, _ bool) bool { return c <= 0 }),
		"$cmp": eager(2, 2, func(a []types.Node) (interface{}, error) {
			return int32(compare.Compare(a[0], a[1])), nil
		}),

		"$cond":   compileCond,
		"$ifNull": compileIfNull,
		"$switch": compileSwitch,
	}
	registerArithmetic()
	registerStrings()
	registerArrays()
	registerTypes()
	registerDates()
}

// Operators returns the names of the built-in operators.
func Operators() []string {
	out := make([]string, 0, len(operators))
	for k := range operators {
		out = append(out, k)
	}
	return out
}

// eager builds an operator whose arguments are all evaluated before it runs.
// max < 0 means no upper bound.
func eager(min, max int, fn opFunc) compileFunc {
	return func(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
		exprs, err := c.compileArgs(arg, sc)
		if err != nil {
			return nil, err
		}
		if err := checkArity(name, len(exprs), min, max); err != nil {
			return nil, err
		}
		return &Operator{Name: name, Args: exprs, fn: fn}, nil
	}
}

func checkArity(name string, n, min, max int) error {
	if n >= min && (max < 0 || n <= max) {
		return nil
	}
	var want string
	switch {
	case min == max:
		want = "exactly " + strconv.Itoa(min)
	case max < 0:
		want = "at least " + strconv.Itoa(min)
	default:
		want = strconv.Itoa(min) + " to " + strconv.Itoa(max)
	}
	return types.CompileError(types.ErrBadArgument, name, "expression takes %s arguments, %d were passed in", want, n)
}

// namedArgs reads the fields of an object-form operator argument. Unknown
// fields and missing required fields are compile errors.
func namedArgs(name string, arg interface{}, required []string, optional ...string) (map[string]interface{}, error) {
	if !types.IsObject(arg) {
		return nil, types.CompileError(types.ErrBadArgument, name, "expects an object as its argument, got %s", types.Wrap(arg).Kind)
	}
	known := make(map[string]bool, len(required)+len(optional))
	for _, k := range required {
		known[k] = true
	}
	for _, k := range optional {
		known[k] = true
	}
	out := make(map[string]interface{}, types.ObjectLen(arg))
	for _, f := range types.Fields(arg) {
		if !known[f.Key] {
			return nil, types.CompileError(types.ErrBadArgument, name, "unrecognized parameter %q", f.Key)
		}
		out[f.Key] = f.Value
	}
	for _, k := range required {
		if _, ok := out[k]; !ok {
			return nil, types.CompileError(types.ErrBadArgument, name, "missing required parameter %q", k)
		}
	}
	return out, nil
}

// compileNamed compiles the expressions of named arguments that are present.
func (c *Compiler) compileNamed(named map[string]interface{}, sc *scope, keys ...string) (map[string]Expr, error) {
	out := make(map[string]Expr, len(keys))
	for _, k := range keys {
		v, ok := named[k]
		if !ok {
			continue
		}
		e, err := c.compile(v, sc)
		if err != nil {
			return nil, err
		}
		out[k] = e
	}
	return out, nil
}

func evalNode(e Expr, env *Env) (types.Node, error) {
	v, err := e.Eval(env)
	if err != nil {
		return types.Node{}, err
	}
	return types.Wrap(v), nil
}

func compileLiteral(_ *Compiler, _ string, arg interface{}, _ *scope) (Expr, error) {
	return &Literal{Value: arg}, nil
}

func compileLet(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	named, err := namedArgs(name, arg, []string{"vars", "in"})
	if err != nil {
		return nil, err
	}
	vars := named["vars"]
	if !types.IsObject(vars) {
		return nil, types.CompileError(types.ErrBadArgument, name, "'vars' must be an object")
	}
	fields := types.Fields(vars)
	names := make([]string, len(fields))
	values := make([]Expr, len(fields))
	for i, f := range fields {
		if err := checkVarName(name, f.Key); err != nil {
			return nil, err
		}
		// variable values see the enclosing scope only
		e, err := c.compile(f.Value, sc)
		if err != nil {
			return nil, err
		}
		names[i], values[i] = f.Key, e
	}
	in, err := c.compile(named["in"], sc.with(names...))
	if err != nil {
		return nil, err
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		child := env.Child()
		for i, e := range values {
			v, err := e.Eval(env)
			if err != nil {
				return nil, err
			}
			child.Bind(names[i], v)
		}
		return in.Eval(child)
	}}, nil
}

// checkVarName validates a user variable name: it must start with a lowercase
// letter or a non-ASCII character and may not shadow a system variable.
func checkVarName(op, name string) error {
	if name == "" || !path.IsIdentifier(name) {
		return types.CompileError(types.ErrBadArgument, op, "invalid variable name %q", name)
	}
	c := name[0]
	if (c < 'a' || c > 'z') && c < 0x80 {
		return types.CompileError(types.ErrBadArgument, op, "variable name %q must start with a lowercase letter", name)
	}
	return nil
}

func compileAnd(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	exprs, err := c.compileArgs(arg, sc)
	if err != nil {
		return nil, err
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		for _, e := range exprs {
			n, err := evalNode(e, env)
			if err != nil {
				return nil, err
			}
			if !compare.Truthy(n) {
				return false, nil
			}
		}
		return true, nil
	}}, nil
}

func compileOr(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	exprs, err := c.compileArgs(arg, sc)
	if err != nil {
		return nil, err
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		for _, e := range exprs {
			n, err := evalNode(e, env)
			if err != nil {
				return nil, err
			}
			if compare.Truthy(n) {
				return true, nil
			}
		}
		return false, nil
	}}, nil
}

// comparison builds $eq and its siblings. Equality follows compare.Equals;
// ordering follows the total order of compare.Compare.
func comparison(test func(c int, eq bool) bool) compileFunc {
	return eager(2, 2, func(a []types.Node) (interface{}, error) {
		return test(compare.Compare(a[0], a[1]), compare.Equals(a[0], a[1])), nil
	})
}

func compileCond(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	var parts []interface{}
	if types.IsObject(arg) {
		named, err := namedArgs(name, arg, []string{"if", "then", "else"})
		if err != nil {
			return nil, err
		}
		parts = []interface{}{named["if"], named["then"], named["else"]}
	} else {
		parts = args(arg)
		if err := checkArity(name, len(parts), 3, 3); err != nil {
			return nil, err
		}
	}
	exprs := make([]Expr, 3)
	for i, p := range parts {
		e, err := c.compile(p, sc)
		if err != nil {
			return nil, err
		}
		exprs[i] = e
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		n, err := evalNode(exprs[0], env)
		if err != nil {
			return nil, err
		}
		if compare.Truthy(n) {
			return exprs[1].Eval(env)
		}
		return exprs[2].Eval(env)
	}}, nil
}

func compileIfNull(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	exprs, err := c.compileArgs(arg, sc)
	if err != nil {
		return nil, err
	}
	if err := checkArity(name, len(exprs), 2, -1); err != nil {
		return nil, err
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		last := len(exprs) - 1
		for _, e := range exprs[:last] {
			n, err := evalNode(e, env)
			if err != nil {
				return nil, err
			}
			if !n.IsNull() {
				return n.Value, nil
			}
		}
		return exprs[last].Eval(env)
	}}, nil
}

func compileSwitch(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	named, err := namedArgs(name, arg, []string{"branches"}, "default")
	if err != nil {
		return nil, err
	}
	branches, ok := types.ArrayValues(named["branches"])
	if !ok || len(branches) == 0 {
		return nil, types.CompileError(types.ErrBadArgument, name, "'branches' must be a non-empty array")
	}
	cases := make([]Expr, len(branches))
	thens := make([]Expr, len(branches))
	for i, b := range branches {
		bn, err := namedArgs(name, b, []string{"case", "then"})
		if err != nil {
			return nil, err
		}
		exprs, err := c.compileNamed(bn, sc, "case", "then")
		if err != nil {
			return nil, err
		}
		cases[i], thens[i] = exprs["case"], exprs["then"]
	}
	var def Expr
	if d, ok := named["default"]; ok {
		if def, err = c.compile(d, sc); err != nil {
			return nil, err
		}
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		for i, cs := range cases {
			n, err := evalNode(cs, env)
			if err != nil {
				return nil, err
			}
			if compare.Truthy(n) {
				return thens[i].Eval(env)
			}
		}
		if def == nil {
			return nil, types.TypeMismatch(name, "could not find a matching branch for an input, and no default was specified")
		}
		return def.Eval(env)
	}}, nil
}

// compileCustom compiles a call to a user-defined operator. Missing arguments
// are passed as nil.
func (c *Compiler) compileCustom(def functions.OperatorDef, arg interface{}, sc *scope) (Expr, error) {
	if err := def.Validate(); err != nil {
		return nil, types.CompileError(types.ErrBadArgument, def.Key(), "%v", err)
	}
	exprs, err := c.compileArgs(arg, sc)
	if err != nil {
		return nil, err
	}
	if !def.Accepts(len(exprs)) {
		return nil, checkArity(def.Key(), len(exprs), def.MinArgs, def.MaxArgs)
	}
	name := def.Key()
	return &Operator{Name: name, Args: exprs, fn: func(a []types.Node) (interface{}, error) {
		native := make([]interface{}, len(a))
		for i, n := range a {
			if n.Exists() {
				native[i] = n.Value
			}
		}
		v, err := def.Fn(native...)
		if err != nil {
			return nil, errors.Wrapf(err, "operator %s", name)
		}
		return v, nil
	}}, nil
}
