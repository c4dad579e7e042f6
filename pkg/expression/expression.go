// Package expression compiles MongoDB aggregation expressions into trees of
// typed nodes.
//
// A string starting with "$" is a field path of the current document, and
// "$$name.path" reads a variable. An object with a single "$"-prefixed key is an
// operator call. Any other object or array compiles to a builder that rebuilds
// the same shape with each nested expression evaluated, and every other value
// is a literal.
//
// Evaluation produces native document values. A field that does not exist, and
// $$REMOVE, evaluate to types.Missing; object builders drop such fields and
// array builders store them as null.
package expression

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

// Expr is a compiled aggregation expression.
type Expr interface {
	Eval(env *Env) (interface{}, error)
}

// Literal is a constant.
type Literal struct {
	Value interface{}
}

// Eval returns the constant. Container values are copied so callers may
// modify the result.
func (l *Literal) Eval(*Env) (interface{}, error) {
	if types.IsObject(l.Value) || types.IsArray(l.Value) {
		return types.DeepCopy(l.Value), nil
	}
	return l.Value, nil
}

// FieldRef reads a path from a variable, $$CURRENT by default.
type FieldRef struct {
	Var  string
	Path string
	read path.Reader
}

// Eval resolves the reference. Paths crossing arrays produce an array of the
// values found.
func (f *FieldRef) Eval(env *Env) (interface{}, error) {
	base, ok := env.Lookup(f.Var)
	if !ok {
		return nil, types.CompileError(types.ErrUndefinedVariable, "$$"+f.Var, "use of undefined variable")
	}
	if f.read == nil {
		return base, nil
	}
	n := f.read(base)
	if !n.Exists() {
		return types.Missing, nil
	}
	return n.Interface(), nil
}

// Operator applies a function to eagerly evaluated arguments.
type Operator struct {
	Name string
	Args []Expr
	fn   func(args []types.Node) (interface{}, error)
}

// Eval evaluates the arguments in order and applies the operator.
func (o *Operator) Eval(env *Env) (interface{}, error) {
	args := make([]types.Node, len(o.Args))
	for i, a := range o.Args {
		v, err := a.Eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = types.Wrap(v)
	}
	return o.fn(args)
}

// Control is an operator that decides itself which arguments to evaluate.
type Control struct {
	Name string
	eval func(env *Env) (interface{}, error)
}

// Eval runs the operator.
func (c *Control) Eval(env *Env) (interface{}, error) {
	return c.eval(env)
}

// ObjectBuild builds an object from named expressions.
type ObjectBuild struct {
	Keys   []string
	Values []Expr
	like   interface{}
}

// Eval builds the object. Fields whose expression is missing are left out.
func (o *ObjectBuild) Eval(env *Env) (interface{}, error) {
	out := types.NewObjectLike(o.like)
	for i, k := range o.Keys {
		v, err := o.Values[i].Eval(env)
		if err != nil {
			return nil, err
		}
		if _, missing := v.(types.MissingValue); missing {
			continue
		}
		out = types.SetField(out, k, v)
	}
	return out, nil
}

// ArrayBuild builds an array from expressions.
type ArrayBuild struct {
	Items []Expr
	like  interface{}
}

// Eval builds the array. Missing items become null.
func (a *ArrayBuild) Eval(env *Env) (interface{}, error) {
	out := make([]interface{}, len(a.Items))
	for i, item := range a.Items {
		v, err := item.Eval(env)
		if err != nil {
			return nil, err
		}
		if _, missing := v.(types.MissingValue); missing {
			v = nil
		}
		out[i] = v
	}
	return types.NewArrayLike(a.like, out), nil
}

// scope records the variables defined at a point of the expression tree.
type scope struct {
	names  map[string]struct{}
	parent *scope
}

func (s *scope) with(names ...string) *scope {
	child := &scope{names: make(map[string]struct{}, len(names)), parent: s}
	for _, n := range names {
		child.names[n] = struct{}{}
	}
	return child
}

func (s *scope) defined(name string) bool {
	for ; s != nil; s = s.parent {
		if _, ok := s.names[name]; ok {
			return true
		}
	}
	return false
}

// Compiler compiles expressions with a fixed set of options.
type Compiler struct {
	opts *types.Options
}

// NewCompiler creates a compiler. A nil opts uses the defaults.
func NewCompiler(opts *types.Options) *Compiler {
	if opts == nil {
		opts = types.NewOptions()
	}
	return &Compiler{opts: opts}
}

// Options returns the compile options.
func (c *Compiler) Options() *types.Options {
	return c.opts
}

// Compile compiles an aggregation expression.
func Compile(spec interface{}, opts ...types.Option) (Expr, error) {
	return NewCompiler(types.NewOptions(opts...)).Compile(spec)
}

// Compile compiles an aggregation expression.
func (c *Compiler) Compile(spec interface{}) (Expr, error) {
	e, err := c.compile(spec, nil)
	if err != nil {
		return nil, err
	}
	c.opts.Logger.Debug("compiled expression", zap.String("root", fmt.Sprintf("%T", e)))
	return e, nil
}

// NewEnv creates an environment for doc using the compiler's clock.
func (c *Compiler) NewEnv(doc interface{}) *Env {
	return NewEnv(doc, c.opts.Clock())
}

func (c *Compiler) compile(spec interface{}, sc *scope) (Expr, error) {
	switch v := spec.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			return c.compileRef(v, sc)
		}
		return &Literal{Value: v}, nil
	case Expr:
		return v, nil
	}
	n := types.Wrap(spec)
	switch n.Kind {
	case types.KindExpression:
		f := types.Fields(spec)[0]
		return c.compileOperator(f.Key, f.Value, sc)
	case types.KindObject:
		return c.compileObject(spec, sc)
	case types.KindArray:
		vals, _ := types.ArrayValues(spec)
		out := &ArrayBuild{Items: make([]Expr, len(vals)), like: spec}
		for i, item := range vals {
			e, err := c.compile(item, sc)
			if err != nil {
				return nil, err
			}
			out.Items[i] = e
		}
		return out, nil
	}
	return &Literal{Value: spec}, nil
}

func (c *Compiler) compileObject(spec interface{}, sc *scope) (Expr, error) {
	fields := types.Fields(spec)
	out := &ObjectBuild{Keys: make([]string, len(fields)), Values: make([]Expr, len(fields)), like: spec}
	for i, f := range fields {
		if strings.HasPrefix(f.Key, "$") {
			return nil, types.CompileError(types.ErrUnknownOperator, f.Key, "field names in an object expression may not start with '$'; an operator must be the only key of its object")
		}
		if strings.Contains(f.Key, ".") {
			return nil, types.CompileError(types.ErrBadPath, "expression", "field names in an object expression may not contain '.'").WithPath(f.Key)
		}
		e, err := c.compile(f.Value, sc)
		if err != nil {
			return nil, err
		}
		out.Keys[i] = f.Key
		out.Values[i] = e
	}
	return out, nil
}

func (c *Compiler) compileRef(ref string, sc *scope) (Expr, error) {
	if !strings.HasPrefix(ref, "$$") {
		if len(ref) == 1 {
			return nil, types.CompileError(types.ErrBadPath, "expression", "'$' by itself is not a valid field path")
		}
		r, err := path.CompileReader(ref[1:])
		if err != nil {
			return nil, err
		}
		return &FieldRef{Var: VarCurrent, Path: ref[1:], read: r}, nil
	}
	name, rest, _ := strings.Cut(ref[2:], ".")
	if name == "" {
		return nil, types.CompileError(types.ErrBadPath, "expression", "empty variable name in %q", ref)
	}
	switch name {
	case VarRemove:
		if rest != "" {
			return nil, types.CompileError(types.ErrBadPath, "expression", "$$REMOVE has no fields").WithPath(ref)
		}
		return &Literal{Value: types.Missing}, nil
	case VarRoot, VarCurrent, VarNow:
	default:
		if !sc.defined(name) {
			return nil, types.CompileError(types.ErrUndefinedVariable, "$$"+name, "use of undefined variable")
		}
	}
	ref2 := &FieldRef{Var: name}
	if rest != "" {
		r, err := path.CompileReader(rest)
		if err != nil {
			return nil, err
		}
		ref2.Path, ref2.read = rest, r
	}
	return ref2, nil
}

func (c *Compiler) compileOperator(name string, arg interface{}, sc *scope) (Expr, error) {
	if fn, ok := operators[name]; ok {
		return fn(c, name, arg, sc)
	}
	if def, ok := c.opts.Operators[name]; ok {
		return c.compileCustom(def, arg, sc)
	}
	return nil, types.CompileError(types.ErrUnknownOperator, name, "unrecognized expression operator")
}

// args returns the argument list of an operator: the elements of an array
// argument, or the argument itself.
func args(arg interface{}) []interface{} {
	if vals, ok := types.ArrayValues(arg); ok {
		return vals
	}
	return []interface{}{arg}
}

func (c *Compiler) compileArgs(arg interface{}, sc *scope) ([]Expr, error) {
	raw := args(arg)
	out := make([]Expr, len(raw))
	for i, a := range raw {
		e, err := c.compile(a, sc)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// IsMissing reports whether v marks a missing value.
func IsMissing(v interface{}) bool {
	_, ok := v.(types.MissingValue)
	return ok
}
