// Package filter compiles MongoDB query documents into predicates.
//
// Field conditions see every value a path reads. When the path crosses an
// array each element reached is a candidate, and a condition holds when it
// holds for any candidate. Most operators additionally look inside an array
// candidate and match when the array as a whole or any of its elements
// matches; explicit $eq, $size, $elemMatch and $exists only consider the
// candidate as a whole.
//
// Type mismatches while matching, such as $mod against a string, are not
// errors: the document simply does not match.
package filter

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sandrolain/gomql/pkg/compare"
	"github.com/sandrolain/gomql/pkg/expression"
	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

// Predicate reports whether a document matches a query.
type Predicate func(doc interface{}) bool

// ValuePredicate reports whether a single value satisfies a condition.
type ValuePredicate func(v interface{}) bool

// matcher tests the node read for one field.
type matcher func(n types.Node) bool

// Compiler compiles queries with a fixed set of options.
type Compiler struct {
	opts *types.Options
	expr *expression.Compiler
}

// NewCompiler creates a compiler. A nil opts uses the defaults.
func NewCompiler(opts *types.Options) *Compiler {
	if opts == nil {
		opts = types.NewOptions()
	}
	return &Compiler{opts: opts, expr: expression.NewCompiler(opts)}
}

// Compile compiles a query document. A nil query matches every document.
func Compile(query interface{}, opts ...types.Option) (Predicate, error) {
	return NewCompiler(types.NewOptions(opts...)).Compile(query)
}

// CompileCondition compiles the condition part of a field clause, either an
// operator object such as {$gte: 6} or a value for implicit equality, into a
// predicate over single values.
func CompileCondition(cond interface{}, opts ...types.Option) (ValuePredicate, error) {
	return NewCompiler(types.NewOptions(opts...)).CompileCondition(cond)
}

// Compile compiles a query document.
func (c *Compiler) Compile(query interface{}) (Predicate, error) {
	p, err := c.compileQuery(query)
	if err != nil {
		return nil, err
	}
	c.opts.Logger.Debug("compiled filter", zap.Int("clauses", types.ObjectLen(query)))
	return p, nil
}

// CompileCondition compiles a field condition into a value predicate.
func (c *Compiler) CompileCondition(cond interface{}) (ValuePredicate, error) {
	m, err := c.compileCondition(cond)
	if err != nil {
		return nil, err
	}
	return func(v interface{}) bool {
		return m(types.Wrap(v))
	}, nil
}

func (c *Compiler) compileQuery(query interface{}) (Predicate, error) {
	if query == nil {
		return func(interface{}) bool { return true }, nil
	}
	if !types.IsObject(query) {
		return nil, types.CompileError(types.ErrBadArgument, "query", "query must be an object, got %s", types.Wrap(query).Kind)
	}
	fields := types.Fields(query)
	preds := make([]Predicate, 0, len(fields))
	for _, f := range fields {
		if strings.HasPrefix(f.Key, "$") {
			p, err := c.compileTopLevel(f.Key, f.Value)
			if err != nil {
				return nil, err
			}
			if p != nil {
				preds = append(preds, p)
			}
			continue
		}
		read, err := path.CompileReader(f.Key)
		if err != nil {
			return nil, err
		}
		m, err := c.compileCondition(f.Value)
		if err != nil {
			if e, ok := err.(*types.Error); ok && e.Path == "" {
				e.WithPath(f.Key)
			}
			return nil, err
		}
		preds = append(preds, func(doc interface{}) bool {
			return m(read(doc))
		})
	}
	return all(preds), nil
}

func all(preds []Predicate) Predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	return func(doc interface{}) bool {
		for _, p := range preds {
			if !p(doc) {
				return false
			}
		}
		return true
	}
}

// compileTopLevel compiles a logical or document-level operator. A nil
// predicate means the clause does not constrain the document.
func (c *Compiler) compileTopLevel(op string, arg interface{}) (Predicate, error) {
	switch op {
	case "$and", "$or", "$nor":
		subs, err := c.compileClauses(op, arg)
		if err != nil {
			return nil, err
		}
		switch op {
		case "$and":
			return all(subs), nil
		case "$or":
			return anyOf(subs), nil
		}
		or := anyOf(subs)
		return func(doc interface{}) bool { return !or(doc) }, nil
	case "$expr":
		e, err := c.expr.Compile(arg)
		if err != nil {
			return nil, err
		}
		return func(doc interface{}) bool {
			v, err := e.Eval(c.expr.NewEnv(doc))
			if err != nil {
				return false
			}
			return compare.Truthy(types.Wrap(v))
		}, nil
	case "$comment":
		return nil, nil
	case "$where", "$text", "$jsonSchema", "$sampleRate":
		return nil, types.CompileError(types.ErrUnsupported, op, "operator is not supported")
	}
	return nil, types.CompileError(types.ErrUnknownOperator, op, "unknown top level operator")
}

func (c *Compiler) compileClauses(op string, arg interface{}) ([]Predicate, error) {
	vals, ok := types.ArrayValues(arg)
	if !ok || len(vals) == 0 {
		return nil, types.CompileError(types.ErrBadArgument, op, "argument must be a non-empty array")
	}
	subs := make([]Predicate, len(vals))
	for i, v := range vals {
		if !types.IsObject(v) {
			return nil, types.CompileError(types.ErrBadArgument, op, "array elements must be objects, got %s", types.Wrap(v).Kind)
		}
		p, err := c.compileQuery(v)
		if err != nil {
			return nil, err
		}
		subs[i] = p
	}
	return subs, nil
}

func anyOf(preds []Predicate) Predicate {
	return func(doc interface{}) bool {
		for _, p := range preds {
			if p(doc) {
				return true
			}
		}
		return false
	}
}

// isOperatorObject reports whether cond is an operator object such as
// {$gt: 1}. Objects mixing operators and plain fields are rejected.
func isOperatorObject(cond interface{}) (bool, error) {
	if !types.IsObject(cond) || types.ObjectLen(cond) == 0 {
		return false, nil
	}
	fields := types.Fields(cond)
	ops := 0
	for _, f := range fields {
		if strings.HasPrefix(f.Key, "$") {
			ops++
		}
	}
	switch ops {
	case 0:
		return false, nil
	case len(fields):
		return true, nil
	}
	return false, types.CompileError(types.ErrUnknownOperator, fields[0].Key, "cannot mix operators and field names in a condition")
}

func (c *Compiler) compileCondition(cond interface{}) (matcher, error) {
	isOps, err := isOperatorObject(cond)
	if err != nil {
		return nil, err
	}
	if !isOps {
		v := types.Wrap(cond)
		if v.Kind == types.KindRegex {
			return compileRegexNode(v)
		}
		return equality(v), nil
	}
	fields := types.Fields(cond)
	var matchers []matcher
	var options interface{}
	hasOptions := false
	for _, f := range fields {
		if f.Key == "$options" {
			options, hasOptions = f.Value, true
		}
	}
	for _, f := range fields {
		var m matcher
		switch f.Key {
		case "$options":
			if _, ok := types.Field(cond, "$regex"); !ok {
				return nil, types.CompileError(types.ErrBadArgument, "$options", "$options needs a $regex")
			}
			continue
		case "$regex":
			m, err = compileRegex(f.Value, options, hasOptions)
		default:
			m, err = c.compileOperator(f.Key, f.Value)
		}
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	if len(matchers) == 1 {
		return matchers[0], nil
	}
	return func(n types.Node) bool {
		for _, m := range matchers {
			if !m(n) {
				return false
			}
		}
		return true
	}, nil
}

// unwrapping matches when test holds for a candidate or, for an array
// candidate, for any of its elements.
func unwrapping(test func(types.Node) bool) matcher {
	return func(n types.Node) bool {
		for _, cand := range n.Candidates() {
			if test(cand) {
				return true
			}
			if cand.IsArray() {
				for _, el := range cand.Elements() {
					if test(el) {
						return true
					}
				}
			}
		}
		return false
	}
}

// whole matches when test holds for a candidate taken as a whole.
func whole(test func(types.Node) bool) matcher {
	return func(n types.Node) bool {
		for _, cand := range n.Candidates() {
			if test(cand) {
				return true
			}
		}
		return false
	}
}

func not(m matcher) matcher {
	return func(n types.Node) bool {
		return !m(n)
	}
}

// equality implements implicit equality: whole value or any element.
func equality(v types.Node) matcher {
	return unwrapping(func(cand types.Node) bool {
		return compare.Equals(cand, v)
	})
}
