package pipeline

import (
	"strings"

	"github.com/mitchellh/hashstructure/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/sandrolain/gomql/pkg/compare"
	"github.com/sandrolain/gomql/pkg/expression"
	"github.com/sandrolain/gomql/pkg/types"
)

// accumulator folds the values of one output field over a group.
type accumulator interface {
	add(v types.Node) error
	result() interface{}
}

var accumulators = map[string]func() accumulator{
	"$sum":      func() accumulator { return &sumAcc{total: int32(0)} },
	"$avg":      func() accumulator { return &avgAcc{sum: int32(0)} },
	"$min":      func() accumulator { return &pickAcc{sign: -1} },
	"$max":      func() accumulator { return &pickAcc{sign: 1} },
	"$first":    func() accumulator { return &edgeAcc{first: true} },
	"$last":     func() accumulator { return &edgeAcc{} },
	"$push":     func() accumulator { return &pushAcc{} },
	"$addToSet": func() accumulator { return &pushAcc{unique: true} },
	"$count":    func() accumulator { return &countAcc{} },
}

type groupField struct {
	name string
	op   string
	expr expression.Expr
	make func() accumulator
}

type groupState struct {
	key  interface{}
	accs []accumulator
}

func (c *Compiler) group(arg interface{}) (Stage, error) {
	if !types.IsObject(arg) {
		return nil, types.CompileError(types.ErrBadArgument, "$group", "a group specification must be an object, got %s", types.Wrap(arg).Kind)
	}
	idSpec, ok := types.Field(arg, "_id")
	if !ok {
		return nil, types.CompileError(types.ErrBadArgument, "$group", "a group specification must include an _id")
	}
	idExpr, err := c.exprs.Compile(idSpec)
	if err != nil {
		return nil, err
	}
	var fields []groupField
	for _, f := range types.Fields(arg) {
		if f.Key == "_id" {
			continue
		}
		gf, err := c.compileAccumulator(f.Key, f.Value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, gf)
	}
	like := arg
	logger := c.opts.Logger

	return func(in Seq) Seq {
		return func(yield func(interface{}, error) bool) {
			now := c.opts.Clock()
			var order []*groupState
			buckets := map[uint64][]*groupState{}
			for doc, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				env := expression.NewEnv(doc, now)
				key, err := idExpr.Eval(env)
				if err != nil {
					yield(nil, err)
					return
				}
				if expression.IsMissing(key) {
					key = nil
				}
				st := lookup(buckets, key)
				if st == nil {
					st = &groupState{key: key, accs: make([]accumulator, len(fields))}
					for i, gf := range fields {
						st.accs[i] = gf.make()
					}
					h := groupHash(key)
					buckets[h] = append(buckets[h], st)
					order = append(order, st)
				}
				for i, gf := range fields {
					v, err := gf.expr.Eval(env)
					if err != nil {
						yield(nil, err)
						return
					}
					if err := st.accs[i].add(types.Wrap(v)); err != nil {
						yield(nil, err)
						return
					}
				}
			}
			logger.Debug("grouped documents", zap.Int("groups", len(order)))
			for _, st := range order {
				out := types.SetField(types.NewObjectLike(like), "_id", st.key)
				for i, gf := range fields {
					out = types.SetField(out, gf.name, st.accs[i].result())
				}
				if !yield(out, nil) {
					return
				}
			}
		}
	}, nil
}

func (c *Compiler) compileAccumulator(name string, spec interface{}) (groupField, error) {
	if strings.Contains(name, ".") {
		return groupField{}, types.CompileError(types.ErrBadPath, "$group", "the field name %q cannot contain '.'", name)
	}
	if !types.IsObject(spec) || types.ObjectLen(spec) != 1 {
		return groupField{}, types.CompileError(types.ErrBadArgument, "$group", "the field %q must be an accumulator object", name)
	}
	f := types.Fields(spec)[0]
	mk, ok := accumulators[f.Key]
	if !ok {
		return groupField{}, types.CompileError(types.ErrUnknownOperator, f.Key, "unknown group operator").WithPath(name)
	}
	arg := f.Value
	if f.Key == "$count" {
		if !types.IsObject(arg) || types.ObjectLen(arg) != 0 {
			return groupField{}, types.CompileError(types.ErrBadArgument, "$count", "$count takes no arguments, use {}").WithPath(name)
		}
		arg = nil
	}
	if vals, ok := types.ArrayValues(arg); ok {
		return groupField{}, types.CompileError(types.ErrBadArgument, f.Key, "the %s accumulator is a unary operator, got %d arguments", f.Key, len(vals)).WithPath(name)
	}
	e, err := c.exprs.Compile(arg)
	if err != nil {
		return groupField{}, err
	}
	return groupField{name: name, op: f.Key, expr: e, make: mk}, nil
}

// groupHash hashes a group key. Numbers are hashed by value so 1 and 1.0
// share a bucket; equality inside a bucket is decided by compare.Equals.
func groupHash(key interface{}) uint64 {
	h, err := hashstructure.Hash(canonical(key), hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return h
}

func canonical(v interface{}) interface{} {
	n := types.Wrap(v)
	switch {
	case n.IsNull():
		return nil
	case n.Kind.IsNumeric():
		f, _ := types.AsFloat(n)
		return f
	case n.IsArray():
		vals, _ := types.ArrayValues(v)
		out := make([]interface{}, len(vals))
		for i, el := range vals {
			out[i] = canonical(el)
		}
		return out
	case n.IsObject():
		out := make(map[string]interface{}, types.ObjectLen(v))
		for _, f := range types.Fields(v) {
			out[f.Key] = canonical(f.Value)
		}
		return out
	}
	return v
}

func lookup(buckets map[uint64][]*groupState, key interface{}) *groupState {
	k := types.Wrap(key)
	for _, st := range buckets[groupHash(key)] {
		if compare.Equals(types.Wrap(st.key), k) {
			return st
		}
	}
	return nil
}

type sumAcc struct{ total interface{} }

func (a *sumAcc) add(v types.Node) error {
	if !v.Kind.IsNumeric() {
		return nil
	}
	t, err := types.Add(types.Wrap(a.total), v)
	if err != nil {
		return err
	}
	a.total = t
	return nil
}

func (a *sumAcc) result() interface{} { return a.total }

type avgAcc struct {
	sum interface{}
	n   int
}

func (a *avgAcc) add(v types.Node) error {
	if !v.Kind.IsNumeric() {
		return nil
	}
	s, err := types.Add(types.Wrap(a.sum), v)
	if err != nil {
		return err
	}
	a.sum = s
	a.n++
	return nil
}

func (a *avgAcc) result() interface{} {
	if a.n == 0 {
		return nil
	}
	r, err := types.Divide(types.Wrap(a.sum), types.Wrap(a.n))
	if err != nil {
		return nil
	}
	return r
}

// pickAcc keeps the smallest (sign -1) or largest (sign 1) non-null value.
type pickAcc struct {
	sign int
	best types.Node
	set  bool
}

func (a *pickAcc) add(v types.Node) error {
	if v.IsNull() {
		return nil
	}
	if !a.set || compare.Compare(v, a.best)*a.sign > 0 {
		a.best, a.set = v, true
	}
	return nil
}

func (a *pickAcc) result() interface{} {
	if !a.set {
		return nil
	}
	return a.best.Interface()
}

type edgeAcc struct {
	first bool
	v     interface{}
	set   bool
}

func (a *edgeAcc) add(v types.Node) error {
	if a.first && a.set {
		return nil
	}
	a.v, a.set = v.Interface(), true
	if !v.Exists() {
		a.v = nil
	}
	return nil
}

func (a *edgeAcc) result() interface{} { return a.v }

type pushAcc struct {
	unique bool
	vals   []interface{}
}

func (a *pushAcc) add(v types.Node) error {
	if !v.Exists() {
		return nil
	}
	if a.unique {
		for _, have := range a.vals {
			if compare.Equals(types.Wrap(have), v) {
				return nil
			}
		}
	}
	a.vals = append(a.vals, v.Interface())
	return nil
}

func (a *pushAcc) result() interface{} {
	if a.vals == nil {
		return bson.A{}
	}
	return bson.A(a.vals)
}

type countAcc struct{ n int }

func (a *countAcc) add(types.Node) error { a.n++; return nil }

func (a *countAcc) result() interface{} { return a.n }
