package update

import (
	"math"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/compare"
	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

// arrayField returns the elements of the array at cur. A missing field is an
// empty array of the default flavour; anything else is a type mismatch.
func arrayField(op string, cur types.Node) ([]interface{}, interface{}, error) {
	if !cur.Exists() {
		return nil, bson.A{}, nil
	}
	vals, ok := types.ArrayValues(cur.Value)
	if !ok {
		return nil, nil, types.TypeMismatch(op, "the field must be an array but is of type %s", cur.Kind)
	}
	return vals, cur.Value, nil
}

// pushSpec is the compiled argument of $push.
type pushSpec struct {
	each     func() []interface{}
	position *int
	slice    *int
	sort     func(a, b interface{}) int
}

func buildPush(_ *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
	spec, err := compilePush(arg)
	if err != nil {
		return nil, nil, err
	}
	return func(doc interface{}, _ bool) (interface{}, error) {
		return w.Apply(doc, func(cur types.Node) (interface{}, error) {
			vals, like, err := arrayField("$push", cur)
			if err != nil {
				return nil, err
			}
			return types.NewArrayLike(like, spec.apply(vals)), nil
		})
	}, nil, nil
}

func compilePush(arg interface{}) (*pushSpec, error) {
	each, ok := types.Field(arg, "$each")
	if !types.IsObject(arg) || !ok {
		if types.IsObject(arg) && hasModifier(arg) {
			return nil, types.CompileError(types.ErrBadArgument, "$push", "modifiers require $each")
		}
		v := value(arg)
		return &pushSpec{each: func() []interface{} { return []interface{}{v()} }}, nil
	}
	if _, ok := types.ArrayValues(each); !ok {
		return nil, types.CompileError(types.ErrBadArgument, "$push", "$each must be an array, got %s", types.Wrap(each).Kind)
	}
	eachCopy := value(each)
	spec := &pushSpec{each: func() []interface{} {
		vals, _ := types.ArrayValues(eachCopy())
		return vals
	}}
	for _, f := range types.Fields(arg) {
		switch f.Key {
		case "$each":
		case "$position":
			n, err := integer("$position", f.Value)
			if err != nil {
				return nil, err
			}
			spec.position = &n
		case "$slice":
			n, err := integer("$slice", f.Value)
			if err != nil {
				return nil, err
			}
			spec.slice = &n
		case "$sort":
			cmp, err := compileSort(f.Value)
			if err != nil {
				return nil, err
			}
			spec.sort = cmp
		default:
			return nil, types.CompileError(types.ErrBadArgument, "$push", "unrecognized modifier %s", f.Key)
		}
	}
	return spec, nil
}

func hasModifier(arg interface{}) bool {
	for _, f := range types.Fields(arg) {
		if strings.HasPrefix(f.Key, "$") {
			return true
		}
	}
	return false
}

func integer(op string, v interface{}) (int, error) {
	n := types.Wrap(v)
	i, ok := types.AsInt64(n)
	if !ok {
		return 0, types.CompileError(types.ErrBadArgument, op, "needs an integer, got %v", v)
	}
	if i < math.MinInt32 || i > math.MaxInt32 {
		return 0, types.CompileError(types.ErrBadArgument, op, "%d is out of the 32-bit integer range", i)
	}
	return int(i), nil
}

// compileSort compiles a $push $sort: 1 or -1 orders elements by value, a
// document orders object elements by the given fields.
func compileSort(v interface{}) (func(a, b interface{}) int, error) {
	if !types.IsObject(v) {
		dir, err := integer("$sort", v)
		if err != nil || (dir != 1 && dir != -1) {
			return nil, types.CompileError(types.ErrBadArgument, "$sort", "sort must be 1, -1 or a document, got %v", v)
		}
		return func(a, b interface{}) int {
			return dir * compare.Values(a, b)
		}, nil
	}
	fields := types.Fields(v)
	if len(fields) == 0 {
		return nil, types.CompileError(types.ErrBadArgument, "$sort", "sort document is empty")
	}
	keys := make([]compare.SortKey, len(fields))
	for i, f := range fields {
		dir, err := integer("$sort", f.Value)
		if err != nil {
			return nil, err
		}
		if keys[i], err = compare.NewSortKey(f.Key, dir); err != nil {
			return nil, err
		}
	}
	return compare.Documents(keys), nil
}

// apply inserts the values, then sorts and slices the whole array.
func (s *pushSpec) apply(vals []interface{}) []interface{} {
	each := s.each()
	pos := len(vals)
	if s.position != nil {
		pos = *s.position
		if pos < 0 {
			pos = max(len(vals)+pos, 0)
		}
		pos = min(pos, len(vals))
	}
	out := make([]interface{}, 0, len(vals)+len(each))
	out = append(out, vals[:pos]...)
	out = append(out, each...)
	out = append(out, vals[pos:]...)
	if s.sort != nil {
		slices.SortStableFunc(out, s.sort)
	}
	if s.slice != nil {
		n := *s.slice
		switch {
		case n >= 0 && n < len(out):
			out = out[:n]
		case n < 0 && -n < len(out):
			out = out[len(out)+n:]
		}
	}
	return out
}

func buildAddToSet(_ *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
	items := value(arg)
	each, isEach := types.Field(arg, "$each")
	if isEach && types.IsObject(arg) {
		if types.ObjectLen(arg) != 1 {
			return nil, nil, types.CompileError(types.ErrBadArgument, "$addToSet", "only $each is allowed as a modifier")
		}
		if _, ok := types.ArrayValues(each); !ok {
			return nil, nil, types.CompileError(types.ErrBadArgument, "$addToSet", "$each must be an array, got %s", types.Wrap(each).Kind)
		}
		items = value(each)
	}
	return func(doc interface{}, _ bool) (interface{}, error) {
		return w.Apply(doc, func(cur types.Node) (interface{}, error) {
			vals, like, err := arrayField("$addToSet", cur)
			if err != nil {
				return nil, err
			}
			add := []interface{}{items()}
			if isEach {
				add, _ = types.ArrayValues(add[0])
			}
			for _, v := range add {
				if !slices.ContainsFunc(vals, func(el interface{}) bool { return compare.EqualValues(el, v) }) {
					vals = append(vals, v)
				}
			}
			return types.NewArrayLike(like, vals), nil
		})
	}, nil, nil
}

func buildPop(_ *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
	dir, err := integer("$pop", arg)
	if err != nil || (dir != 1 && dir != -1) {
		return nil, nil, types.CompileError(types.ErrBadArgument, "$pop", "expects 1 or -1, got %v", arg)
	}
	return func(doc interface{}, _ bool) (interface{}, error) {
		return w.Apply(doc, func(cur types.Node) (interface{}, error) {
			if !cur.Exists() {
				return types.Missing, nil
			}
			vals, like, err := arrayField("$pop", cur)
			if err != nil {
				return nil, err
			}
			switch {
			case len(vals) == 0:
			case dir < 0:
				vals = vals[1:]
			default:
				vals = vals[:len(vals)-1]
			}
			return types.NewArrayLike(like, vals), nil
		})
	}, nil, nil
}

func buildPull(c *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
	var remove func(el interface{}) bool
	if types.IsObject(arg) && !hasModifier(arg) {
		// a plain document is a query on object elements
		match, err := c.filters.Compile(arg)
		if err != nil {
			return nil, nil, err
		}
		remove = func(el interface{}) bool {
			return types.IsObject(el) && match(el)
		}
	} else {
		cond, err := c.filters.CompileCondition(arg)
		if err != nil {
			return nil, nil, err
		}
		remove = func(el interface{}) bool { return cond(el) }
	}
	return pullWith("$pull", w, remove), nil, nil
}

func buildPullAll(_ *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
	vals, ok := types.ArrayValues(arg)
	if !ok {
		return nil, nil, types.CompileError(types.ErrBadArgument, "$pullAll", "needs an array, got %s", types.Wrap(arg).Kind)
	}
	return pullWith("$pullAll", w, func(el interface{}) bool {
		return slices.ContainsFunc(vals, func(v interface{}) bool { return compare.EqualValues(el, v) })
	}), nil, nil
}

func pullWith(op string, w *path.Writer, remove func(el interface{}) bool) runFunc {
	return func(doc interface{}, _ bool) (interface{}, error) {
		return w.Apply(doc, func(cur types.Node) (interface{}, error) {
			if !cur.Exists() {
				return types.Missing, nil
			}
			vals, like, err := arrayField(op, cur)
			if err != nil {
				return nil, err
			}
			kept := make([]interface{}, 0, len(vals))
			for _, el := range vals {
				if !remove(el) {
					kept = append(kept, el)
				}
			}
			return types.NewArrayLike(like, kept), nil
		})
	}
}
