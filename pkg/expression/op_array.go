package expression

import (
	"github.com/sandrolain/gomql/pkg/compare"
	"github.com/sandrolain/gomql/pkg/types"
)

func registerArrays() {
	operators["$size"] = eager(1, 1, func(a []types.Node) (interface{}, error) {
		vals, err := arrayArg("$size", a[0])
		if err != nil {
			return nil, err
		}
		return int32(len(vals)), nil
	})
	operators["$arrayElemAt"] = eager(2, 2, opArrayElemAt)
	operators["$first"] = eager(1, 1, edge("$first", true))
	operators["$last"] = eager(1, 1, edge("$last", false))
	operators["$in"] = eager(2, 2, func(a []types.Node) (interface{}, error) {
		vals, err := arrayArg("$in", a[1])
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if compare.Equals(a[0], types.Wrap(v)) {
				return true, nil
			}
		}
		return false, nil
	})
	operators["$isArray"] = eager(1, 1, func(a []types.Node) (interface{}, error) {
		return a[0].IsArray(), nil
	})
	operators["$concatArrays"] = eager(0, -1, opConcatArrays)
	operators["$slice"] = eager(2, 3, opSlice)
	operators["$reverseArray"] = eager(1, 1, func(a []types.Node) (interface{}, error) {
		if a[0].IsNull() {
			return nil, nil
		}
		vals, err := arrayArg("$reverseArray", a[0])
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, len(vals))
		for i, v := range vals {
			out[len(vals)-1-i] = v
		}
		return out, nil
	})
	operators["$range"] = eager(2, 3, opRange)
	operators["$filter"] = compileFilter
	operators["$map"] = compileMap
	operators["$reduce"] = compileReduce
	operators["$mergeObjects"] = eager(0, -1, opMergeObjects)
	operators["$getField"] = compileGetField
}

func arrayArg(op string, n types.Node) ([]interface{}, error) {
	vals, err := types.UnwrapArray(n)
	if err != nil {
		return nil, types.TypeMismatch(op, "argument must be an array, found %s", n.Kind)
	}
	return vals, nil
}

func opArrayElemAt(a []types.Node) (interface{}, error) {
	if a[0].IsNull() || a[1].IsNull() {
		return nil, nil
	}
	vals, err := arrayArg("$arrayElemAt", a[0])
	if err != nil {
		return nil, err
	}
	idx, err := intArg("$arrayElemAt", "index", a[1])
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		idx += int64(len(vals))
	}
	if idx < 0 || idx >= int64(len(vals)) {
		return types.Missing, nil
	}
	return vals[idx], nil
}

func edge(op string, first bool) opFunc {
	return func(a []types.Node) (interface{}, error) {
		if a[0].IsNull() {
			return nil, nil
		}
		vals, err := arrayArg(op, a[0])
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			return types.Missing, nil
		}
		if first {
			return vals[0], nil
		}
		return vals[len(vals)-1], nil
	}
}

func opConcatArrays(a []types.Node) (interface{}, error) {
	out := []interface{}{}
	for _, n := range a {
		if n.IsNull() {
			return nil, nil
		}
		vals, err := arrayArg("$concatArrays", n)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

// opSlice implements both forms: [array, n] takes n elements from the front,
// or from the back when negative; [array, position, n] starts at position,
// counted from the end when negative.
func opSlice(a []types.Node) (interface{}, error) {
	for _, n := range a {
		if n.IsNull() {
			return nil, nil
		}
	}
	vals, err := arrayArg("$slice", a[0])
	if err != nil {
		return nil, err
	}
	size := int64(len(vals))
	var start, end int64
	if len(a) == 2 {
		n, err := intArg("$slice", "count", a[1])
		if err != nil {
			return nil, err
		}
		if n >= 0 {
			start, end = 0, min(n, size)
		} else {
			start, end = max(size+n, 0), size
		}
	} else {
		pos, err := intArg("$slice", "position", a[1])
		if err != nil {
			return nil, err
		}
		n, err := intArg("$slice", "count", a[2])
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, types.TypeMismatch("$slice", "count must be positive")
		}
		if pos < 0 {
			pos = max(size+pos, 0)
		}
		start = min(pos, size)
		end = min(start+n, size)
	}
	out := make([]interface{}, end-start)
	copy(out, vals[start:end])
	return out, nil
}

func opRange(a []types.Node) (interface{}, error) {
	start, err := intArg("$range", "start", a[0])
	if err != nil {
		return nil, err
	}
	end, err := intArg("$range", "end", a[1])
	if err != nil {
		return nil, err
	}
	step := int64(1)
	if len(a) == 3 {
		if step, err = intArg("$range", "step", a[2]); err != nil {
			return nil, err
		}
		if step == 0 {
			return nil, types.TypeMismatch("$range", "step value cannot be 0")
		}
	}
	out := []interface{}{}
	for i := start; (step > 0 && i < end) || (step < 0 && i > end); i += step {
		out = append(out, int32(i))
	}
	return out, nil
}

// iteration compiles the shared parts of $filter and $map: the input array and
// the element variable, "this" unless renamed with 'as'.
func (c *Compiler) iteration(name string, named map[string]interface{}, sc *scope) (Expr, string, error) {
	input, err := c.compile(named["input"], sc)
	if err != nil {
		return nil, "", err
	}
	as := "this"
	if v, ok := named["as"]; ok {
		s, isString := v.(string)
		if !isString {
			return nil, "", types.CompileError(types.ErrBadArgument, name, "'as' must be a string")
		}
		if err := checkVarName(name, s); err != nil {
			return nil, "", err
		}
		as = s
	}
	return input, as, nil
}

func evalInput(name string, input Expr, env *Env) ([]interface{}, bool, error) {
	n, err := evalNode(input, env)
	if err != nil {
		return nil, false, err
	}
	if n.IsNull() {
		return nil, false, nil
	}
	vals, err := arrayArg(name, n)
	return vals, true, err
}

func compileFilter(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	named, err := namedArgs(name, arg, []string{"input", "cond"}, "as", "limit")
	if err != nil {
		return nil, err
	}
	input, as, err := c.iteration(name, named, sc)
	if err != nil {
		return nil, err
	}
	cond, err := c.compile(named["cond"], sc.with(as))
	if err != nil {
		return nil, err
	}
	var limit Expr
	if l, ok := named["limit"]; ok {
		if limit, err = c.compile(l, sc); err != nil {
			return nil, err
		}
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		vals, ok, err := evalInput(name, input, env)
		if err != nil || !ok {
			return nil, err
		}
		limitN := int64(-1)
		if limit != nil {
			ln, err := evalNode(limit, env)
			if err != nil {
				return nil, err
			}
			if !ln.IsNull() {
				if limitN, err = intArg(name, "limit", ln); err != nil {
					return nil, err
				}
				if limitN < 1 {
					return nil, types.TypeMismatch(name, "limit must be greater than 0")
				}
			}
		}
		out := []interface{}{}
		child := env.Child()
		for _, v := range vals {
			if limitN >= 0 && int64(len(out)) >= limitN {
				break
			}
			child.Bind(as, v)
			keep, err := evalNode(cond, child)
			if err != nil {
				return nil, err
			}
			if compare.Truthy(keep) {
				out = append(out, v)
			}
		}
		return out, nil
	}}, nil
}

func compileMap(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	named, err := namedArgs(name, arg, []string{"input", "in"}, "as")
	if err != nil {
		return nil, err
	}
	input, as, err := c.iteration(name, named, sc)
	if err != nil {
		return nil, err
	}
	in, err := c.compile(named["in"], sc.with(as))
	if err != nil {
		return nil, err
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		vals, ok, err := evalInput(name, input, env)
		if err != nil || !ok {
			return nil, err
		}
		out := make([]interface{}, len(vals))
		child := env.Child()
		for i, v := range vals {
			child.Bind(as, v)
			r, err := in.Eval(child)
			if err != nil {
				return nil, err
			}
			if IsMissing(r) {
				r = nil
			}
			out[i] = r
		}
		return out, nil
	}}, nil
}

func compileReduce(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	named, err := namedArgs(name, arg, []string{"input", "initialValue", "in"})
	if err != nil {
		return nil, err
	}
	exprs, err := c.compileNamed(named, sc, "input", "initialValue")
	if err != nil {
		return nil, err
	}
	in, err := c.compile(named["in"], sc.with("this", "value"))
	if err != nil {
		return nil, err
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		vals, ok, err := evalInput(name, exprs["input"], env)
		if err != nil || !ok {
			return nil, err
		}
		acc, err := exprs["initialValue"].Eval(env)
		if err != nil {
			return nil, err
		}
		child := env.Child()
		for _, v := range vals {
			child.Bind("this", v)
			child.Bind("value", acc)
			if acc, err = in.Eval(child); err != nil {
				return nil, err
			}
		}
		return acc, nil
	}}, nil
}

// opMergeObjects merges documents left to right; later fields win. A single
// array argument merges its elements. Null arguments are skipped.
func opMergeObjects(a []types.Node) (interface{}, error) {
	if len(a) == 1 && a[0].IsArray() {
		a = a[0].Elements()
	}
	var out interface{}
	for _, n := range a {
		if n.IsNull() {
			continue
		}
		if !n.IsObject() {
			return nil, types.TypeMismatch("$mergeObjects", "only takes objects, not %s", n.Kind)
		}
		if out == nil {
			out = types.NewObjectLike(n.Value)
		}
		for _, f := range types.Fields(n.Value) {
			out = types.SetField(out, f.Key, f.Value)
		}
	}
	if out == nil {
		return types.NewObjectLike(nil), nil
	}
	return out, nil
}

// compileGetField reads a field by its literal name, which may contain dots
// or start with "$".
func compileGetField(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	var field interface{}
	var input Expr = &FieldRef{Var: VarCurrent}
	if types.IsObject(arg) {
		named, err := namedArgs(name, arg, []string{"field"}, "input")
		if err != nil {
			return nil, err
		}
		field = named["field"]
		if in, ok := named["input"]; ok {
			e, err := c.compile(in, sc)
			if err != nil {
				return nil, err
			}
			input = e
		}
	} else {
		field = arg
	}
	key, ok := field.(string)
	if !ok {
		lit, isLit := types.Fields(field), types.IsObject(field)
		if isLit && len(lit) == 1 && lit[0].Key == "$literal" {
			key, ok = lit[0].Value.(string)
		}
	}
	if !ok {
		return nil, types.CompileError(types.ErrBadArgument, name, "'field' must be a constant string")
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		in, err := input.Eval(env)
		if err != nil {
			return nil, err
		}
		n := types.Wrap(in)
		if n.IsNull() {
			return nil, nil
		}
		if !n.IsObject() {
			return types.Missing, nil
		}
		v, ok := types.Field(n.Value, key)
		if !ok {
			return types.Missing, nil
		}
		return v, nil
	}}, nil
}
