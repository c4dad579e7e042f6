package pipeline

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sandrolain/gomql/pkg/compare"
	"github.com/sandrolain/gomql/pkg/expression"
	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

// MaxSortKeys is the largest number of keys a $sort stage accepts.
const MaxSortKeys = 32

// mapDocs builds a streaming stage from a per-document function. fn reports
// false to drop the document.
func (c *Compiler) mapDocs(fn func(doc interface{}, env *expression.Env) (interface{}, bool, error)) Stage {
	return func(in Seq) Seq {
		return func(yield func(interface{}, error) bool) {
			now := c.opts.Clock()
			for doc, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				out, keep, err := fn(doc, expression.NewEnv(doc, now))
				if err != nil {
					yield(nil, err)
					return
				}
				if keep && !yield(out, nil) {
					return
				}
			}
		}
	}
}

func (c *Compiler) match(arg interface{}) (Stage, error) {
	if !types.IsObject(arg) {
		return nil, types.CompileError(types.ErrBadArgument, "$match", "the match filter must be an object, got %s", types.Wrap(arg).Kind)
	}
	pred, err := c.filters.Compile(arg)
	if err != nil {
		return nil, err
	}
	return func(in Seq) Seq {
		return func(yield func(interface{}, error) bool) {
			for doc, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				if pred(doc) && !yield(doc, nil) {
					return
				}
			}
		}
	}, nil
}

func (c *Compiler) applying(p *expression.Projection) Stage {
	return c.mapDocs(func(doc interface{}, env *expression.Env) (interface{}, bool, error) {
		out, err := p.Apply(env)
		return out, true, err
	})
}

func (c *Compiler) project(arg interface{}) (Stage, error) {
	p, err := c.exprs.CompileProjection(arg)
	if err != nil {
		return nil, err
	}
	return c.applying(p), nil
}

func (c *Compiler) set(arg interface{}) (Stage, error) {
	p, err := c.exprs.CompileSet(arg)
	if err != nil {
		return nil, err
	}
	return c.applying(p), nil
}

func (c *Compiler) unset(arg interface{}) (Stage, error) {
	p, err := expression.CompileUnset(arg)
	if err != nil {
		return nil, err
	}
	return c.applying(p), nil
}

func (c *Compiler) sort(arg interface{}) (Stage, error) {
	if !types.IsObject(arg) || types.ObjectLen(arg) == 0 {
		return nil, types.CompileError(types.ErrBadArgument, "$sort", "the sort key specification must be a non-empty object")
	}
	fields := types.Fields(arg)
	if len(fields) > MaxSortKeys {
		return nil, types.CompileError(types.ErrBadArgument, "$sort", "at most %d sort keys are allowed, got %d", MaxSortKeys, len(fields))
	}
	keys := make([]compare.SortKey, len(fields))
	for i, f := range fields {
		n := types.Wrap(f.Value)
		dir, ok := types.AsInt64(n)
		if !ok || !n.Kind.IsNumeric() {
			return nil, types.CompileError(types.ErrBadArgument, "$sort", "sort order must be 1 or -1, got %v", f.Value).WithPath(f.Key)
		}
		k, err := compare.NewSortKey(f.Key, int(dir))
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	cmp := compare.Documents(keys)
	logger := c.opts.Logger
	return func(in Seq) Seq {
		return func(yield func(interface{}, error) bool) {
			var buf []interface{}
			for doc, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				buf = append(buf, doc)
			}
			logger.Debug("sorting buffered documents", zap.Int("documents", len(buf)), zap.Int("keys", len(keys)))
			slices.SortStableFunc(buf, cmp)
			for i, doc := range buf {
				buf[i] = nil
				if !yield(doc, nil) {
					return
				}
			}
		}
	}, nil
}

// nonNegative parses the integer argument of $skip and $limit.
func nonNegative(op string, arg interface{}) (int64, error) {
	n := types.Wrap(arg)
	v, ok := types.AsInt64(n)
	if !ok || !n.Kind.IsNumeric() {
		return 0, types.CompileError(types.ErrBadArgument, op, "argument must be an integer, got %v", arg)
	}
	if v < 0 {
		return 0, types.CompileError(types.ErrBadArgument, op, "argument must be non-negative, got %d", v)
	}
	return v, nil
}

func (c *Compiler) skip(arg interface{}) (Stage, error) {
	n, err := nonNegative("$skip", arg)
	if err != nil {
		return nil, err
	}
	return func(in Seq) Seq {
		return func(yield func(interface{}, error) bool) {
			var seen int64
			for doc, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				if seen < n {
					seen++
					continue
				}
				if !yield(doc, nil) {
					return
				}
			}
		}
	}, nil
}

func (c *Compiler) limit(arg interface{}) (Stage, error) {
	n, err := nonNegative("$limit", arg)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, types.CompileError(types.ErrBadArgument, "$limit", "the limit must be positive")
	}
	return func(in Seq) Seq {
		return func(yield func(interface{}, error) bool) {
			var sent int64
			for doc, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(doc, nil) {
					return
				}
				if sent++; sent >= n {
					return
				}
			}
		}
	}, nil
}

func (c *Compiler) count(arg interface{}) (Stage, error) {
	field, ok := arg.(string)
	if !ok {
		return nil, types.CompileError(types.ErrBadArgument, "$count", "the count field must be a string, got %s", types.Wrap(arg).Kind)
	}
	if !path.IsIdentifier(field) {
		return nil, types.CompileError(types.ErrBadArgument, "$count", "the count field must be a non-empty name without '$' prefix or '.', got %q", field)
	}
	return func(in Seq) Seq {
		return func(yield func(interface{}, error) bool) {
			n := 0
			for _, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				n++
			}
			yield(types.SetField(types.NewObjectLike(nil), field, n), nil)
		}
	}, nil
}

// unwindSpec is the compiled argument of $unwind.
type unwindSpec struct {
	field    *path.Writer
	index    string
	preserve bool
}

func (c *Compiler) unwind(arg interface{}) (Stage, error) {
	spec, err := compileUnwind(arg)
	if err != nil {
		return nil, err
	}
	return func(in Seq) Seq {
		return func(yield func(interface{}, error) bool) {
			for doc, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				if !spec.expand(doc, yield) {
					return
				}
			}
		}
	}, nil
}

func compileUnwind(arg interface{}) (*unwindSpec, error) {
	ref, isRef := arg.(string)
	spec := &unwindSpec{}
	if !isRef {
		if !types.IsObject(arg) {
			return nil, types.CompileError(types.ErrBadArgument, "$unwind", "expected a field path or an object, got %s", types.Wrap(arg).Kind)
		}
		for _, f := range types.Fields(arg) {
			switch f.Key {
			case "path":
				if ref, isRef = f.Value.(string); !isRef {
					return nil, types.CompileError(types.ErrBadArgument, "$unwind", "path must be a string")
				}
			case "includeArrayIndex":
				name, ok := f.Value.(string)
				if !ok || !path.IsIdentifier(name) {
					return nil, types.CompileError(types.ErrBadArgument, "$unwind", "includeArrayIndex must be a valid field name, got %v", f.Value)
				}
				spec.index = name
			case "preserveNullAndEmptyArrays":
				b, ok := f.Value.(bool)
				if !ok {
					return nil, types.CompileError(types.ErrBadArgument, "$unwind", "preserveNullAndEmptyArrays must be a boolean")
				}
				spec.preserve = b
			default:
				return nil, types.CompileError(types.ErrBadArgument, "$unwind", "unrecognized option %q", f.Key)
			}
		}
		if !isRef {
			return nil, types.CompileError(types.ErrBadArgument, "$unwind", "no path specified")
		}
	}
	if !strings.HasPrefix(ref, "$") || strings.HasPrefix(ref, "$$") {
		return nil, types.CompileError(types.ErrBadPath, "$unwind", "path must be a field path prefixed by '$', got %q", ref)
	}
	w, err := path.CompileWriter(ref[1:])
	if err != nil {
		return nil, err
	}
	spec.field = w
	return spec, nil
}

// expand yields one document per element of the unwound array. Documents
// without a non-empty array are dropped unless preserve is set; an empty
// array is preserved as null.
func (s *unwindSpec) expand(doc interface{}, yield func(interface{}, error) bool) bool {
	cur := s.field.Get(doc)
	vals, isArray := types.ArrayValues(cur.Value)
	if !isArray || len(vals) == 0 {
		if !s.preserve {
			return true
		}
		out := doc
		if isArray {
			out = s.replace(doc, nil)
		}
		if s.index != "" {
			out = types.SetField(types.ShallowCopy(out), s.index, nil)
		}
		return yield(out, nil)
	}
	for i, v := range vals {
		out := s.replace(doc, v)
		if s.index != "" {
			out = types.SetField(out, s.index, int64(i))
		}
		if !yield(out, nil) {
			return false
		}
	}
	return true
}

// replace returns a copy of doc with the unwound field set to v. Objects on
// the path are copied; the rest of the document is shared.
func (s *unwindSpec) replace(doc, v interface{}) interface{} {
	return replaceAt(doc, s.field.Segments(), v)
}

func replaceAt(doc interface{}, segs []string, v interface{}) interface{} {
	out := types.ShallowCopy(doc)
	if len(segs) == 1 {
		return types.SetField(out, segs[0], v)
	}
	child, _ := types.Field(out, segs[0])
	if !types.IsObject(child) {
		return out
	}
	return types.SetField(out, segs[0], replaceAt(child, segs[1:], v))
}

func (c *Compiler) replaceRoot(arg interface{}) (Stage, error) {
	if !types.IsObject(arg) || types.ObjectLen(arg) != 1 {
		return nil, types.CompileError(types.ErrBadArgument, "$replaceRoot", "expected {newRoot: <expression>}")
	}
	root, ok := types.Field(arg, "newRoot")
	if !ok {
		return nil, types.CompileError(types.ErrBadArgument, "$replaceRoot", "expected {newRoot: <expression>}")
	}
	return c.replaceWithOp("$replaceRoot", root)
}

func (c *Compiler) replaceWith(arg interface{}) (Stage, error) {
	return c.replaceWithOp("$replaceWith", arg)
}

func (c *Compiler) replaceWithOp(op string, spec interface{}) (Stage, error) {
	e, err := c.exprs.Compile(spec)
	if err != nil {
		return nil, err
	}
	return c.mapDocs(func(doc interface{}, env *expression.Env) (interface{}, bool, error) {
		v, err := e.Eval(env)
		if err != nil {
			return nil, false, err
		}
		if !types.IsObject(v) {
			return nil, false, types.TypeMismatch(op, "'newRoot' expression must evaluate to an object, but resulting value was of type %s", expression.TypeName(types.Wrap(v)))
		}
		return v, true, nil
	}), nil
}
