package update

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/compare"
	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

type runFunc func(doc interface{}, isInsert bool) (interface{}, error)

// builder compiles the argument of one operator for one field. extra lists
// further paths the action writes, for conflict detection.
type builder func(c *Compiler, w *path.Writer, arg interface{}) (run runFunc, extra []string, err error)

var builders map[string]builder

func init() {
	builders = map[string]builder{
		"$set":         buildSet,
		"$setOnInsert": buildSetOnInsert,
		"$unset":       buildUnset,
		"$inc":         arithmetic("$inc", int32(0), types.Add),
		"$mul":         arithmetic("$mul", int32(0), types.Multiply),
		"$min":         conditional("$min", -1),
		"$max":         conditional("$max", 1),
		"$rename":      buildRename,
		"$currentDate": buildCurrentDate,
		"$push":        buildPush,
		"$addToSet":    buildAddToSet,
		"$pop":         buildPop,
		"$pull":        buildPull,
		"$pullAll":     buildPullAll,
	}
}

// Operators returns the names of the supported update operators.
func Operators() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	return names
}

// value returns a fresh copy of a spec value on each call so documents never
// share structure with the compiled update.
func value(arg interface{}) func() interface{} {
	if types.IsObject(arg) || types.IsArray(arg) {
		return func() interface{} { return types.DeepCopy(arg) }
	}
	return func() interface{} { return arg }
}

func buildSet(_ *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
	v := value(arg)
	return func(doc interface{}, _ bool) (interface{}, error) {
		return w.Set(doc, v())
	}, nil, nil
}

func buildSetOnInsert(_ *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
	v := value(arg)
	return func(doc interface{}, isInsert bool) (interface{}, error) {
		if !isInsert {
			return doc, nil
		}
		return w.Set(doc, v())
	}, nil, nil
}

func buildUnset(_ *Compiler, w *path.Writer, _ interface{}) (runFunc, []string, error) {
	return func(doc interface{}, _ bool) (interface{}, error) {
		return w.Delete(doc)
	}, nil, nil
}

// arithmetic builds $inc and $mul. A missing field is treated as zero of the
// argument's type.
func arithmetic(op string, zero interface{}, fn func(a, b types.Node) (interface{}, error)) builder {
	return func(_ *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
		n := types.Wrap(arg)
		if !n.Kind.IsNumeric() {
			return nil, nil, types.CompileError(types.ErrBadArgument, op, "cannot %s with non-numeric argument of type %s", op[1:], n.Kind)
		}
		return func(doc interface{}, _ bool) (interface{}, error) {
			return w.Apply(doc, func(cur types.Node) (interface{}, error) {
				if !cur.Exists() {
					if op == "$inc" {
						return arg, nil
					}
					return fn(types.Wrap(zero), n)
				}
				if !cur.Kind.IsNumeric() {
					return nil, types.TypeMismatch(op, "cannot apply %s to a value of non-numeric type %s", op, cur.Kind)
				}
				return fn(cur, n)
			})
		}, nil, nil
	}
}

// conditional builds $min (sign -1) and $max (sign 1): the field is replaced
// when the argument orders before (or after) the current value.
func conditional(op string, sign int) builder {
	return func(_ *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
		v := value(arg)
		n := types.Wrap(arg)
		return func(doc interface{}, _ bool) (interface{}, error) {
			return w.Apply(doc, func(cur types.Node) (interface{}, error) {
				if !cur.Exists() || compare.Compare(n, cur)*sign > 0 {
					return v(), nil
				}
				return cur.Value, nil
			})
		}, nil, nil
	}
}

func buildRename(_ *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
	to, ok := arg.(string)
	if !ok {
		return nil, nil, types.CompileError(types.ErrBadArgument, "$rename", "target must be a string, got %s", types.Wrap(arg).Kind)
	}
	if to == w.Path() {
		return nil, nil, types.CompileError(types.ErrBadArgument, "$rename", "source and target are the same")
	}
	if overlaps(to, w.Path()) {
		return nil, nil, types.CompileError(types.ErrConflictingPaths, "$rename", "source and target cannot contain each other: %q, %q", w.Path(), to)
	}
	dst, err := path.CompileWriter(to)
	if err != nil {
		return nil, nil, err
	}
	return func(doc interface{}, _ bool) (interface{}, error) {
		src := w.Get(doc)
		if !src.Exists() {
			return doc, nil
		}
		doc, err := w.Delete(doc)
		if err != nil {
			return nil, err
		}
		return dst.Set(doc, src.Value)
	}, []string{to}, nil
}

func buildCurrentDate(c *Compiler, w *path.Writer, arg interface{}) (runFunc, []string, error) {
	asTimestamp := false
	switch n := types.Wrap(arg); {
	case n.Kind == types.KindBoolean:
	case n.IsObject():
		spec, _ := types.Field(arg, "$type")
		switch spec {
		case "date":
		case "timestamp":
			asTimestamp = true
		default:
			return nil, nil, types.CompileError(types.ErrBadArgument, "$currentDate", "$type must be \"date\" or \"timestamp\", got %v", spec)
		}
		if types.ObjectLen(arg) != 1 {
			return nil, nil, types.CompileError(types.ErrBadArgument, "$currentDate", "only $type is allowed in the type specification")
		}
	default:
		return nil, nil, types.CompileError(types.ErrBadArgument, "$currentDate", "needs a boolean or a $type specification, got %s", n.Kind)
	}
	clock := c.opts.Clock
	return func(doc interface{}, _ bool) (interface{}, error) {
		now := clock().UTC()
		if asTimestamp {
			return w.Set(doc, bson.Timestamp{T: uint32(now.Unix()), I: 1})
		}
		return w.Set(doc, now.Truncate(time.Millisecond))
	}, nil, nil
}
