package path

import (
	"strconv"

	"github.com/sandrolain/gomql/pkg/types"
)

// UpdateFunc computes the new value of a field from its current node. It
// returns types.Missing to remove the field.
type UpdateFunc func(cur types.Node) (interface{}, error)

// Writer sets and deletes the value at a compiled path. Positions are decided
// at compile time: a numeric segment addresses an array element when the
// value it meets is an array, and names a field otherwise.
type Writer struct {
	path      string
	segs      []string
	positions []int
}

// CompileWriter compiles a dotted path into a Writer.
func CompileWriter(path string) (*Writer, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{path: path, segs: segs, positions: make([]int, len(segs))}
	for i, s := range segs {
		if n, ok := index(s); ok {
			w.positions[i] = n
		} else {
			w.positions[i] = -1
		}
	}
	return w, nil
}

// MustCompileWriter is like CompileWriter but panics on an invalid path.
func MustCompileWriter(path string) *Writer {
	w, err := CompileWriter(path)
	if err != nil {
		panic("path: CompileWriter(" + strconv.Quote(path) + "): " + err.Error())
	}
	return w
}

// Path returns the dotted path the writer was compiled from.
func (w *Writer) Path() string {
	return w.path
}

// Segments returns the path segments.
func (w *Writer) Segments() []string {
	return w.segs
}

// Get reads the value at the path without implicit array traversal.
func (w *Writer) Get(doc interface{}) types.Node {
	cur := doc
	for i, seg := range w.segs {
		if vals, ok := types.ArrayValues(cur); ok {
			pos := w.positions[i]
			if pos < 0 || pos >= len(vals) {
				return types.Absent()
			}
			cur = vals[pos]
			continue
		}
		v, ok := types.Field(cur, seg)
		if !ok {
			return types.Absent()
		}
		cur = v
	}
	n := types.Wrap(cur)
	n.Key = w.segs[len(w.segs)-1]
	return n
}

// Set stores v at the path, creating missing parents, and returns the root.
func (w *Writer) Set(doc interface{}, v interface{}) (interface{}, error) {
	return w.Apply(doc, func(types.Node) (interface{}, error) {
		return v, nil
	})
}

// Delete removes the field at the path and returns the root. Array elements
// are set to null rather than removed, so positions stay stable. Deleting a
// path that does not exist is a no-op.
func (w *Writer) Delete(doc interface{}) (interface{}, error) {
	if !types.IsObject(doc) {
		return nil, types.TypeMismatch("path", "document is a %s, not an object", types.Wrap(doc).Kind).WithPath(w.path)
	}
	return w.apply(doc, doc, 0, false, func(types.Node) (interface{}, error) {
		return types.Missing, nil
	})
}

// Apply replaces the value at the path with the result of fn and returns the
// root. Missing parents are created with the flavour of the enclosing object.
// Map roots are modified in place; a bson.D root may be re-allocated.
func (w *Writer) Apply(doc interface{}, fn UpdateFunc) (interface{}, error) {
	if !types.IsObject(doc) {
		return nil, types.TypeMismatch("path", "document is a %s, not an object", types.Wrap(doc).Kind).WithPath(w.path)
	}
	return w.apply(doc, doc, 0, true, fn)
}

func (w *Writer) apply(container, like interface{}, i int, create bool, fn UpdateFunc) (interface{}, error) {
	seg := w.segs[i]
	last := i == len(w.segs)-1

	if vals, ok := types.ArrayValues(container); ok {
		pos := w.positions[i]
		if pos < 0 {
			if !create {
				return container, nil
			}
			return nil, types.TypeMismatch("path", "cannot create field %q in an array", seg).WithPath(w.path)
		}
		var child interface{} = types.Missing
		if pos < len(vals) {
			child = vals[pos]
		}
		nv, err := w.child(child, like, seg, i, last, create, fn)
		if err != nil {
			return nil, err
		}
		if _, missing := nv.(types.MissingValue); missing {
			if pos < len(vals) && last {
				vals[pos] = nil
			}
			return types.NewArrayLike(container, vals), nil
		}
		for len(vals) <= pos {
			vals = append(vals, nil)
		}
		vals[pos] = nv
		return types.NewArrayLike(container, vals), nil
	}

	if !types.IsObject(container) {
		if !create {
			return container, nil
		}
		return nil, types.TypeMismatch("path", "cannot create field %q in a %s", seg, types.Wrap(container).Kind).WithPath(w.path)
	}

	child, ok := types.Field(container, seg)
	if !ok {
		child = types.Missing
	}
	nv, err := w.child(child, container, seg, i, last, create, fn)
	if err != nil {
		return nil, err
	}
	if _, missing := nv.(types.MissingValue); missing {
		if ok {
			return types.DeleteField(container, seg), nil
		}
		return container, nil
	}
	return types.SetField(container, seg, nv), nil
}

// child computes the new value of the element at segment i. Missing is
// returned when nothing has to be stored.
func (w *Writer) child(cur, like interface{}, seg string, i int, last, create bool, fn UpdateFunc) (interface{}, error) {
	if last {
		n := types.Wrap(cur)
		n.Key = seg
		return fn(n)
	}
	if _, missing := cur.(types.MissingValue); missing {
		if !create {
			return types.Missing, nil
		}
		fresh := types.NewObjectLike(like)
		nv, err := w.apply(fresh, fresh, i+1, create, fn)
		if err != nil {
			return nil, err
		}
		if types.ObjectLen(nv) == 0 {
			return types.Missing, nil
		}
		return nv, nil
	}
	if types.IsObject(cur) {
		like = cur
	}
	return w.apply(cur, like, i+1, create, fn)
}
