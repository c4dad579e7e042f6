// Package path compiles dotted field paths into readers and writers.
//
// Readers follow MongoDB's implicit array traversal: when a non-final segment
// meets an array and the next segment is not a position, the rest of the path is
// mapped over every element, so "items.price" over
// {items: [{price: 1}, {price: 2}]} reads the sequence [1, 2]. Numeric segments
// index arrays positionally and name fields on objects.
//
// Writers create missing parents and never traverse arrays implicitly: a
// non-numeric segment applied to an array is an error.
package path

import (
	"strconv"
	"strings"

	"github.com/sandrolain/gomql/pkg/types"
)

// Reader reads the value at a compiled path.
type Reader func(doc interface{}) types.Node

// Split validates path and returns its segments.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, types.CompileError(types.ErrBadPath, "path", "empty field path")
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, types.CompileError(types.ErrBadPath, "path", "empty segment").WithPath(path)
		}
		if strings.HasPrefix(s, "$") {
			return nil, types.CompileError(types.ErrUnsupported, "path", "positional and $-prefixed segments are not supported").WithPath(path)
		}
		if strings.ContainsRune(s, 0) {
			return nil, types.CompileError(types.ErrBadPath, "path", "segment contains a NUL byte").WithPath(path)
		}
	}
	return segs, nil
}

// IsIdentifier reports whether s is a legal unprefixed field name: non-empty,
// not starting with "$", and free of "." and NUL.
func IsIdentifier(s string) bool {
	return s != "" && !strings.HasPrefix(s, "$") && !strings.ContainsAny(s, ".\x00")
}

// index returns the array position named by seg.
func index(seg string) (int, bool) {
	if seg == "" || (len(seg) > 1 && seg[0] == '0') {
		return 0, false
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	return n, err == nil
}

// CompileReader compiles a dotted path into a Reader.
func CompileReader(path string) (Reader, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	return newReader(segs), nil
}

// MustCompileReader is like CompileReader but panics on an invalid path.
func MustCompileReader(path string) Reader {
	r, err := CompileReader(path)
	if err != nil {
		panic("path: CompileReader(" + strconv.Quote(path) + "): " + err.Error())
	}
	return r
}

func newReader(segs []string) Reader {
	positions := make([]int, len(segs))
	for i, s := range segs {
		if n, ok := index(s); ok {
			positions[i] = n
		} else {
			positions[i] = -1
		}
	}
	return func(doc interface{}) types.Node {
		return read(doc, segs, positions, 0)
	}
}

func read(v interface{}, segs []string, positions []int, i int) types.Node {
	seg := segs[i]
	last := i == len(segs)-1
	if vals, ok := types.ArrayValues(v); ok {
		if pos := positions[i]; pos >= 0 {
			if pos >= len(vals) {
				return types.Absent()
			}
			return step(vals[pos], seg, segs, positions, i, last)
		}
		seq := make(types.Sequence, 0, len(vals))
		for _, el := range vals {
			if !types.IsObject(el) {
				continue
			}
			n := read(el, segs, positions, i)
			if inner, ok := n.Value.(types.Sequence); ok {
				seq = append(seq, inner...)
			} else {
				seq = append(seq, n)
			}
		}
		return types.Node{Kind: types.KindArray, Value: seq, Key: seg}
	}
	if !types.IsObject(v) {
		return types.Absent()
	}
	fv, ok := types.Field(v, seg)
	if !ok {
		return types.Absent()
	}
	return step(fv, seg, segs, positions, i, last)
}

func step(v interface{}, seg string, segs []string, positions []int, i int, last bool) types.Node {
	if last {
		n := types.Wrap(v)
		n.Key = seg
		return n
	}
	return read(v, segs, positions, i+1)
}
