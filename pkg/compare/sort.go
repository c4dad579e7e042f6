package compare

import (
	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

// SortKey is one key of a multi-key sort specification.
type SortKey struct {
	Path       string
	Descending bool
	read       path.Reader
}

// NewSortKey compiles a sort key. direction must be 1 or -1.
func NewSortKey(field string, direction int) (SortKey, error) {
	if direction != 1 && direction != -1 {
		return SortKey{}, types.CompileError(types.ErrBadArgument, "$sort", "sort direction must be 1 or -1, got %d", direction).WithPath(field)
	}
	r, err := path.CompileReader(field)
	if err != nil {
		return SortKey{}, err
	}
	return SortKey{Path: field, Descending: direction < 0, read: r}, nil
}

// sortValue returns the value a document sorts by. An array sorts by its
// smallest element ascending and its largest element descending; an empty
// array sorts like a missing field.
func (k SortKey) sortValue(doc interface{}) types.Node {
	n := k.read(doc)
	var cands []types.Node
	switch {
	case n.IsSequence():
		for _, c := range n.Candidates() {
			if c.IsArray() {
				cands = append(cands, c.Elements()...)
			} else {
				cands = append(cands, c)
			}
		}
	case n.IsArray():
		cands = n.Elements()
	default:
		return n
	}
	if len(cands) == 0 {
		return types.Absent()
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c2 := Compare(c, best); (k.Descending && c2 > 0) || (!k.Descending && c2 < 0) {
			best = c
		}
	}
	return best
}

// Documents returns a comparison function ordering documents by keys, in key
// order. It is meant for a stable sort.
func Documents(keys []SortKey) func(a, b interface{}) int {
	return func(a, b interface{}) int {
		for _, k := range keys {
			c := Compare(k.sortValue(a), k.sortValue(b))
			if k.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}
