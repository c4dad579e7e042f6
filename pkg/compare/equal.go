package compare

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/types"
)

// Equals reports whether a and b are equal under MongoDB's equality rules.
// Null, undefined and a missing field are mutually equal; numbers are equal
// across storage widths; regexes compare by pattern and flags; arrays compare
// element by element in order. Ordered documents compare field by field, while
// documents backed by a Go map, which carry no order, compare by key set.
func Equals(a, b types.Node) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if !SameClass(a, b) {
		return false
	}
	switch {
	case a.IsArray():
		return equalArrays(a.Elements(), b.Elements())
	case a.IsObject():
		return equalObjects(a.Value, b.Value)
	}
	return Compare(a, b) == 0
}

// EqualValues reports whether two native values are equal.
func EqualValues(a, b interface{}) bool {
	return Equals(types.Wrap(a), types.Wrap(b))
}

// EqualsAny implements the array unwrap rule of equality match operators: the
// field matches when it equals value as a whole or, for an array field, when
// any of its elements equals value.
func EqualsAny(field, value types.Node) bool {
	if Equals(field, value) {
		return true
	}
	if !field.IsArray() {
		return false
	}
	for _, el := range field.Elements() {
		if Equals(el, value) {
			return true
		}
	}
	return false
}

// Truthy reports the boolean value of n in aggregation expressions: false,
// null, undefined, missing and numeric zero are false, everything else true.
func Truthy(n types.Node) bool {
	switch {
	case n.IsNull():
		return false
	case n.Kind == types.KindBoolean:
		b, _ := types.UnwrapBool(n)
		return b
	case n.Kind.IsNumeric():
		if d, ok := types.AsDecimal(n); ok {
			return !d.IsZero()
		}
		return true
	}
	return true
}

func equalArrays(a, b []types.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equals(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalObjects(a, b interface{}) bool {
	if types.ObjectLen(a) != types.ObjectLen(b) {
		return false
	}
	fa, fb := types.Fields(a), types.Fields(b)
	if ordered(a) && ordered(b) {
		for i := range fa {
			if fa[i].Key != fb[i].Key || !Equals(types.Wrap(fa[i].Value), types.Wrap(fb[i].Value)) {
				return false
			}
		}
		return true
	}
	for _, f := range fa {
		v, ok := types.Field(b, f.Key)
		if !ok || !Equals(types.Wrap(f.Value), types.Wrap(v)) {
			return false
		}
	}
	return true
}

func ordered(obj interface{}) bool {
	_, ok := obj.(bson.D)
	return ok
}
