// Package compare implements MongoDB's total order over document values and
// its equality rules.
//
// Values of different types compare by type class in the canonical BSON order:
//
//	MinKey < Null < Numbers < Symbol, String < Object < Array < BinData <
//	ObjectId < Boolean < Date < Timestamp < Regex < MaxKey
//
// Numbers compare by mathematical value whatever their storage width.
package compare

import (
	"bytes"
	"math"
	"math/big"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/types"
)

// class returns the position of a kind in the canonical type order.
func class(k types.Kind) int {
	switch k {
	case types.KindMinKey:
		return 0
	case types.KindNull:
		return 1
	case types.KindInt, types.KindLong, types.KindDouble, types.KindDecimal:
		return 2
	case types.KindString, types.KindSymbol:
		return 3
	case types.KindObject, types.KindExpression:
		return 4
	case types.KindArray:
		return 5
	case types.KindBinary:
		return 6
	case types.KindObjectID:
		return 7
	case types.KindBoolean:
		return 8
	case types.KindDate:
		return 9
	case types.KindTimestamp:
		return 10
	case types.KindRegex:
		return 11
	case types.KindMaxKey:
		return 12
	}
	return 1
}

// SameClass reports whether a and b belong to the same type class, which is
// the condition for ordering operators such as $gt to match.
func SameClass(a, b types.Node) bool {
	return class(a.Kind) == class(b.Kind)
}

// Compare returns -1, 0 or 1 as a sorts before, equal to or after b.
func Compare(a, b types.Node) int {
	ca, cb := class(a.Kind), class(b.Kind)
	if ca != cb {
		return sign(ca - cb)
	}
	switch ca {
	case 2:
		return compareNumbers(a, b)
	case 3:
		sa, _ := types.UnwrapString(a)
		sb, _ := types.UnwrapString(b)
		return strings.Compare(sa, sb)
	case 4:
		return compareObjects(a.Value, b.Value)
	case 5:
		return compareArrays(a.Elements(), b.Elements())
	case 6:
		return compareBinary(a, b)
	case 7:
		x, _ := a.Value.(bson.ObjectID)
		y, _ := b.Value.(bson.ObjectID)
		return bytes.Compare(x[:], y[:])
	case 8:
		x, _ := types.UnwrapBool(a)
		y, _ := types.UnwrapBool(b)
		return compareBool(x, y)
	case 9:
		x, _ := types.UnixMillis(a)
		y, _ := types.UnixMillis(b)
		return compareInt(x, y)
	case 10:
		return compareTimestamp(a, b)
	case 11:
		pa, oa, _ := types.RegexSource(a)
		pb, ob, _ := types.RegexSource(b)
		if c := strings.Compare(pa, pb); c != 0 {
			return c
		}
		return strings.Compare(oa, ob)
	}
	return 0
}

// Lt reports whether a sorts before b.
func Lt(a, b types.Node) bool {
	return Compare(a, b) < 0
}

// Gt reports whether a sorts after b.
func Gt(a, b types.Node) bool {
	return Compare(a, b) > 0
}

// Values compares two native values.
func Values(a, b interface{}) int {
	return Compare(types.Wrap(a), types.Wrap(b))
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func compareInt(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compareBool(x, y bool) int {
	switch {
	case x == y:
		return 0
	case !x:
		return -1
	}
	return 1
}

// compareNumbers orders numbers by value. NaN sorts below every other number
// and equals itself.
func compareNumbers(a, b types.Node) int {
	fa, _ := types.AsFloat(a)
	fb, _ := types.AsFloat(b)
	nanA, nanB := math.IsNaN(fa), math.IsNaN(fb)
	switch {
	case nanA && nanB:
		return 0
	case nanA:
		return -1
	case nanB:
		return 1
	}
	if a.Kind == types.KindDecimal || b.Kind == types.KindDecimal {
		da, okA := types.AsDecimal(a)
		db, okB := types.AsDecimal(b)
		if okA && okB {
			return da.Cmp(db)
		}
		return compareFloat(fa, fb)
	}
	ia, intA := types.AsInt64(a)
	ib, intB := types.AsInt64(b)
	isIntA := a.Kind == types.KindInt || a.Kind == types.KindLong
	isIntB := b.Kind == types.KindInt || b.Kind == types.KindLong
	switch {
	case isIntA && isIntB && intA && intB:
		return compareInt(ia, ib)
	case isIntA && intA && !isIntB:
		return -compareFloatInt(fb, ia)
	case isIntB && intB && !isIntA:
		return compareFloatInt(fa, ib)
	}
	return compareFloat(fa, fb)
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// compareFloatInt compares a float64 and an int64 exactly. Large int64 values
// are not representable as float64, so both are lifted to big.Float.
func compareFloatInt(f float64, i int64) int {
	if math.IsInf(f, 1) {
		return 1
	}
	if math.IsInf(f, -1) {
		return -1
	}
	return big.NewFloat(f).Cmp(new(big.Float).SetInt64(i))
}

func compareObjects(a, b interface{}) int {
	fa, fb := types.Fields(a), types.Fields(b)
	for i := 0; i < len(fa) && i < len(fb); i++ {
		va, vb := types.Wrap(fa[i].Value), types.Wrap(fb[i].Value)
		if c := sign(class(va.Kind) - class(vb.Kind)); c != 0 {
			return c
		}
		if c := strings.Compare(fa[i].Key, fb[i].Key); c != 0 {
			return c
		}
		if c := Compare(va, vb); c != 0 {
			return c
		}
	}
	return sign(len(fa) - len(fb))
}

func compareArrays(a, b []types.Node) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return sign(len(a) - len(b))
}

func compareBinary(a, b types.Node) int {
	sa, da, _ := types.BinaryData(a)
	sb, db, _ := types.BinaryData(b)
	if c := sign(len(da) - len(db)); c != 0 {
		return c
	}
	if c := sign(int(sa) - int(sb)); c != 0 {
		return c
	}
	return bytes.Compare(da, db)
}

func compareTimestamp(a, b types.Node) int {
	ta, tb := types.TimestampValue(a), types.TimestampValue(b)
	if c := compareInt(int64(ta.T), int64(tb.T)); c != 0 {
		return c
	}
	return compareInt(int64(ta.I), int64(tb.I))
}
