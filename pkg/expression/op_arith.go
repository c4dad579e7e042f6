package expression

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sandrolain/gomql/pkg/types"
)

func registerArithmetic() {
	operators["$add"] = eager(0, -1, opAdd)
	operators["$subtract"] = eager(2, 2, opSubtract)
	operators["$multiply"] = eager(0, -1, nullable(func(a []types.Node) (interface{}, error) {
		return fold("$multiply", a, int32(1), types.Multiply)
	}))
	operators["$divide"] = eager(2, 2, nullable(func(a []types.Node) (interface{}, error) {
		return types.Divide(a[0], a[1])
	}))
	operators["$mod"] = eager(2, 2, nullable(func(a []types.Node) (interface{}, error) {
		return types.Mod(a[0], a[1])
	}))
	operators["$abs"] = eager(1, 1, nullable(opAbs))
	operators["$ceil"] = eager(1, 1, nullable(rounding("$ceil", math.Ceil, decimal.Decimal.Ceil)))
	operators["$floor"] = eager(1, 1, nullable(rounding("$floor", math.Floor, decimal.Decimal.Floor)))
	operators["$round"] = eager(1, 2, nullable(places("$round", math.RoundToEven, func(d decimal.Decimal, p int32) decimal.Decimal {
		return d.RoundBank(p)
	})))
	operators["$trunc"] = eager(1, 2, nullable(places("$trunc", math.Trunc, decimal.Decimal.Truncate)))
	operators["$sqrt"] = eager(1, 1, nullable(float1("$sqrt", func(x float64) (float64, error) {
		if x < 0 {
			return 0, types.TypeMismatch("$sqrt", "argument must be greater than or equal to 0")
		}
		return math.Sqrt(x), nil
	})))
	operators["$exp"] = eager(1, 1, nullable(float1("$exp", func(x float64) (float64, error) { return math.Exp(x), nil })))
	operators["$ln"] = eager(1, 1, nullable(float1("$ln", func(x float64) (float64, error) {
		if x <= 0 {
			return 0, types.TypeMismatch("$ln", "argument must be a positive number")
		}
		return math.Log(x), nil
	})))
	operators["$log10"] = eager(1, 1, nullable(float1("$log10", func(x float64) (float64, error) {
		if x <= 0 {
			return 0, types.TypeMismatch("$log10", "argument must be a positive number")
		}
		return math.Log10(x), nil
	})))
	operators["$pow"] = eager(2, 2, nullable(opPow))
}

// nullable makes an operator return null when any argument is nullish.
func nullable(fn opFunc) opFunc {
	return func(a []types.Node) (interface{}, error) {
		for _, n := range a {
			if n.IsNull() {
				return nil, nil
			}
		}
		return fn(a)
	}
}

func fold(op string, a []types.Node, identity interface{}, fn func(x, y types.Node) (interface{}, error)) (interface{}, error) {
	acc := types.Wrap(identity)
	for _, n := range a {
		if !n.Kind.IsNumeric() {
			return nil, types.TypeMismatch(op, "only supports numeric types, not %s", n.Kind)
		}
		v, err := fn(acc, n)
		if err != nil {
			return nil, err
		}
		acc = types.Wrap(v)
	}
	return acc.Value, nil
}

// opAdd sums numbers. One argument may be a date, in which case the sum is a
// date shifted by the other arguments in milliseconds.
func opAdd(a []types.Node) (interface{}, error) {
	var date types.Node
	nums := make([]types.Node, 0, len(a))
	for _, n := range a {
		switch {
		case n.IsNull():
			return nil, nil
		case n.Kind == types.KindDate:
			if date.Kind == types.KindDate {
				return nil, types.TypeMismatch("$add", "only one date allowed in an $add expression")
			}
			date = n
		default:
			nums = append(nums, n)
		}
	}
	sum, err := fold("$add", nums, int32(0), types.Add)
	if err != nil {
		return nil, err
	}
	if date.Kind != types.KindDate {
		return sum, nil
	}
	t, _ := types.UnwrapTime(date)
	ms, _ := types.AsFloat(types.Wrap(sum))
	return t.Add(time.Duration(math.Round(ms)) * time.Millisecond), nil
}

func opSubtract(a []types.Node) (interface{}, error) {
	x, y := a[0], a[1]
	if x.IsNull() || y.IsNull() {
		return nil, nil
	}
	if x.Kind == types.KindDate {
		tx, _ := types.UnwrapTime(x)
		switch {
		case y.Kind == types.KindDate:
			ty, _ := types.UnwrapTime(y)
			return tx.Sub(ty).Milliseconds(), nil
		case y.Kind.IsNumeric():
			ms, _ := types.AsFloat(y)
			return tx.Add(-time.Duration(math.Round(ms)) * time.Millisecond), nil
		}
	}
	if !x.Kind.IsNumeric() || !y.Kind.IsNumeric() {
		return nil, types.TypeMismatch("$subtract", "cannot subtract %s from %s", y.Kind, x.Kind)
	}
	return types.Subtract(x, y)
}

func opAbs(a []types.Node) (interface{}, error) {
	n := a[0]
	switch n.Kind {
	case types.KindInt, types.KindLong:
		i, ok := types.AsInt64(n)
		if !ok || i == math.MinInt64 {
			return nil, types.TypeMismatch("$abs", "can't take the absolute value of the most negative long")
		}
		if i >= 0 {
			return n.Value, nil
		}
		return types.Multiply(n, types.Wrap(int32(-1)))
	case types.KindDouble:
		f, _ := types.AsFloat(n)
		return math.Abs(f), nil
	case types.KindDecimal:
		d, ok := types.AsDecimal(n)
		if !ok {
			return n.Value, nil
		}
		return types.DecimalValue(d.Abs()), nil
	}
	return nil, types.TypeMismatch("$abs", "only supports numeric types, not %s", n.Kind)
}

// rounding builds $ceil and $floor. Integers are returned unchanged.
func rounding(op string, ff func(float64) float64, fd func(decimal.Decimal) decimal.Decimal) opFunc {
	return func(a []types.Node) (interface{}, error) {
		n := a[0]
		switch n.Kind {
		case types.KindInt, types.KindLong:
			return n.Value, nil
		case types.KindDouble:
			f, _ := types.AsFloat(n)
			return ff(f), nil
		case types.KindDecimal:
			d, ok := types.AsDecimal(n)
			if !ok {
				return n.Value, nil
			}
			return types.DecimalValue(fd(d)), nil
		}
		return nil, types.TypeMismatch(op, "only supports numeric types, not %s", n.Kind)
	}
}

// places builds $round and $trunc with an optional place argument between
// -20 and 100.
func places(op string, ff func(float64) float64, fd func(decimal.Decimal, int32) decimal.Decimal) opFunc {
	return func(a []types.Node) (interface{}, error) {
		n := a[0]
		place := int64(0)
		if len(a) > 1 {
			p, ok := types.AsInt64(a[1])
			if !ok || p < -20 || p > 100 {
				return nil, types.TypeMismatch(op, "place must be an integer between -20 and 100")
			}
			place = p
		}
		switch n.Kind {
		case types.KindInt, types.KindLong:
			if place >= 0 {
				return n.Value, nil
			}
			d, _ := types.AsDecimal(n)
			return intLike(n, n, fd(d, int32(place)).IntPart()), nil
		case types.KindDouble:
			f, _ := types.AsFloat(n)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return f, nil
			}
			scale := math.Pow10(int(place))
			return ff(f*scale) / scale, nil
		case types.KindDecimal:
			d, ok := types.AsDecimal(n)
			if !ok {
				return n.Value, nil
			}
			return types.DecimalValue(fd(d, int32(place))), nil
		}
		return nil, types.TypeMismatch(op, "only supports numeric types, not %s", n.Kind)
	}
}

// intLike returns r with the Go integer type of the operands: int when
// either is a Go int, int64 when either is a Long, otherwise int32 while it
// fits.
func intLike(a, b types.Node, r int64) interface{} {
	_, ai := a.Value.(int)
	_, bi := b.Value.(int)
	switch {
	case ai || bi:
		return int(r)
	case a.Kind == types.KindLong || b.Kind == types.KindLong:
		return r
	case r >= math.MinInt32 && r <= math.MaxInt32:
		return int32(r)
	}
	return r
}

func float1(op string, fn func(float64) (float64, error)) opFunc {
	return func(a []types.Node) (interface{}, error) {
		n := a[0]
		if !n.Kind.IsNumeric() {
			return nil, types.TypeMismatch(op, "only supports numeric types, not %s", n.Kind)
		}
		f, _ := types.AsFloat(n)
		return fn(f)
	}
}

func opPow(a []types.Node) (interface{}, error) {
	base, exp := a[0], a[1]
	if !base.Kind.IsNumeric() || !exp.Kind.IsNumeric() {
		return nil, types.TypeMismatch("$pow", "only supports numeric types, not %s and %s", base.Kind, exp.Kind)
	}
	if base.Kind == types.KindDecimal || exp.Kind == types.KindDecimal {
		b, okb := types.AsDecimal(base)
		e, oke := types.AsDecimal(exp)
		if okb && oke {
			if b.IsZero() && e.IsNegative() {
				return nil, types.TypeMismatch("$pow", "0 cannot be raised to a negative power")
			}
			return types.DecimalValue(b.Pow(e)), nil
		}
	}
	bi, bInt := types.AsInt64(base)
	ei, eInt := types.AsInt64(exp)
	intKinds := (base.Kind == types.KindInt || base.Kind == types.KindLong) &&
		(exp.Kind == types.KindInt || exp.Kind == types.KindLong)
	if intKinds && bInt && eInt {
		if bi == 0 && ei < 0 {
			return nil, types.TypeMismatch("$pow", "0 cannot be raised to a negative power")
		}
		if r, ok := powInt(bi, ei); ok {
			return intLike(base, exp, r), nil
		}
	}
	x, _ := types.AsFloat(base)
	y, _ := types.AsFloat(exp)
	return math.Pow(x, y), nil
}

// powInt computes b**e for e >= 0, reporting false on overflow.
func powInt(b, e int64) (int64, bool) {
	switch {
	case e < 0:
		return 0, false
	case b == 0 || b == 1:
		if e == 0 {
			return 1, true
		}
		return b, true
	case b == -1:
		if e%2 == 0 {
			return 1, true
		}
		return -1, true
	case e > 63:
		return 0, false
	}
	r := int64(1)
	for i := int64(0); i < e; i++ {
		if r > math.MaxInt64/abs64(b) || r < math.MinInt64/abs64(b) {
			return 0, false
		}
		r *= b
	}
	return r, true
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
