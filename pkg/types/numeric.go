package types

import (
	"math"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// integerValue returns the int64 value of a Go integer.
func integerValue(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

// AsFloat returns the value of a numeric node as a float64.
func AsFloat(n Node) (float64, bool) {
	switch n.Kind {
	case KindInt, KindLong:
		if i, ok := integerValue(n.Value); ok {
			return float64(i), true
		}
		if u, ok := n.Value.(uint64); ok {
			return float64(u), true
		}
		if u, ok := n.Value.(uint); ok {
			return float64(u), true
		}
	case KindDouble:
		switch x := n.Value.(type) {
		case float64:
			return x, true
		case float32:
			return float64(x), true
		}
	case KindDecimal:
		d := n.Value.(bson.Decimal128)
		if d.IsNaN() {
			return math.NaN(), true
		}
		if inf := d.IsInf(); inf != 0 {
			return math.Inf(inf), true
		}
		if dec, err := decimal.NewFromString(d.String()); err == nil {
			f, _ := dec.Float64()
			return f, true
		}
	}
	return 0, false
}

// AsInt64 returns the value of a numeric node as an int64. Doubles and
// decimals qualify only when they hold an integral value in range.
func AsInt64(n Node) (int64, bool) {
	switch n.Kind {
	case KindInt, KindLong:
		return integerValue(n.Value)
	case KindDouble, KindDecimal:
		f, ok := AsFloat(n)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// AsDecimal returns the value of a numeric node as an arbitrary-precision
// decimal. NaN and infinities have no decimal representation.
func AsDecimal(n Node) (decimal.Decimal, bool) {
	switch n.Kind {
	case KindInt, KindLong:
		if i, ok := integerValue(n.Value); ok {
			return decimal.NewFromInt(i), true
		}
		f, _ := AsFloat(n)
		return decimal.NewFromFloat(f), true
	case KindDouble:
		f, _ := AsFloat(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(f), true
	case KindDecimal:
		d := n.Value.(bson.Decimal128)
		if d.IsNaN() || d.IsInf() != 0 {
			return decimal.Decimal{}, false
		}
		dec, err := decimal.NewFromString(d.String())
		return dec, err == nil
	}
	return decimal.Decimal{}, false
}

// DecimalValue converts an arbitrary-precision decimal back to a Decimal128.
// Values that do not fit are returned as float64.
func DecimalValue(d decimal.Decimal) interface{} {
	v, err := bson.ParseDecimal128(d.String())
	if err != nil {
		f, _ := d.Float64()
		return f
	}
	return v
}

// UnwrapNumber returns the payload of a numeric node unchanged (int32, int64,
// float64, Decimal128 or a Go integer) or fails with a TypeMismatch.
func UnwrapNumber(n Node) (interface{}, error) {
	if n.Kind.IsNumeric() {
		return n.Value, nil
	}
	return nil, TypeMismatch("unwrap", "expected a number, got %s", n.Kind)
}

// UnwrapFloat returns a numeric node as a float64 or fails with a TypeMismatch.
func UnwrapFloat(n Node) (float64, error) {
	if f, ok := AsFloat(n); ok {
		return f, nil
	}
	return 0, TypeMismatch("unwrap", "expected a number, got %s", n.Kind)
}

// UnwrapInt64 returns an integral numeric node as an int64 or fails with a
// TypeMismatch.
func UnwrapInt64(n Node) (int64, error) {
	if i, ok := AsInt64(n); ok {
		return i, nil
	}
	return 0, TypeMismatch("unwrap", "expected an integer, got %s", n.Kind)
}

// Arithmetic follows MongoDB's promotion rules: the result has the widest kind of
// its operands (Int, Long, Double, Decimal). Integer overflow widens the result.

// Add returns a + b.
func Add(a, b Node) (interface{}, error) {
	return arith("$add", a, b, addInt, func(x, y float64) float64 { return x + y },
		func(x, y decimal.Decimal) (decimal.Decimal, error) { return x.Add(y), nil })
}

// Subtract returns a - b.
func Subtract(a, b Node) (interface{}, error) {
	return arith("$subtract", a, b, func(x, y int64) (int64, bool) {
		if y == math.MinInt64 {
			return 0, false
		}
		return addInt(x, -y)
	}, func(x, y float64) float64 { return x - y },
		func(x, y decimal.Decimal) (decimal.Decimal, error) { return x.Sub(y), nil })
}

// Multiply returns a * b.
func Multiply(a, b Node) (interface{}, error) {
	return arith("$multiply", a, b, mulInt, func(x, y float64) float64 { return x * y },
		func(x, y decimal.Decimal) (decimal.Decimal, error) { return x.Mul(y), nil })
}

// Divide returns a / b. The result is a double unless a decimal is involved.
func Divide(a, b Node) (interface{}, error) {
	if !a.Kind.IsNumeric() || !b.Kind.IsNumeric() {
		return nil, TypeMismatch("$divide", "only numbers can be divided, got %s and %s", a.Kind, b.Kind)
	}
	if isZero(b) {
		return nil, TypeMismatch("$divide", "can't divide by zero")
	}
	if a.Kind == KindDecimal || b.Kind == KindDecimal {
		x, okx := AsDecimal(a)
		y, oky := AsDecimal(b)
		if okx && oky {
			return DecimalValue(x.DivRound(y, 34)), nil
		}
	}
	x, _ := AsFloat(a)
	y, _ := AsFloat(b)
	return x / y, nil
}

// Mod returns the remainder of a / b, truncated towards zero.
func Mod(a, b Node) (interface{}, error) {
	if !a.Kind.IsNumeric() || !b.Kind.IsNumeric() {
		return nil, TypeMismatch("$mod", "only numbers are supported, got %s and %s", a.Kind, b.Kind)
	}
	if isZero(b) {
		return nil, TypeMismatch("$mod", "can't take the remainder of a division by zero")
	}
	return arith("$mod", a, b, func(x, y int64) (int64, bool) {
		if y == -1 {
			return 0, true
		}
		return x % y, true
	}, math.Mod, func(x, y decimal.Decimal) (decimal.Decimal, error) { return x.Mod(y), nil })
}

func isZero(n Node) bool {
	f, ok := AsFloat(n)
	return ok && f == 0
}

func arith(op string, a, b Node,
	fi func(x, y int64) (int64, bool),
	ff func(x, y float64) float64,
	fd func(x, y decimal.Decimal) (decimal.Decimal, error),
) (interface{}, error) {
	if !a.Kind.IsNumeric() || !b.Kind.IsNumeric() {
		return nil, TypeMismatch(op, "only numbers are supported, got %s and %s", a.Kind, b.Kind)
	}
	if a.Kind == KindDecimal || b.Kind == KindDecimal {
		x, okx := AsDecimal(a)
		y, oky := AsDecimal(b)
		if okx && oky {
			r, err := fd(x, y)
			if err != nil {
				return nil, TypeMismatch(op, "%v", err)
			}
			return DecimalValue(r), nil
		}
	}
	if a.Kind == KindDouble || b.Kind == KindDouble || a.Kind == KindDecimal || b.Kind == KindDecimal {
		x, _ := AsFloat(a)
		y, _ := AsFloat(b)
		return ff(x, y), nil
	}
	x, okx := integerValue(a.Value)
	y, oky := integerValue(b.Value)
	if !okx || !oky {
		fx, _ := AsFloat(a)
		fy, _ := AsFloat(b)
		return ff(fx, fy), nil
	}
	r, ok := fi(x, y)
	if !ok {
		return ff(float64(x), float64(y)), nil
	}
	return integerResult(a, b, r), nil
}

// integerResult picks the Go type of an integer result: Go int operands keep
// int, Long operands give int64 and Int operands give int32 while it fits.
func integerResult(a, b Node, r int64) interface{} {
	_, ai := a.Value.(int)
	_, bi := b.Value.(int)
	switch {
	case ai || bi:
		return int(r)
	case a.Kind == KindLong || b.Kind == KindLong:
		return r
	case r >= math.MinInt32 && r <= math.MaxInt32:
		return int32(r)
	}
	return r
}

func addInt(x, y int64) (int64, bool) {
	r := x + y
	if (x > 0 && y > 0 && r < 0) || (x < 0 && y < 0 && r >= 0) {
		return 0, false
	}
	return r, true
}

func mulInt(x, y int64) (int64, bool) {
	if x == 0 || y == 0 {
		return 0, true
	}
	if (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
		return 0, false
	}
	r := x * y
	if r/y != x {
		return 0, false
	}
	return r, true
}
