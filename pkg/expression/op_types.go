package expression

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/types"
)

// dateLayout is the layout $toString uses for dates.
const dateLayout = "2006-01-02T15:04:05.000Z"

func registerTypes() {
	operators["$type"] = eager(1, 1, func(a []types.Node) (interface{}, error) {
		return TypeName(a[0]), nil
	})
	operators["$isNumber"] = eager(1, 1, func(a []types.Node) (interface{}, error) {
		return a[0].Kind.IsNumeric(), nil
	})
	operators["$toBool"] = eager(1, 1, convert(toBool))
	operators["$toString"] = eager(1, 1, convert(func(n types.Node) (interface{}, error) {
		return stringOf("$toString", n)
	}))
	operators["$toInt"] = eager(1, 1, convert(func(n types.Node) (interface{}, error) {
		i, err := toInt64("$toInt", n)
		if err != nil {
			return nil, err
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, types.TypeMismatch("$toInt", "conversion would overflow an int")
		}
		return int32(i), nil
	}))
	operators["$toLong"] = eager(1, 1, convert(func(n types.Node) (interface{}, error) {
		return toInt64("$toLong", n)
	}))
	operators["$toDouble"] = eager(1, 1, convert(toDouble))
	operators["$toDecimal"] = eager(1, 1, convert(toDecimal))
	operators["$toDate"] = eager(1, 1, convert(toDate))
	operators["$toObjectId"] = eager(1, 1, convert(func(n types.Node) (interface{}, error) {
		switch n.Kind {
		case types.KindObjectID:
			return n.Value, nil
		case types.KindString:
			id, err := bson.ObjectIDFromHex(n.Value.(string))
			if err != nil {
				return nil, types.TypeMismatch("$toObjectId", "failed to parse objectId %q", n.Value).WithCause(err)
			}
			return id, nil
		}
		return nil, types.TypeMismatch("$toObjectId", "unsupported conversion from %s to objectId", n.Kind)
	}))
}

// TypeName returns the BSON type alias of a value as $type reports it.
func TypeName(n types.Node) string {
	if !n.Exists() {
		return "missing"
	}
	if _, ok := n.Value.(bson.Undefined); ok {
		return "undefined"
	}
	return n.Kind.String()
}

// convert wraps a conversion: null and missing convert to null.
func convert(fn func(types.Node) (interface{}, error)) opFunc {
	return func(a []types.Node) (interface{}, error) {
		if a[0].IsNull() {
			return nil, nil
		}
		return fn(a[0])
	}
}

func toBool(n types.Node) (interface{}, error) {
	switch {
	case n.Kind == types.KindBoolean:
		return n.Value, nil
	case n.Kind.IsNumeric():
		if d, ok := types.AsDecimal(n); ok {
			return !d.IsZero(), nil
		}
		return true, nil
	case n.Kind == types.KindString, n.Kind == types.KindSymbol:
		// every string converts to true, including "false" and ""
		return true, nil
	}
	b, err := cast.ToBoolE(n.Value)
	if err != nil {
		return true, nil
	}
	return b, nil
}

// stringOf converts a scalar to its string form.
func stringOf(op string, n types.Node) (string, error) {
	switch n.Kind {
	case types.KindString, types.KindSymbol:
		return types.UnwrapString(n)
	case types.KindDouble:
		f, _ := types.AsFloat(n)
		return formatDouble(f), nil
	case types.KindDecimal:
		return n.Value.(bson.Decimal128).String(), nil
	case types.KindObjectID:
		return n.Value.(bson.ObjectID).Hex(), nil
	case types.KindDate:
		t, _ := types.UnwrapTime(n)
		return t.Format(dateLayout), nil
	case types.KindBinary:
		_, data, _ := types.BinaryData(n)
		return hex.EncodeToString(data), nil
	case types.KindNull:
		return "", nil
	}
	if n.Kind == types.KindInt || n.Kind == types.KindLong || n.Kind == types.KindBoolean {
		s, err := cast.ToStringE(n.Value)
		if err == nil {
			return s, nil
		}
	}
	return "", types.TypeMismatch(op, "unsupported conversion from %s to string", n.Kind)
}

func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// toInt64 converts to a 64-bit integer. Doubles are truncated; strings must
// hold a base 10 integer.
func toInt64(op string, n types.Node) (int64, error) {
	switch n.Kind {
	case types.KindString:
		i, err := strconv.ParseInt(strings.TrimSpace(n.Value.(string)), 10, 64)
		if err != nil {
			return 0, types.TypeMismatch(op, "failed to parse number %q in $convert", n.Value).WithCause(err)
		}
		return i, nil
	case types.KindDouble, types.KindDecimal:
		f, _ := types.AsFloat(n)
		if math.IsNaN(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, types.TypeMismatch(op, "conversion would overflow a long")
		}
		return int64(math.Trunc(f)), nil
	case types.KindDate:
		ms, _ := types.UnixMillis(n)
		return ms, nil
	case types.KindInt, types.KindLong, types.KindBoolean:
		i, err := cast.ToInt64E(n.Value)
		if err == nil {
			return i, nil
		}
	}
	return 0, types.TypeMismatch(op, "unsupported conversion from %s to an integer", n.Kind)
}

func toDouble(n types.Node) (interface{}, error) {
	switch n.Kind {
	case types.KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(n.Value.(string)), 64)
		if err != nil {
			return nil, types.TypeMismatch("$toDouble", "failed to parse number %q", n.Value).WithCause(err)
		}
		return f, nil
	case types.KindDecimal:
		f, _ := types.AsFloat(n)
		return f, nil
	case types.KindDate:
		ms, _ := types.UnixMillis(n)
		return float64(ms), nil
	case types.KindInt, types.KindLong, types.KindDouble, types.KindBoolean:
		f, err := cast.ToFloat64E(n.Value)
		if err == nil {
			return f, nil
		}
	}
	return nil, types.TypeMismatch("$toDouble", "unsupported conversion from %s to double", n.Kind)
}

func toDecimal(n types.Node) (interface{}, error) {
	switch n.Kind {
	case types.KindDecimal:
		return n.Value, nil
	case types.KindString:
		d, err := bson.ParseDecimal128(strings.TrimSpace(n.Value.(string)))
		if err != nil {
			return nil, types.TypeMismatch("$toDecimal", "failed to parse number %q", n.Value).WithCause(err)
		}
		return d, nil
	case types.KindBoolean:
		if n.Value.(bool) {
			return types.DecimalValue(decimal.NewFromInt(1)), nil
		}
		return types.DecimalValue(decimal.Zero), nil
	case types.KindDate:
		ms, _ := types.UnixMillis(n)
		return types.DecimalValue(decimal.NewFromInt(ms)), nil
	case types.KindInt, types.KindLong, types.KindDouble:
		if d, ok := types.AsDecimal(n); ok {
			return types.DecimalValue(d), nil
		}
		f, _ := types.AsFloat(n)
		return bson.ParseDecimal128(formatDouble(f))
	}
	return nil, types.TypeMismatch("$toDecimal", "unsupported conversion from %s to decimal", n.Kind)
}

// dateLayouts are the string forms $toDate accepts.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toDate(n types.Node) (interface{}, error) {
	switch n.Kind {
	case types.KindDate:
		return types.UnwrapTime(n)
	case types.KindInt, types.KindLong, types.KindDouble, types.KindDecimal:
		ms, err := toInt64("$toDate", n)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(ms).UTC(), nil
	case types.KindString:
		s := strings.TrimSpace(n.Value.(string))
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, types.TypeMismatch("$toDate", "error parsing date string %q", s)
	case types.KindObjectID:
		return n.Value.(bson.ObjectID).Timestamp().UTC(), nil
	case types.KindTimestamp:
		ts := types.TimestampValue(n)
		return time.Unix(int64(ts.T), 0).UTC(), nil
	}
	return nil, types.TypeMismatch("$toDate", "unsupported conversion from %s to date", n.Kind)
}
