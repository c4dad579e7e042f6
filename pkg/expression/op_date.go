package expression

import (
	"strconv"
	"strings"
	"time"

	"github.com/sandrolain/gomql/pkg/types"
)

func registerDates() {
	parts := map[string]func(t time.Time) int{
		"$year":        time.Time.Year,
		"$month":       func(t time.Time) int { return int(t.Month()) },
		"$dayOfMonth":  time.Time.Day,
		"$dayOfWeek":   func(t time.Time) int { return int(t.Weekday()) + 1 },
		"$dayOfYear":   time.Time.YearDay,
		"$hour":        time.Time.Hour,
		"$minute":      time.Time.Minute,
		"$second":      time.Time.Second,
		"$millisecond": func(t time.Time) int { return t.Nanosecond() / int(time.Millisecond) },
	}
	for name, fn := range parts {
		operators[name] = datePart(fn)
	}
}

// datePart builds an operator extracting one calendar field. The argument is a
// date expression, a one-element array, or {date, timezone}. Dates are read in
// UTC unless a timezone is given.
func datePart(part func(time.Time) int) compileFunc {
	return func(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
		dateSpec, tzSpec := arg, interface{}(nil)
		if types.Wrap(arg).Kind == types.KindObject && hasKey(arg, "date") {
			named, err := namedArgs(name, arg, []string{"date"}, "timezone")
			if err != nil {
				return nil, err
			}
			dateSpec, tzSpec = named["date"], named["timezone"]
		} else if vals, ok := types.ArrayValues(arg); ok {
			if err := checkArity(name, len(vals), 1, 1); err != nil {
				return nil, err
			}
			dateSpec = vals[0]
		}
		date, err := c.compile(dateSpec, sc)
		if err != nil {
			return nil, err
		}
		var tz Expr
		if tzSpec != nil {
			if s, ok := tzSpec.(string); ok && !strings.HasPrefix(s, "$") {
				if _, err := location(s); err != nil {
					return nil, types.CompileError(types.ErrBadArgument, name, "unrecognized time zone identifier %q", s)
				}
			}
			if tz, err = c.compile(tzSpec, sc); err != nil {
				return nil, err
			}
		}
		return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
			n, err := evalNode(date, env)
			if err != nil {
				return nil, err
			}
			if n.IsNull() {
				return nil, nil
			}
			var t time.Time
			switch n.Kind {
			case types.KindDate:
				t, _ = types.UnwrapTime(n)
			case types.KindObjectID, types.KindTimestamp:
				v, _ := toDate(n)
				t = v.(time.Time)
			default:
				return nil, types.TypeMismatch(name, "can't convert from BSON type %s to Date", n.Kind)
			}
			if tz != nil {
				zn, err := evalNode(tz, env)
				if err != nil {
					return nil, err
				}
				if zn.IsNull() {
					return nil, nil
				}
				zs, err := stringArg(name, zn)
				if err != nil {
					return nil, err
				}
				loc, err := location(zs)
				if err != nil {
					return nil, types.TypeMismatch(name, "unrecognized time zone identifier %q", zs)
				}
				t = t.In(loc)
			}
			return int32(part(t)), nil
		}}, nil
	}
}

func hasKey(obj interface{}, key string) bool {
	_, ok := types.Field(obj, key)
	return ok
}

// location resolves an Olson time zone name or a UTC offset such as "+02:00",
// "-0530" or "+03".
func location(tz string) (*time.Location, error) {
	if tz != "" && (tz[0] == '+' || tz[0] == '-') {
		digits := strings.ReplaceAll(tz[1:], ":", "")
		var h, m int
		var err error
		switch len(digits) {
		case 2:
			h, err = strconv.Atoi(digits)
		case 4:
			if h, err = strconv.Atoi(digits[:2]); err == nil {
				m, err = strconv.Atoi(digits[2:])
			}
		default:
			return nil, types.CompileError(types.ErrBadArgument, "timezone", "bad UTC offset %q", tz)
		}
		if err != nil {
			return nil, err
		}
		offset := h*3600 + m*60
		if tz[0] == '-' {
			offset = -offset
		}
		return time.FixedZone(tz, offset), nil
	}
	return time.LoadLocation(tz)
}
