package filter

import (
	"math"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/spf13/cast"

	"github.com/sandrolain/gomql/pkg/compare"
	"github.com/sandrolain/gomql/pkg/expression"
	"github.com/sandrolain/gomql/pkg/regex"
	"github.com/sandrolain/gomql/pkg/types"
)

// unsupported names real MongoDB query operators this package does not
// evaluate. They fail with ErrUnsupported rather than ErrUnknownOperator.
var unsupported = map[string]bool{
	"$near":          true,
	"$nearSphere":    true,
	"$geoWithin":     true,
	"$geoIntersects": true,
	"$within":        true,
	"$bitsAllSet":    true,
	"$bitsAnySet":    true,
	"$bitsAllClear":  true,
	"$bitsAnyClear":  true,
	"$text":          true,
	"$where":         true,
}

func (c *Compiler) compileOperator(op string, arg interface{}) (matcher, error) {
	v := types.Wrap(arg)
	switch op {
	case "$eq":
		return whole(func(cand types.Node) bool {
			return compare.Equals(cand, v)
		}), nil
	case "$ne":
		return not(equality(v)), nil
	case "$gt", "$gte", "$lt", "$lte":
		return ordering(op, v), nil
	case "$in":
		return compileIn(op, v)
	case "$nin":
		m, err := compileIn(op, v)
		if err != nil {
			return nil, err
		}
		return not(m), nil
	case "$all":
		return c.compileAll(v)
	case "$exists":
		exists := whole(types.Node.Exists)
		if compare.Truthy(v) {
			return exists, nil
		}
		return not(exists), nil
	case "$type":
		return compileType(v)
	case "$size":
		return compileSize(v)
	case "$mod":
		return compileMod(v)
	case "$elemMatch":
		return c.compileElemMatch(v)
	case "$not":
		return c.compileNot(v)
	case "$comment":
		return func(types.Node) bool { return true }, nil
	}
	if unsupported[op] {
		return nil, types.CompileError(types.ErrUnsupported, op, "operator is not supported")
	}
	return nil, types.CompileError(types.ErrUnknownOperator, op, "unknown operator")
}

// ordering implements $gt, $gte, $lt and $lte. Values are only compared within
// the same type class; a null argument makes $gte and $lte match null and
// missing values.
func ordering(op string, v types.Node) matcher {
	var ok func(int) bool
	switch op {
	case "$gt":
		ok = func(c int) bool { return c > 0 }
	case "$gte":
		ok = func(c int) bool { return c >= 0 }
	case "$lt":
		ok = func(c int) bool { return c < 0 }
	default:
		ok = func(c int) bool { return c <= 0 }
	}
	if v.IsNull() {
		inclusive := op == "$gte" || op == "$lte"
		return unwrapping(func(cand types.Node) bool {
			return inclusive && cand.IsNull()
		})
	}
	return unwrapping(func(cand types.Node) bool {
		if !compare.SameClass(cand, v) {
			return false
		}
		return ok(compare.Compare(cand, v))
	})
}

func compileIn(op string, v types.Node) (matcher, error) {
	if !v.IsArray() {
		return nil, types.CompileError(types.ErrBadArgument, op, "needs an array")
	}
	elems := v.Elements()
	tests := make([]func(types.Node) bool, 0, len(elems))
	for _, el := range elems {
		switch el.Kind {
		case types.KindExpression:
			return nil, types.CompileError(types.ErrBadArgument, op, "cannot nest operators in %s", op)
		case types.KindRegex:
			t, err := nodeRegex(el)
			if err != nil {
				return nil, err
			}
			tests = append(tests, t)
		default:
			tests = append(tests, func(cand types.Node) bool {
				return compare.Equals(cand, el)
			})
		}
	}
	return unwrapping(func(cand types.Node) bool {
		for _, t := range tests {
			if t(cand) {
				return true
			}
		}
		return false
	}), nil
}

func (c *Compiler) compileAll(v types.Node) (matcher, error) {
	if !v.IsArray() {
		return nil, types.CompileError(types.ErrBadArgument, "$all", "needs an array")
	}
	elems := v.Elements()
	if len(elems) == 0 {
		return func(types.Node) bool { return false }, nil
	}
	matchers := make([]matcher, len(elems))
	for i, el := range elems {
		if el.Kind == types.KindExpression {
			sub, ok := types.Field(el.Value, "$elemMatch")
			if !ok {
				return nil, types.CompileError(types.ErrBadArgument, "$all", "no operators other than $elemMatch allowed in $all")
			}
			m, err := c.compileElemMatch(types.Wrap(sub))
			if err != nil {
				return nil, err
			}
			matchers[i] = m
			continue
		}
		if el.Kind == types.KindRegex {
			t, err := nodeRegex(el)
			if err != nil {
				return nil, err
			}
			matchers[i] = unwrapping(t)
			continue
		}
		matchers[i] = equality(el)
	}
	return func(n types.Node) bool {
		for _, m := range matchers {
			if !m(n) {
				return false
			}
		}
		return true
	}, nil
}

// typeCodes maps numeric $type codes to kinds.
var typeCodes = map[int64]string{
	1:   "double",
	2:   "string",
	3:   "object",
	4:   "array",
	5:   "binData",
	6:   "undefined",
	7:   "objectId",
	8:   "bool",
	9:   "date",
	10:  "null",
	11:  "regex",
	14:  "symbol",
	16:  "int",
	17:  "timestamp",
	18:  "long",
	19:  "decimal",
	-1:  "minKey",
	127: "maxKey",
}

func typeAlias(v types.Node) (string, error) {
	if v.Kind.IsNumeric() {
		code, err := cast.ToInt64E(v.Value)
		if err != nil {
			return "", types.CompileError(types.ErrBadArgument, "$type", "bad type code %v", v.Value)
		}
		alias, ok := typeCodes[code]
		if !ok {
			return "", types.CompileError(types.ErrBadArgument, "$type", "invalid numerical type code %d", code)
		}
		return alias, nil
	}
	s, ok := v.Value.(string)
	if !ok {
		return "", types.CompileError(types.ErrBadArgument, "$type", "type must be a string or number, got %s", v.Kind)
	}
	if s == "number" {
		return s, nil
	}
	for _, alias := range typeCodes {
		if alias == s {
			return s, nil
		}
	}
	return "", types.CompileError(types.ErrBadArgument, "$type", "unknown type name alias %q", s)
}

func compileType(v types.Node) (matcher, error) {
	specs := []types.Node{v}
	if v.IsArray() {
		specs = v.Elements()
	}
	aliases := make(map[string]bool, len(specs))
	for _, s := range specs {
		alias, err := typeAlias(s)
		if err != nil {
			return nil, err
		}
		aliases[alias] = true
	}
	return unwrapping(func(cand types.Node) bool {
		if !cand.Exists() {
			return false
		}
		if aliases["number"] && cand.Kind.IsNumeric() {
			return true
		}
		return aliases[expression.TypeName(cand)]
	}), nil
}

func compileSize(v types.Node) (matcher, error) {
	f, ok := types.AsFloat(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, types.CompileError(types.ErrBadArgument, "$size", "needs a whole number, got %v", v.Value)
	}
	if f < 0 {
		return nil, types.CompileError(types.ErrBadArgument, "$size", "may not be negative")
	}
	size := int(f)
	return whole(func(cand types.Node) bool {
		if !cand.IsArray() || cand.IsSequence() {
			return false
		}
		vals, _ := types.ArrayValues(cand.Value)
		return len(vals) == size
	}), nil
}

func compileMod(v types.Node) (matcher, error) {
	args := v.Elements()
	if !v.IsArray() || len(args) != 2 {
		return nil, types.CompileError(types.ErrBadArgument, "$mod", "needs an array of [divisor, remainder]")
	}
	var parts [2]int64
	for i, a := range args {
		f, ok := types.AsFloat(a)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, types.CompileError(types.ErrBadArgument, "$mod", "divisor and remainder must be numbers")
		}
		parts[i] = int64(f)
	}
	if parts[0] == 0 {
		return nil, types.CompileError(types.ErrBadArgument, "$mod", "divisor cannot be 0")
	}
	divisor, remainder := parts[0], parts[1]
	return unwrapping(func(cand types.Node) bool {
		if !cand.Kind.IsNumeric() {
			return false
		}
		f, ok := types.AsFloat(cand)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		n, ok := types.AsInt64(cand)
		if !ok {
			n = int64(f)
		}
		return n%divisor == remainder
	}), nil
}

// compileRegex handles {$regex: p, $options: o}. The pattern may be a string
// or a regex value; options may only come from one of the two.
func compileRegex(pattern, options interface{}, hasOptions bool) (matcher, error) {
	var opts string
	if hasOptions {
		s, ok := options.(string)
		if !ok {
			return nil, types.CompileError(types.ErrBadArgument, "$options", "needs a string")
		}
		opts = s
	}
	p := types.Wrap(pattern)
	switch p.Kind {
	case types.KindString:
		re, err := regex.Compile(p.Value.(string), opts)
		if err != nil {
			return nil, err
		}
		return unwrapping(regexTest(re, p.Value.(string), opts)), nil
	case types.KindRegex:
		src, reOpts, _ := types.RegexSource(p)
		if hasOptions && reOpts != "" {
			return nil, types.CompileError(types.ErrBadArgument, "$options", "options set in both $regex and $options")
		}
		if reOpts == "" {
			reOpts = opts
		}
		re, err := regex.Compile(src, reOpts)
		if err != nil {
			return nil, err
		}
		return unwrapping(regexTest(re, src, reOpts)), nil
	}
	return nil, types.CompileError(types.ErrBadArgument, "$regex", "needs a string or regex, got %s", p.Kind)
}

func compileRegexNode(v types.Node) (matcher, error) {
	t, err := nodeRegex(v)
	if err != nil {
		return nil, err
	}
	return unwrapping(t), nil
}

// regexTest matches strings and symbols against re. A regex candidate
// matches when it has the same pattern and options.
func regexTest(re *regexp2.Regexp, pattern, options string) func(types.Node) bool {
	return func(cand types.Node) bool {
		switch cand.Kind {
		case types.KindString, types.KindSymbol:
			s, err := types.UnwrapString(cand)
			return err == nil && regex.MatchString(re, s)
		case types.KindRegex:
			src, opts, _ := types.RegexSource(cand)
			return src == pattern && sortedFlags(opts) == sortedFlags(options)
		}
		return false
	}
}

func sortedFlags(opts string) string {
	b := []byte(opts)
	slices.Sort(b)
	return string(b)
}

// nodeRegex compiles a regex value into a candidate test.
func nodeRegex(v types.Node) (func(types.Node) bool, error) {
	re, err := regex.FromNode(v)
	if err != nil {
		return nil, err
	}
	src, opts, _ := types.RegexSource(v)
	return regexTest(re, src, opts), nil
}

// compileElemMatch matches arrays with at least one element satisfying the
// argument. An argument made of operators is a condition on each element;
// otherwise it is a query run against object elements.
func (c *Compiler) compileElemMatch(v types.Node) (matcher, error) {
	if !v.IsObject() {
		return nil, types.CompileError(types.ErrBadArgument, "$elemMatch", "needs an object")
	}
	var test func(types.Node) bool
	if isValueCondition(v.Value) {
		m, err := c.compileCondition(v.Value)
		if err != nil {
			return nil, err
		}
		test = func(el types.Node) bool { return m(el) }
	} else {
		q, err := c.compileQuery(v.Value)
		if err != nil {
			return nil, err
		}
		test = func(el types.Node) bool { return el.IsObject() && q(el.Value) }
	}
	return whole(func(cand types.Node) bool {
		if !cand.IsArray() {
			return false
		}
		for _, el := range cand.Elements() {
			if test(el) {
				return true
			}
		}
		return false
	}), nil
}

// isValueCondition reports whether an $elemMatch argument applies to the
// elements themselves: every key is an operator and none is a logical one.
func isValueCondition(arg interface{}) bool {
	fields := types.Fields(arg)
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		switch {
		case !strings.HasPrefix(f.Key, "$"):
			return false
		case f.Key == "$and", f.Key == "$or", f.Key == "$nor", f.Key == "$expr", f.Key == "$where":
			return false
		}
	}
	return true
}

func (c *Compiler) compileNot(v types.Node) (matcher, error) {
	switch {
	case v.Kind == types.KindRegex:
		m, err := compileRegexNode(v)
		if err != nil {
			return nil, err
		}
		return not(m), nil
	case v.IsObject():
		isOps, err := isOperatorObject(v.Value)
		if err != nil {
			return nil, err
		}
		if !isOps {
			return nil, types.CompileError(types.ErrBadArgument, "$not", "needs an operator object or a regex")
		}
		m, err := c.compileCondition(v.Value)
		if err != nil {
			return nil, err
		}
		return not(m), nil
	}
	return nil, types.CompileError(types.ErrBadArgument, "$not", "needs an operator object or a regex, got %s", v.Kind)
}
