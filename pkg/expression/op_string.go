package expression

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sandrolain/gomql/pkg/regex"
	"github.com/sandrolain/gomql/pkg/types"
)

func registerStrings() {
	operators["$concat"] = eager(0, -1, opConcat)
	operators["$toUpper"] = eager(1, 1, caseMap(strings.ToUpper))
	operators["$toLower"] = eager(1, 1, caseMap(strings.ToLower))
	operators["$substr"] = eager(3, 3, substrBytes("$substr"))
	operators["$substrBytes"] = eager(3, 3, substrBytes("$substrBytes"))
	operators["$substrCP"] = eager(3, 3, opSubstrCP)
	operators["$strLenBytes"] = eager(1, 1, func(a []types.Node) (interface{}, error) {
		s, err := stringArg("$strLenBytes", a[0])
		if err != nil {
			return nil, err
		}
		return int32(len(s)), nil
	})
	operators["$strLenCP"] = eager(1, 1, func(a []types.Node) (interface{}, error) {
		s, err := stringArg("$strLenCP", a[0])
		if err != nil {
			return nil, err
		}
		return int32(utf8.RuneCountInString(s)), nil
	})
	operators["$split"] = eager(2, 2, opSplit)
	operators["$strcasecmp"] = eager(2, 2, func(a []types.Node) (interface{}, error) {
		x, err := stringOf("$strcasecmp", a[0])
		if err != nil {
			return nil, err
		}
		y, err := stringOf("$strcasecmp", a[1])
		if err != nil {
			return nil, err
		}
		return int32(strings.Compare(strings.ToUpper(x), strings.ToUpper(y))), nil
	})
	operators["$trim"] = compileTrim(true, true)
	operators["$ltrim"] = compileTrim(true, false)
	operators["$rtrim"] = compileTrim(false, true)
	operators["$regexMatch"] = compileRegexMatch
}

func stringArg(op string, n types.Node) (string, error) {
	s, err := types.UnwrapString(n)
	if err != nil {
		return "", types.TypeMismatch(op, "requires a string argument, found: %s", n.Kind)
	}
	return s, nil
}

func opConcat(a []types.Node) (interface{}, error) {
	var b strings.Builder
	for _, n := range a {
		if n.IsNull() {
			return nil, nil
		}
		s, err := types.UnwrapString(n)
		if err != nil {
			return nil, types.TypeMismatch("$concat", "only supports strings, not %s", n.Kind)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// caseMap builds $toUpper and $toLower. Null becomes the empty string and
// other scalars are converted with $toString rules.
func caseMap(fn func(string) string) opFunc {
	return func(a []types.Node) (interface{}, error) {
		if a[0].IsNull() {
			return "", nil
		}
		s, err := stringOf("$toUpper", a[0])
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func intArg(op, what string, n types.Node) (int64, error) {
	i, ok := types.AsInt64(n)
	if !ok {
		return 0, types.TypeMismatch(op, "%s must be a numeric integer, found %s", what, n.Kind)
	}
	return i, nil
}

func substrBytes(op string) opFunc {
	return func(a []types.Node) (interface{}, error) {
		if a[0].IsNull() {
			return "", nil
		}
		s, err := stringOf(op, a[0])
		if err != nil {
			return nil, err
		}
		start, err := intArg(op, "starting index", a[1])
		if err != nil {
			return nil, err
		}
		length, err := intArg(op, "length", a[2])
		if err != nil {
			return nil, err
		}
		if start < 0 {
			return nil, types.TypeMismatch(op, "starting index must be non-negative")
		}
		if start >= int64(len(s)) {
			return "", nil
		}
		end := int64(len(s))
		if length >= 0 && start+length < end {
			end = start + length
		}
		if !utf8.RuneStart(s[start]) || (end < int64(len(s)) && !utf8.RuneStart(s[end])) {
			return nil, types.TypeMismatch(op, "invalid range, a UTF-8 character would be split")
		}
		return s[start:end], nil
	}
}

func opSubstrCP(a []types.Node) (interface{}, error) {
	if a[0].IsNull() {
		return "", nil
	}
	s, err := stringOf("$substrCP", a[0])
	if err != nil {
		return nil, err
	}
	start, err := intArg("$substrCP", "starting index", a[1])
	if err != nil {
		return nil, err
	}
	length, err := intArg("$substrCP", "length", a[2])
	if err != nil {
		return nil, err
	}
	if start < 0 || length < 0 {
		return nil, types.TypeMismatch("$substrCP", "starting index and length must be non-negative")
	}
	runes := []rune(s)
	if start >= int64(len(runes)) {
		return "", nil
	}
	end := start + length
	if end > int64(len(runes)) {
		end = int64(len(runes))
	}
	return string(runes[start:end]), nil
}

func opSplit(a []types.Node) (interface{}, error) {
	if a[0].IsNull() {
		return nil, nil
	}
	s, err := stringArg("$split", a[0])
	if err != nil {
		return nil, err
	}
	sep, err := stringArg("$split", a[1])
	if err != nil {
		return nil, err
	}
	if sep == "" {
		return nil, types.TypeMismatch("$split", "requires a non-empty separator")
	}
	parts := strings.Split(s, sep)
	out := make([]interface{}, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func isTrimSpace(r rune) bool {
	return r == 0 || unicode.IsSpace(r)
}

func compileTrim(left, right bool) compileFunc {
	return func(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
		named, err := namedArgs(name, arg, []string{"input"}, "chars")
		if err != nil {
			return nil, err
		}
		exprs, err := c.compileNamed(named, sc, "input", "chars")
		if err != nil {
			return nil, err
		}
		return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
			in, err := evalNode(exprs["input"], env)
			if err != nil {
				return nil, err
			}
			if in.IsNull() {
				return nil, nil
			}
			s, err := stringArg(name, in)
			if err != nil {
				return nil, err
			}
			cut := isTrimSpace
			if ce, ok := exprs["chars"]; ok {
				cn, err := evalNode(ce, env)
				if err != nil {
					return nil, err
				}
				if cn.IsNull() {
					return nil, nil
				}
				chars, err := stringArg(name, cn)
				if err != nil {
					return nil, err
				}
				cut = func(r rune) bool { return strings.ContainsRune(chars, r) }
			}
			if left {
				s = strings.TrimLeftFunc(s, cut)
			}
			if right {
				s = strings.TrimRightFunc(s, cut)
			}
			return s, nil
		}}, nil
	}
}

func compileRegexMatch(c *Compiler, name string, arg interface{}, sc *scope) (Expr, error) {
	named, err := namedArgs(name, arg, []string{"input", "regex"}, "options")
	if err != nil {
		return nil, err
	}
	// constant patterns are validated now
	if n := types.Wrap(named["regex"]); n.Kind == types.KindRegex || (n.Kind == types.KindString && !strings.HasPrefix(n.Value.(string), "$")) {
		pattern, options := regexParts(n)
		if o, ok := named["options"].(string); ok {
			options += o
		}
		if _, err := regex.Compile(pattern, options); err != nil {
			return nil, err
		}
	}
	exprs, err := c.compileNamed(named, sc, "input", "regex", "options")
	if err != nil {
		return nil, err
	}
	return &Control{Name: name, eval: func(env *Env) (interface{}, error) {
		in, err := evalNode(exprs["input"], env)
		if err != nil {
			return nil, err
		}
		rn, err := evalNode(exprs["regex"], env)
		if err != nil {
			return nil, err
		}
		if rn.IsNull() {
			return false, nil
		}
		if rn.Kind != types.KindRegex && rn.Kind != types.KindString {
			return nil, types.TypeMismatch(name, "'regex' must be a string or a regex, found %s", rn.Kind)
		}
		pattern, options := regexParts(rn)
		if oe, ok := exprs["options"]; ok {
			on, err := evalNode(oe, env)
			if err != nil {
				return nil, err
			}
			if !on.IsNull() {
				o, err := stringArg(name, on)
				if err != nil {
					return nil, err
				}
				options += o
			}
		}
		if in.IsNull() {
			return false, nil
		}
		s, err := stringArg(name, in)
		if err != nil {
			return nil, err
		}
		re, err := regex.Compile(pattern, options)
		if err != nil {
			return nil, types.TypeMismatch(name, "%v", err)
		}
		return regex.MatchString(re, s), nil
	}}, nil
}

func regexParts(n types.Node) (pattern, options string) {
	if p, o, ok := types.RegexSource(n); ok {
		return p, o
	}
	s, _ := types.UnwrapString(n)
	return s, ""
}
