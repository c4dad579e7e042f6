// Package extstring provides string operators that MongoDB does not ship.
// Register them with gomql.WithOperators or the top-level ext.String helper.
package extstring

import (
	"strings"
	"unicode"

	"github.com/sandrolain/gomql/pkg/functions"
	"github.com/sandrolain/gomql/pkg/types"
)

// All returns all extended string operator definitions.
func All() []functions.OperatorDef {
	return []functions.OperatorDef{
		StartsWith(),
		EndsWith(),
		CamelCase(),
		SnakeCase(),
		KebabCase(),
		Words(),
	}
}

// stringArgs extracts the string arguments of op. A nil argument makes the
// whole call return null.
func stringArgs(op string, args []interface{}) ([]string, bool, error) {
	out := make([]string, len(args))
	for i, a := range args {
		n := types.Wrap(a)
		if n.IsNull() {
			return nil, false, nil
		}
		s, err := types.UnwrapString(n)
		if err != nil {
			return nil, false, types.TypeMismatch(op, "argument %d must be a string, got %s", i+1, n.Kind)
		}
		out[i] = s
	}
	return out, true, nil
}

func binary(name string, test func(s, affix string) bool) functions.OperatorDef {
	op := "$" + name
	return functions.OperatorDef{
		Name:    name,
		MinArgs: 2,
		MaxArgs: 2,
		Fn: func(args ...interface{}) (interface{}, error) {
			s, ok, err := stringArgs(op, args)
			if err != nil || !ok {
				return nil, err
			}
			return test(s[0], s[1]), nil
		},
	}
}

// StartsWith returns the definition for {$startsWith: [str, prefix]}.
func StartsWith() functions.OperatorDef {
	return binary("startsWith", strings.HasPrefix)
}

// EndsWith returns the definition for {$endsWith: [str, suffix]}.
func EndsWith() functions.OperatorDef {
	return binary("endsWith", strings.HasSuffix)
}

func unary(name string, fn func(words []string) interface{}) functions.OperatorDef {
	op := "$" + name
	return functions.OperatorDef{
		Name:    name,
		MinArgs: 1,
		MaxArgs: 1,
		Fn: func(args ...interface{}) (interface{}, error) {
			s, ok, err := stringArgs(op, args)
			if err != nil || !ok {
				return nil, err
			}
			return fn(SplitWords(s[0])), nil
		},
	}
}

// CamelCase returns the definition for {$camelCase: str}.
func CamelCase() functions.OperatorDef {
	return unary("camelCase", func(words []string) interface{} {
		var b strings.Builder
		for i, w := range words {
			w = strings.ToLower(w)
			if i > 0 {
				r := []rune(w)
				r[0] = unicode.ToUpper(r[0])
				w = string(r)
			}
			b.WriteString(w)
		}
		return b.String()
	})
}

// SnakeCase returns the definition for {$snakeCase: str}.
func SnakeCase() functions.OperatorDef {
	return unary("snakeCase", func(words []string) interface{} {
		return strings.ToLower(strings.Join(words, "_"))
	})
}

// KebabCase returns the definition for {$kebabCase: str}.
func KebabCase() functions.OperatorDef {
	return unary("kebabCase", func(words []string) interface{} {
		return strings.ToLower(strings.Join(words, "-"))
	})
}

// Words returns the definition for {$words: str}, the words of str as an array.
func Words() functions.OperatorDef {
	return unary("words", func(words []string) interface{} {
		out := make([]interface{}, len(words))
		for i, w := range words {
			out[i] = w
		}
		return out
	})
}

// SplitWords splits s at spaces, underscores, hyphens and lower-to-upper case
// changes, so "userID_list-item" gives [user ID list item].
func SplitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range s {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return words
}
