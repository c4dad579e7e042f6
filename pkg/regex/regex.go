// Package regex compiles MongoDB regular expressions.
//
// MongoDB evaluates $regex with PCRE semantics (lookarounds, possessive
// quantifiers, inline flags), which the standard library's RE2 engine does not
// cover, so patterns are compiled with regexp2. Compiled patterns are kept in a
// process-wide LRU keyed by pattern and options; *regexp2.Regexp is safe for
// concurrent use once compiled.
package regex

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sandrolain/gomql/pkg/types"
)

// DefaultCacheSize is the number of compiled patterns kept by the process-wide cache.
const DefaultCacheSize = 512

// MatchTimeout bounds a single match so a pathological pattern cannot stall an
// evaluation. A timed-out match counts as no match.
var MatchTimeout = 2 * time.Second

var cache, _ = lru.New[string, *regexp2.Regexp](DefaultCacheSize)

// ValidateOptions checks a $options string. MongoDB accepts i, m, s, x and u.
func ValidateOptions(options string) error {
	for _, c := range options {
		if !strings.ContainsRune("imsxu", c) {
			return types.CompileError(types.ErrBadArgument, "$regex", "invalid flag in regex options: %c", c)
		}
	}
	return nil
}

// Compile compiles pattern with MongoDB option flags. Results are cached.
func Compile(pattern, options string) (*regexp2.Regexp, error) {
	key := options + "/" + pattern
	if re, ok := cache.Get(key); ok {
		return re, nil
	}
	if err := ValidateOptions(options); err != nil {
		return nil, err
	}
	var opt regexp2.RegexOptions
	for _, c := range options {
		switch c {
		case 'i':
			opt |= regexp2.IgnoreCase
		case 'm':
			opt |= regexp2.Multiline
		case 's':
			opt |= regexp2.Singleline
		case 'x':
			opt |= regexp2.IgnorePatternWhitespace
		}
	}
	re, err := regexp2.Compile(pattern, opt)
	if err != nil {
		return nil, types.CompileError(types.ErrBadArgument, "$regex", "invalid pattern %q", pattern).WithCause(err)
	}
	re.MatchTimeout = MatchTimeout
	cache.Add(key, re)
	return re, nil
}

// MatchString reports whether s contains a match of re.
func MatchString(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	return err == nil && ok
}

// Find returns the first match of re in s, or nil.
func Find(re *regexp2.Regexp, s string) *regexp2.Match {
	m, err := re.FindStringMatch(s)
	if err != nil {
		return nil
	}
	return m
}

// FromNode compiles the regex held by a regex node.
func FromNode(n types.Node) (*regexp2.Regexp, error) {
	pattern, options, ok := types.RegexSource(n)
	if !ok {
		return nil, types.CompileError(types.ErrBadArgument, "$regex", "expected a regex, got %s", n.Kind)
	}
	return Compile(pattern, options)
}
