// Package ext provides optional expression operators that go beyond the
// MongoDB operator set.
//
// The operators live in sub-packages grouped by category:
//   - extstring – $startsWith, $endsWith, $camelCase, $snakeCase, $kebabCase, $words
//   - extcrypto – $uuid, $hash, $hmac
//
// # Integration – all extensions at once
//
//	import "github.com/sandrolain/gomql/pkg/ext"
//
//	pred, err := gomql.CompileFilter(query, gomql.WithOperators(ext.All()...))
//
// # Integration – by category
//
//	engine := gomql.New(gomql.WithOperators(extstring.All()...))
//
// # Integration – single operator from a sub-package
//
//	engine := gomql.New(gomql.WithOperator(extcrypto.Hash()))
package ext

import (
	"github.com/sandrolain/gomql/pkg/ext/extcrypto"
	"github.com/sandrolain/gomql/pkg/ext/extstring"
	"github.com/sandrolain/gomql/pkg/functions"
	"github.com/sandrolain/gomql/pkg/types"
)

// All returns every extension operator definition.
func All() []functions.OperatorDef {
	var all []functions.OperatorDef
	all = append(all, extstring.All()...)
	all = append(all, extcrypto.All()...)
	return all
}

// WithAll returns a compile option registering every extension operator, for
// use with the compilers of the pkg/ packages.
func WithAll() types.Option {
	return with(All())
}

// WithString returns a compile option for the string operators.
func WithString() types.Option {
	return with(extstring.All())
}

// WithCrypto returns a compile option for the cryptographic operators.
func WithCrypto() types.Option {
	return with(extcrypto.All())
}

func with(defs []functions.OperatorDef) types.Option {
	return func(o *types.Options) {
		for _, def := range defs {
			types.WithOperator(def)(o)
		}
	}
}
