// Package functions provides types for registering custom aggregation
// expression operators.
//
// Users of gomql can define their own operators and register them via
// [gomql.WithOperator], making them available inside aggregation expressions
// with the "$" prefix, next to the built-in ones.
//
// # Example
//
//	pred, err := gomql.CompileFilter(bson.M{
//	    "$expr": bson.M{"$isEven": "$qty"},
//	}, gomql.WithOperator(functions.OperatorDef{
//	    Name:    "isEven",
//	    MinArgs: 1,
//	    MaxArgs: 1,
//	    Fn: func(args ...interface{}) (interface{}, error) {
//	        n, ok := args[0].(int32)
//	        return ok && n%2 == 0, nil
//	    },
//	}))
package functions

import (
	"strings"

	"github.com/pkg/errors"
)

// OperatorFunc is the signature for user-defined operators.
// args contains the evaluated operator arguments in order; an argument that
// resolved to a missing field is passed as nil.
// The function should return a document value or an error.
type OperatorFunc func(args ...interface{}) (interface{}, error)

// OperatorDef describes a user-defined operator.
type OperatorDef struct {
	// Name is the operator name as it will appear inside expressions (without the "$" prefix).
	Name string
	// MinArgs is the minimum number of arguments.
	MinArgs int
	// MaxArgs is the maximum number of arguments; -1 means unlimited.
	MaxArgs int
	// Fn is the implementation.
	Fn OperatorFunc
}

// Key returns the operator name as written in expressions.
func (d OperatorDef) Key() string {
	return "$" + d.Name
}

// Validate checks that the definition can be registered.
func (d OperatorDef) Validate() error {
	if d.Name == "" || strings.HasPrefix(d.Name, "$") || strings.Contains(d.Name, ".") {
		return errors.Errorf("invalid operator name %q", d.Name)
	}
	if d.Fn == nil {
		return errors.Errorf("operator %q has no implementation", d.Name)
	}
	if d.MinArgs < 0 || (d.MaxArgs >= 0 && d.MaxArgs < d.MinArgs) {
		return errors.Errorf("operator %q has an invalid argument range [%d, %d]", d.Name, d.MinArgs, d.MaxArgs)
	}
	return nil
}

// Accepts reports whether n arguments are within the declared range.
func (d OperatorDef) Accepts(n int) bool {
	return n >= d.MinArgs && (d.MaxArgs < 0 || n <= d.MaxArgs)
}
