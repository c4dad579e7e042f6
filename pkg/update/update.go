// Package update compiles MongoDB update documents such as
// {$set: {...}, $inc: {...}} into functions that modify documents in place.
package update

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sandrolain/gomql/pkg/filter"
	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

// Func applies a compiled update to doc and returns it. Map documents are
// modified in place and returned as the same reference; a bson.D document
// may be re-allocated, so callers should always use the returned value.
// isInsert enables $setOnInsert.
//
// A failing operator leaves the fields written by earlier operators in place.
type Func func(doc interface{}, isInsert bool) (interface{}, error)

// action is one compiled (operator, field) pair.
type action struct {
	op    string
	field string
	run   func(doc interface{}, isInsert bool) (interface{}, error)
}

// Compiler compiles update documents with a fixed set of options.
type Compiler struct {
	opts    *types.Options
	filters *filter.Compiler
}

// NewCompiler creates a compiler. A nil opts uses the defaults.
func NewCompiler(opts *types.Options) *Compiler {
	if opts == nil {
		opts = types.NewOptions()
	}
	return &Compiler{opts: opts, filters: filter.NewCompiler(opts)}
}

// Compile compiles an update document.
func Compile(spec interface{}, opts ...types.Option) (Func, error) {
	return NewCompiler(types.NewOptions(opts...)).Compile(spec)
}

// Compile compiles an update document.
func (c *Compiler) Compile(spec interface{}) (Func, error) {
	if !types.IsObject(spec) {
		return nil, types.CompileError(types.ErrBadArgument, "update", "update must be an object, got %s", types.Wrap(spec).Kind)
	}
	ops := types.Fields(spec)
	if len(ops) == 0 {
		return nil, types.CompileError(types.ErrBadArgument, "update", "update document is empty")
	}

	var actions []action
	var paths []target
	for _, op := range ops {
		build, ok := builders[op.Key]
		if !ok {
			if !strings.HasPrefix(op.Key, "$") {
				return nil, types.CompileError(types.ErrBadArgument, "update", "replacement documents are not supported, found field %q", op.Key)
			}
			return nil, types.CompileError(types.ErrUnknownOperator, op.Key, "unknown update operator")
		}
		if !types.IsObject(op.Value) {
			return nil, types.CompileError(types.ErrBadArgument, op.Key, "argument must be an object, got %s", types.Wrap(op.Value).Kind)
		}
		for _, f := range types.Fields(op.Value) {
			w, err := path.CompileWriter(f.Key)
			if err != nil {
				return nil, err
			}
			run, extra, err := build(c, w, f.Value)
			if err != nil {
				if e, ok := err.(*types.Error); ok && e.Path == "" {
					e.WithPath(f.Key)
				}
				return nil, err
			}
			paths = append(paths, target{op: op.Key, path: f.Key})
			for _, p := range extra {
				paths = append(paths, target{op: op.Key, path: p})
			}
			actions = append(actions, action{op: op.Key, field: f.Key, run: run})
		}
	}
	if err := checkConflicts(paths); err != nil {
		return nil, err
	}

	c.opts.Logger.Debug("compiled update", zap.Int("operators", len(ops)), zap.Int("fields", len(actions)))
	return func(doc interface{}, isInsert bool) (interface{}, error) {
		if !types.IsObject(doc) {
			return nil, types.TypeMismatch("update", "document is a %s, not an object", types.Wrap(doc).Kind)
		}
		for _, a := range actions {
			out, err := a.run(doc, isInsert)
			if err != nil {
				if e, ok := err.(*types.Error); ok && e.Path == "" {
					e.WithPath(a.field)
				}
				return doc, err
			}
			doc = out
		}
		return doc, nil
	}, nil
}

// target is a path written by one operator.
type target struct {
	op   string
	path string
}

// checkConflicts rejects updates where two operators write the same path or
// where one path is a prefix of another.
func checkConflicts(paths []target) error {
	for i, a := range paths {
		for _, b := range paths[i+1:] {
			if overlaps(a.path, b.path) {
				return types.CompileError(types.ErrConflictingPaths, b.op,
					"updating the path %q would create a conflict at %q", b.path, a.path).WithPath(b.path)
			}
		}
	}
	return nil
}

func overlaps(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	return a == b || strings.HasPrefix(b, a+".")
}
