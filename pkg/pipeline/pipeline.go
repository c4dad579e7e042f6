// Package pipeline compiles MongoDB aggregation pipelines into lazy sequence
// transformers.
//
// A Stage turns an input Seq into an output Seq. Stages pull documents from
// upstream on demand, so a consumer that stops iterating stops the whole
// pipeline. $sort, $group and $count are barriers: they drain their input
// before emitting anything.
//
// Errors travel through the sequence. A stage that receives or raises an
// error yields it once and stops.
package pipeline

import (
	"iter"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sandrolain/gomql/pkg/expression"
	"github.com/sandrolain/gomql/pkg/filter"
	"github.com/sandrolain/gomql/pkg/types"
)

// Seq is a lazily produced sequence of documents.
type Seq = iter.Seq2[interface{}, error]

// Stage is a compiled pipeline stage.
type Stage func(in Seq) Seq

// factory compiles the argument of one stage.
type factory func(c *Compiler, arg interface{}) (Stage, error)

var factories map[string]factory

func init() {
	factories = map[string]factory{
		"$match":       (*Compiler).match,
		"$project":     (*Compiler).project,
		"$set":         (*Compiler).set,
		"$addFields":   (*Compiler).set,
		"$unset":       (*Compiler).unset,
		"$sort":        (*Compiler).sort,
		"$skip":        (*Compiler).skip,
		"$limit":       (*Compiler).limit,
		"$count":       (*Compiler).count,
		"$unwind":      (*Compiler).unwind,
		"$replaceRoot": (*Compiler).replaceRoot,
		"$replaceWith": (*Compiler).replaceWith,
		"$group":       (*Compiler).group,
	}
}

// Stages returns the names of the supported stages, sorted.
func Stages() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compiler compiles stages with a fixed set of options.
type Compiler struct {
	opts    *types.Options
	filters *filter.Compiler
	exprs   *expression.Compiler
}

// NewCompiler creates a compiler. A nil opts uses the defaults.
func NewCompiler(opts *types.Options) *Compiler {
	if opts == nil {
		opts = types.NewOptions()
	}
	return &Compiler{
		opts:    opts,
		filters: filter.NewCompiler(opts),
		exprs:   expression.NewCompiler(opts),
	}
}

// Compile compiles a pipeline, an array of single-stage documents, into one
// Stage applying them left to right.
func Compile(stages interface{}, opts ...types.Option) (Stage, error) {
	return NewCompiler(types.NewOptions(opts...)).Compile(stages)
}

// Compile compiles a pipeline.
func (c *Compiler) Compile(stages interface{}) (Stage, error) {
	specs, ok := types.ArrayValues(stages)
	if !ok {
		return nil, types.CompileError(types.ErrBadArgument, "pipeline", "pipeline must be an array of stages, got %s", types.Wrap(stages).Kind)
	}
	compiled := make([]Stage, len(specs))
	for i, spec := range specs {
		if !types.IsObject(spec) || types.ObjectLen(spec) != 1 {
			return nil, errors.Wrapf(
				types.CompileError(types.ErrBadArgument, "pipeline", "a stage must be an object with exactly one field"),
				"stage %d", i)
		}
		f := types.Fields(spec)[0]
		st, err := c.Stage(f.Key, f.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "stage %d (%s)", i, f.Key)
		}
		compiled[i] = st
	}
	c.opts.Logger.Debug("compiled pipeline", zap.Int("stages", len(compiled)))
	return Compose(compiled...), nil
}

// Stage compiles a single stage by name, for example Stage("$limit", 5).
func (c *Compiler) Stage(name string, arg interface{}) (Stage, error) {
	f, ok := factories[name]
	if !ok {
		if strings.HasPrefix(name, "$") {
			return nil, types.CompileError(types.ErrUnknownOperator, name, "unrecognized pipeline stage name")
		}
		return nil, types.CompileError(types.ErrBadArgument, name, "stage names must start with $")
	}
	st, err := f(c, arg)
	if err != nil {
		return nil, err
	}
	c.opts.Logger.Debug("compiled stage", zap.String("stage", name))
	return st, nil
}

// Compose chains stages left to right. No stages is the identity.
func Compose(stages ...Stage) Stage {
	return func(in Seq) Seq {
		out := in
		for _, st := range stages {
			out = st(out)
		}
		return out
	}
}

// Run applies a stage to docs and collects the output.
func (s Stage) Run(docs []interface{}) ([]interface{}, error) {
	return Collect(s(FromSlice(docs)))
}

// Stage factories bound to default options, one per stage name.

// Match builds a $match stage.
func Match(query interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).match(query)
}

// Project builds a $project stage.
func Project(spec interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).project(spec)
}

// Set builds a $set stage.
func Set(spec interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).set(spec)
}

// AddFields builds an $addFields stage, an alias of $set.
func AddFields(spec interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).set(spec)
}

// Unset builds an $unset stage.
func Unset(spec interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).unset(spec)
}

// Sort builds a $sort stage. Use bson.D to fix the key order.
func Sort(keys interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).sort(keys)
}

// Skip builds a $skip stage.
func Skip(n interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).skip(n)
}

// Limit builds a $limit stage.
func Limit(n interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).limit(n)
}

// Count builds a $count stage.
func Count(field interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).count(field)
}

// Unwind builds an $unwind stage.
func Unwind(spec interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).unwind(spec)
}

// ReplaceRoot builds a $replaceRoot stage.
func ReplaceRoot(spec interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).replaceRoot(spec)
}

// ReplaceWith builds a $replaceWith stage.
func ReplaceWith(expr interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).replaceWith(expr)
}

// Group builds a $group stage.
func Group(spec interface{}, opts ...types.Option) (Stage, error) {
	return newCompiler(opts).group(spec)
}

func newCompiler(opts []types.Option) *Compiler {
	return NewCompiler(types.NewOptions(opts...))
}
