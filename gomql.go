// Package gomql compiles MongoDB query language specifications into plain Go
// functions that run over in-memory documents.
//
// Three kinds of specification are supported:
//   - Filters: a query document becomes a predicate over documents
//   - Updates: an update document becomes a function that mutates a document
//   - Pipelines: an aggregation pipeline becomes a lazy sequence transformer
//
// Documents are map[string]interface{}, bson.M or bson.D values, with BSON
// marker types (bson.ObjectID, bson.Decimal128, bson.DateTime, ...) for values
// JSON cannot express. Compilation validates the whole specification up front,
// so a compiled function never fails because of its specification.
//
// # Quick Start
//
//	// Filter
//	pred, err := gomql.CompileFilter(bson.M{"qty": bson.M{"$gte": 2}})
//	ok := pred(doc)
//
//	// Update
//	upd, err := gomql.CompileUpdate(bson.M{"$inc": bson.M{"qty": 1}})
//	doc, err = upd(doc, false)
//
//	// Aggregation
//	out, err := gomql.Aggregate(ctx, bson.A{
//	    bson.M{"$match": bson.M{"status": "A"}},
//	    bson.M{"$group": bson.M{"_id": "$cust", "total": bson.M{"$sum": "$amount"}}},
//	}, docs)
//
//	// Reuse compiled specifications across calls
//	engine := gomql.New(gomql.WithCaching(true))
//	pred, err = engine.CompileFilterJSON(`{"tags": "red"}`)
//
// # More Information
//
// For detailed documentation, see:
//   - Filters: github.com/sandrolain/gomql/pkg/filter
//   - Updates: github.com/sandrolain/gomql/pkg/update
//   - Pipelines: github.com/sandrolain/gomql/pkg/pipeline
//   - Expressions: github.com/sandrolain/gomql/pkg/expression
//   - Types and errors: github.com/sandrolain/gomql/pkg/types
package gomql

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sandrolain/gomql/pkg/cache"
	"github.com/sandrolain/gomql/pkg/filter"
	"github.com/sandrolain/gomql/pkg/functions"
	"github.com/sandrolain/gomql/pkg/parser"
	"github.com/sandrolain/gomql/pkg/pipeline"
	"github.com/sandrolain/gomql/pkg/types"
	"github.com/sandrolain/gomql/pkg/update"
)

// Version returns the current version of gomql.
func Version() string {
	return "v0.1.0-dev"
}

// Cache kinds used in cache keys.
const (
	kindFilter   = "filter"
	kindUpdate   = "update"
	kindPipeline = "pipeline"
)

// Option configures an Engine.
type Option func(*config)

type config struct {
	caching   bool
	cacheSize int
	cache     *cache.Cache[any]
	compile   []types.Option
}

// WithCaching enables caching of compiled specifications.
func WithCaching(enabled bool) Option {
	return func(c *config) {
		c.caching = enabled
	}
}

// WithCacheSize sets the capacity of the engine's cache and enables caching.
func WithCacheSize(size int) Option {
	return func(c *config) {
		c.caching = true
		c.cacheSize = size
	}
}

// WithCache makes the engine use a shared cache and enables caching. Engines
// sharing a cache must be configured with the same clock and operators.
func WithCache(shared *cache.Cache[any]) Option {
	return func(c *config) {
		c.caching = true
		c.cache = shared
	}
}

// WithLogger sets the logger receiving debug events. The default discards
// everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.compile = append(c.compile, types.WithLogger(logger))
	}
}

// WithClock sets the clock used for $$NOW and $currentDate.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		c.compile = append(c.compile, types.WithClock(clock))
	}
}

// WithOperator registers a custom expression operator.
func WithOperator(def functions.OperatorDef) Option {
	return func(c *config) {
		c.compile = append(c.compile, types.WithOperator(def))
	}
}

// WithOperators registers several custom expression operators, such as the
// bundles of pkg/ext.
func WithOperators(defs ...functions.OperatorDef) Option {
	return func(c *config) {
		for _, def := range defs {
			c.compile = append(c.compile, types.WithOperator(def))
		}
	}
}

// Engine compiles specifications with a fixed configuration. It is safe for
// concurrent use.
type Engine struct {
	opts      *types.Options
	filters   *filter.Compiler
	updates   *update.Compiler
	pipelines *pipeline.Compiler
	cache     *cache.Cache[any]
}

// New creates an engine.
func New(opts ...Option) *Engine {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	o := types.NewOptions(cfg.compile...)
	e := &Engine{
		opts:      o,
		filters:   filter.NewCompiler(o),
		updates:   update.NewCompiler(o),
		pipelines: pipeline.NewCompiler(o),
	}
	if cfg.caching {
		e.cache = cfg.cache
		if e.cache == nil {
			e.cache = cache.New[any](cfg.cacheSize)
		}
	}
	return e
}

// Cache returns the engine's cache, or nil when caching is disabled.
func (e *Engine) Cache() *cache.Cache[any] {
	return e.cache
}

// cached returns the compiled form of spec, compiling it on a miss. Specs
// that cannot be keyed are compiled every time.
func cached[T any](e *Engine, kind string, spec interface{}, compile func() (T, error)) (T, error) {
	if e.cache == nil {
		return compile()
	}
	key, err := cache.Key(kind, spec)
	if err != nil {
		e.opts.Logger.Debug("compiling without cache", zap.String("kind", kind), zap.Error(err))
		return compile()
	}
	v, err := e.cache.GetOrCompile(key, func() (any, error) {
		return compile()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// CompileFilter compiles a query document into a predicate.
func (e *Engine) CompileFilter(query interface{}) (filter.Predicate, error) {
	return cached(e, kindFilter, query, func() (filter.Predicate, error) {
		return e.filters.Compile(query)
	})
}

// CompileUpdate compiles an update document into a function applying it.
func (e *Engine) CompileUpdate(spec interface{}) (update.Func, error) {
	return cached(e, kindUpdate, spec, func() (update.Func, error) {
		return e.updates.Compile(spec)
	})
}

// CompilePipeline compiles an aggregation pipeline into a stage.
func (e *Engine) CompilePipeline(stages interface{}) (pipeline.Stage, error) {
	return cached(e, kindPipeline, stages, func() (pipeline.Stage, error) {
		return e.pipelines.Compile(stages)
	})
}

// CompileFilterJSON parses an Extended JSON query and compiles it.
func (e *Engine) CompileFilterJSON(query string) (filter.Predicate, error) {
	doc, err := parser.ParseDocument(query)
	if err != nil {
		return nil, err
	}
	return e.CompileFilter(doc)
}

// CompileUpdateJSON parses an Extended JSON update and compiles it.
func (e *Engine) CompileUpdateJSON(spec string) (update.Func, error) {
	doc, err := parser.ParseDocument(spec)
	if err != nil {
		return nil, err
	}
	return e.CompileUpdate(doc)
}

// CompilePipelineJSON parses an Extended JSON pipeline and compiles it.
func (e *Engine) CompilePipelineJSON(stages string) (pipeline.Stage, error) {
	arr, err := parser.ParsePipeline(stages)
	if err != nil {
		return nil, err
	}
	return e.CompilePipeline(arr)
}

// Stream compiles stages and applies them to in. The output stops with
// ctx.Err() once ctx is done.
func (e *Engine) Stream(ctx context.Context, stages interface{}, in pipeline.Seq) (pipeline.Seq, error) {
	p, err := e.CompilePipeline(stages)
	if err != nil {
		return nil, err
	}
	return pipeline.Compose(pipeline.WithContext(ctx), p)(in), nil
}

// Aggregate runs a pipeline over docs and collects the output.
func (e *Engine) Aggregate(ctx context.Context, stages interface{}, docs []interface{}) ([]interface{}, error) {
	out, err := e.Stream(ctx, stages, pipeline.FromSlice(docs))
	if err != nil {
		return nil, err
	}
	return pipeline.Collect(out)
}

// CompileFilter compiles a query document into a predicate.
//
// Example:
//
//	pred, err := gomql.CompileFilter(bson.M{"tags": "red", "qty": bson.M{"$lt": 10}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	matched := pred(doc)
func CompileFilter(query interface{}, opts ...Option) (filter.Predicate, error) {
	return New(opts...).CompileFilter(query)
}

// CompileUpdate compiles an update document. The returned function mutates
// the document it is given and returns it.
func CompileUpdate(spec interface{}, opts ...Option) (update.Func, error) {
	return New(opts...).CompileUpdate(spec)
}

// CompilePipeline compiles an aggregation pipeline.
func CompilePipeline(stages interface{}, opts ...Option) (pipeline.Stage, error) {
	return New(opts...).CompilePipeline(stages)
}

// Aggregate compiles stages and runs them over docs.
func Aggregate(ctx context.Context, stages interface{}, docs []interface{}, opts ...Option) ([]interface{}, error) {
	return New(opts...).Aggregate(ctx, stages, docs)
}

// MustCompileFilter is like CompileFilter but panics if the query cannot be
// compiled. It simplifies safe initialization of global variables.
func MustCompileFilter(query interface{}, opts ...Option) filter.Predicate {
	pred, err := CompileFilter(query, opts...)
	if err != nil {
		panic(fmt.Sprintf("gomql: CompileFilter(%v): %v", query, err))
	}
	return pred
}

// MustCompileUpdate is like CompileUpdate but panics on error.
func MustCompileUpdate(spec interface{}, opts ...Option) update.Func {
	fn, err := CompileUpdate(spec, opts...)
	if err != nil {
		panic(fmt.Sprintf("gomql: CompileUpdate(%v): %v", spec, err))
	}
	return fn
}

// MustCompilePipeline is like CompilePipeline but panics on error.
func MustCompilePipeline(stages interface{}, opts ...Option) pipeline.Stage {
	st, err := CompilePipeline(stages, opts...)
	if err != nil {
		panic(fmt.Sprintf("gomql: CompilePipeline(%v): %v", stages, err))
	}
	return st
}
