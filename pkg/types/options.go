package types

import (
	"time"

	"go.uber.org/zap"

	"github.com/sandrolain/gomql/pkg/functions"
)

// Options configures compilation. The zero value is not ready for use; build it
// with NewOptions.
type Options struct {
	// Clock supplies $$NOW and the $currentDate value.
	Clock func() time.Time
	// Logger receives debug events from the compilers.
	Logger *zap.Logger
	// Operators holds user-defined expression operators keyed by "$name".
	Operators map[string]functions.OperatorDef
}

// Option configures compilation behavior.
type Option func(*Options)

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) *Options {
	options := &Options{
		Clock:  time.Now,
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return options
}

// Apply returns a copy of o with opts applied on top.
func (o *Options) Apply(opts ...Option) *Options {
	cp := *o
	if o.Operators != nil {
		cp.Operators = make(map[string]functions.OperatorDef, len(o.Operators))
		for k, v := range o.Operators {
			cp.Operators[k] = v
		}
	}
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// WithClock sets the clock used for $$NOW and $currentDate.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// WithLogger sets the logger used for debug events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithOperator registers a user-defined expression operator. Definitions that
// fail validation are reported when an expression is compiled.
func WithOperator(def functions.OperatorDef) Option {
	return func(o *Options) {
		if o.Operators == nil {
			o.Operators = make(map[string]functions.OperatorDef)
		}
		o.Operators[def.Key()] = def
	}
}
