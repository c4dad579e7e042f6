// Package parser reads filter, update and pipeline specifications written as
// MongoDB Extended JSON.
//
// Both the relaxed form ({"n": 1}) and the canonical form
// ({"n": {"$numberInt": "1"}}) are accepted; WithCanonicalOnly restricts
// input to the canonical form. Objects are returned as bson.D
// so the field order of the text is kept, which matters for $sort keys and
// $group output fields. Arrays are returned as bson.A.
//
// # Example
//
//	query, err := parser.ParseDocument(`{"qty": {"$gte": 2}, "_id": {"$oid": "65f1c0a8e4b0a1b2c3d4e5f6"}}`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pred, err := filter.Compile(query)
package parser

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/types"
)

// DefaultMaxDepth is the nesting limit used when none is configured.
const DefaultMaxDepth = 128

// ParseOption configures parsing behavior.
type ParseOption func(*ParseOptions)

// ParseOptions holds parser configuration.
type ParseOptions struct {
	// CanonicalOnly rejects input that is not canonical Extended JSON.
	CanonicalOnly bool
	// MaxDepth limits the nesting of objects and arrays.
	MaxDepth int
}

// WithCanonicalOnly rejects relaxed Extended JSON.
func WithCanonicalOnly(enable bool) ParseOption {
	return func(opts *ParseOptions) {
		opts.CanonicalOnly = enable
	}
}

// WithMaxDepth sets the maximum nesting depth.
func WithMaxDepth(depth int) ParseOption {
	return func(opts *ParseOptions) {
		opts.MaxDepth = depth
	}
}

// Parse parses a single Extended JSON value of any type.
func Parse(text string, opts ...ParseOption) (interface{}, error) {
	o := &ParseOptions{MaxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(o)
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}

	raw, err := single(text)
	if err != nil {
		return nil, syntaxError(err)
	}
	if d := depth(raw); d > o.MaxDepth {
		return nil, types.CompileError(types.ErrBadArgument, "parse", "nesting depth %d exceeds the limit of %d", d, o.MaxDepth)
	}

	if o.CanonicalOnly {
		if err := canonical(raw); err != nil {
			return nil, types.CompileError(types.ErrBadArgument, "parse", "not canonical Extended JSON: %v", err).WithCause(err)
		}
	}

	// Extended JSON only decodes documents, so the value is wrapped in one.
	wrapped := make([]byte, 0, len(raw)+8)
	wrapped = append(wrapped, `{"v":`...)
	wrapped = append(wrapped, raw...)
	wrapped = append(wrapped, '}')
	var doc bson.D
	if err := bson.UnmarshalExtJSON(wrapped, o.CanonicalOnly, &doc); err != nil {
		return nil, syntaxError(err)
	}
	return doc[0].Value, nil
}

// ParseDocument parses an Extended JSON object, such as a filter or an update.
func ParseDocument(text string, opts ...ParseOption) (bson.D, error) {
	v, err := Parse(text, opts...)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(bson.D)
	if !ok {
		return nil, types.CompileError(types.ErrBadArgument, "parse", "expected an object, got %s", types.Wrap(v).Kind)
	}
	return doc, nil
}

// ParsePipeline parses an Extended JSON array of stage documents.
func ParsePipeline(text string, opts ...ParseOption) (bson.A, error) {
	v, err := Parse(text, opts...)
	if err != nil {
		return nil, err
	}
	stages, ok := v.(bson.A)
	if !ok {
		return nil, types.CompileError(types.ErrBadArgument, "parse", "expected an array of stages, got %s", types.Wrap(v).Kind)
	}
	return stages, nil
}

// single returns the only JSON value in text.
func single(text string) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailing
	}
	return raw, nil
}

var errTrailing = errors.New("unexpected data after the top-level value")

// canonical reports a relaxed-only form in raw: bare JSON numbers
// and $date values that are not {"$numberLong": ...} documents.
func canonical(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return walkCanonical(v, "")
}

func walkCanonical(v interface{}, at string) error {
	switch x := v.(type) {
	case json.Number:
		return errors.Errorf("bare number %s%s", x, location(at))
	case []interface{}:
		for i, el := range x {
			if err := walkCanonical(el, at+"."+strconv.Itoa(i)); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		if d, ok := x["$date"]; ok && len(x) == 1 {
			if obj, ok := d.(map[string]interface{}); !ok || len(obj) != 1 || obj["$numberLong"] == nil {
				return errors.Errorf("relaxed $date%s", location(at))
			}
		}
		for k, el := range x {
			if err := walkCanonical(el, at+"."+k); err != nil {
				return err
			}
		}
	}
	return nil
}

func location(at string) string {
	if at == "" {
		return ""
	}
	return " at " + strings.TrimPrefix(at, ".")
}

// depth returns the deepest nesting of objects and arrays in raw. Brackets
// inside strings are skipped.
func depth(raw []byte) int {
	cur, deepest := 0, 0
	inString, escaped := false, false
	for _, b := range raw {
		switch {
		case escaped:
			escaped = false
		case inString:
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case b == '"':
			inString = true
		case b == '{' || b == '[':
			cur++
			deepest = max(deepest, cur)
		case b == '}' || b == ']':
			cur--
		}
	}
	return deepest
}

func syntaxError(err error) error {
	return types.CompileError(types.ErrBadArgument, "parse", "invalid Extended JSON: %v", err).WithCause(err)
}
