package pipeline

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// FromSlice returns a sequence over docs.
func FromSlice(docs []interface{}) Seq {
	return func(yield func(interface{}, error) bool) {
		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// FromReader returns a sequence of the documents read from r. The input is a
// stream of Extended JSON documents, one per line (NDJSON) or simply
// concatenated. Documents decode as bson.D so field order is kept. A decode
// error is yielded once and ends the sequence.
func FromReader(r io.Reader) Seq {
	return func(yield func(interface{}, error) bool) {
		dec := json.NewDecoder(r)
		for n := 0; ; n++ {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				if err != io.EOF {
					yield(nil, errors.Wrapf(err, "reading document %d", n))
				}
				return
			}
			var doc bson.D
			if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
				yield(nil, errors.Wrapf(err, "decoding document %d", n))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// WithContext stops the sequence with ctx.Err() once ctx is done. It is
// checked before each document is pulled.
func WithContext(ctx context.Context) Stage {
	return func(in Seq) Seq {
		return func(yield func(interface{}, error) bool) {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			for doc, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(doc, nil) {
					return
				}
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
			}
		}
	}
}

// Collect drains seq into a slice. It stops at the first error.
func Collect(seq Seq) ([]interface{}, error) {
	var out []interface{}
	for doc, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// WriteTo writes the documents of seq to w as relaxed Extended JSON, one per
// line. It returns the number of documents written.
func WriteTo(w io.Writer, seq Seq) (int, error) {
	n := 0
	for doc, err := range seq {
		if err != nil {
			return n, err
		}
		data, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return n, errors.Wrapf(err, "encoding document %d", n)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
