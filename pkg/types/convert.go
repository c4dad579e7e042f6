package types

import (
	"reflect"
	"regexp"
	"time"

	"github.com/mitchellh/copystructure"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// UnwrapString returns a string (or symbol) node as a Go string.
func UnwrapString(n Node) (string, error) {
	switch v := n.Value.(type) {
	case string:
		return v, nil
	case bson.Symbol:
		return string(v), nil
	}
	return "", TypeMismatch("unwrap", "expected a string, got %s", n.Kind)
}

// UnwrapBool returns a boolean node as a Go bool.
func UnwrapBool(n Node) (bool, error) {
	if b, ok := n.Value.(bool); ok {
		return b, nil
	}
	return false, TypeMismatch("unwrap", "expected a bool, got %s", n.Kind)
}

// UnwrapTime returns a date node as a UTC time.Time.
func UnwrapTime(n Node) (time.Time, error) {
	switch v := n.Value.(type) {
	case time.Time:
		return v.UTC(), nil
	case bson.DateTime:
		return v.Time().UTC(), nil
	}
	return time.Time{}, TypeMismatch("unwrap", "expected a date, got %s", n.Kind)
}

// UnwrapArray returns the elements of an array node.
func UnwrapArray(n Node) ([]interface{}, error) {
	if n.Kind == KindArray {
		if vals, ok := ArrayValues(n.Value); ok {
			return vals, nil
		}
	}
	return nil, TypeMismatch("unwrap", "expected an array, got %s", n.Kind)
}

// UnixMillis returns the number of milliseconds since the epoch of a date node.
func UnixMillis(n Node) (int64, bool) {
	switch v := n.Value.(type) {
	case time.Time:
		return v.UnixMilli(), true
	case bson.DateTime:
		return int64(v), true
	}
	return 0, false
}

// RegexSource returns the pattern and options of a regex node.
func RegexSource(n Node) (pattern, options string, ok bool) {
	switch v := n.Value.(type) {
	case bson.Regex:
		return v.Pattern, v.Options, true
	case *regexp.Regexp:
		return v.String(), "", true
	}
	return "", "", false
}

// BinaryData returns the subtype and payload of a binary node.
func BinaryData(n Node) (byte, []byte, bool) {
	switch v := n.Value.(type) {
	case bson.Binary:
		return v.Subtype, v.Data, true
	case []byte:
		return 0, v, true
	}
	return 0, nil, false
}

// TimestampValue returns the payload of a timestamp node.
func TimestampValue(n Node) bson.Timestamp {
	ts, _ := n.Value.(bson.Timestamp)
	return ts
}

var copier = copystructure.Config{
	Copiers:        map[reflect.Type]copystructure.CopierFunc{},
	ShallowCopiers: map[reflect.Type]struct{}{},
}

func init() {
	for t, fn := range copystructure.Copiers {
		copier.Copiers[t] = fn
	}
	// Decimal128 keeps its payload in unexported fields, which a
	// field-by-field copy would lose.
	copier.Copiers[reflect.TypeOf(bson.Decimal128{})] = func(v interface{}) (interface{}, error) {
		return v, nil
	}
	copier.ShallowCopiers[reflect.TypeOf(&regexp.Regexp{})] = struct{}{}
}

// DeepCopy returns a copy of v that shares no containers with it.
func DeepCopy(v interface{}) interface{} {
	switch v.(type) {
	case nil, bool, string, int, int32, int64, float64, MissingValue:
		return v
	}
	out, err := copier.Copy(v)
	if err != nil {
		return v
	}
	return out
}
