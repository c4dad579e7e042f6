package types

import (
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Kind is the tagged type of a document value.
type Kind uint8

// Value kinds. Int, Long, Double and Decimal form the numeric class.
const (
	KindNull Kind = iota
	KindBoolean
	KindInt
	KindLong
	KindDouble
	KindDecimal
	KindString
	KindSymbol
	KindArray
	KindObject
	KindDate
	KindRegex
	KindBinary
	KindObjectID
	KindTimestamp
	KindExpression
	KindMinKey
	KindMaxKey
)

var kindNames = [...]string{
	KindNull:       "null",
	KindBoolean:    "bool",
	KindInt:        "int",
	KindLong:       "long",
	KindDouble:     "double",
	KindDecimal:    "decimal",
	KindString:     "string",
	KindSymbol:     "symbol",
	KindArray:      "array",
	KindObject:     "object",
	KindDate:       "date",
	KindRegex:      "regex",
	KindBinary:     "binData",
	KindObjectID:   "objectId",
	KindTimestamp:  "timestamp",
	KindExpression: "object",
	KindMinKey:     "minKey",
	KindMaxKey:     "maxKey",
}

// String returns the MongoDB type alias of the kind, as reported by $type.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// IsNumeric reports whether the kind belongs to the numeric class.
func (k Kind) IsNumeric() bool {
	return k >= KindInt && k <= KindDecimal
}

// MissingValue is the type of Missing.
type MissingValue struct{}

// Missing marks an absent field. It is distinct from a present null (nil).
var Missing = MissingValue{}

// Sequence is the result of a path lookup that crossed one or more arrays:
// one node per element the remaining path was mapped over.
type Sequence []Node

// Node is the tagged representation of one document value.
type Node struct {
	Kind  Kind
	Value interface{}
	// Key is the field name or array index the node was read from. It is
	// empty for nodes that were not produced by a lookup.
	Key string
}

// Absent returns the node for a missing field.
func Absent() Node {
	return Node{Kind: KindNull, Value: Missing}
}

// Exists reports whether the node refers to a present value (a present null
// counts as existing).
func (n Node) Exists() bool {
	_, missing := n.Value.(MissingValue)
	return !missing
}

// IsNull reports whether the node is nullish (null, undefined or missing).
func (n Node) IsNull() bool {
	return n.Kind == KindNull
}

// IsArray reports whether the node is an array value or a traversal sequence.
func (n Node) IsArray() bool {
	return n.Kind == KindArray
}

// IsObject reports whether the node is an object, including objects shaped like
// operator expressions.
func (n Node) IsObject() bool {
	return n.Kind == KindObject || n.Kind == KindExpression
}

// IsSequence reports whether the node is the result of an array traversal
// rather than an array stored in the document.
func (n Node) IsSequence() bool {
	_, ok := n.Value.(Sequence)
	return ok
}

// Candidates returns the values a match operator has to consider: the members
// of a traversal sequence, or the node itself. An empty traversal yields a single
// missing node.
func (n Node) Candidates() []Node {
	seq, ok := n.Value.(Sequence)
	if !ok {
		return []Node{n}
	}
	if len(seq) == 0 {
		return []Node{Absent()}
	}
	return seq
}

// Elements returns the elements of an array node, each wrapped lazily.
// Non-array nodes have no elements.
func (n Node) Elements() []Node {
	if n.Kind != KindArray {
		return nil
	}
	if seq, ok := n.Value.(Sequence); ok {
		return seq
	}
	vals, _ := ArrayValues(n.Value)
	out := make([]Node, len(vals))
	for i, v := range vals {
		out[i] = Wrap(v)
		out[i].Key = strconv.Itoa(i)
	}
	return out
}

// Interface returns the native value of the node. Traversal sequences are
// flattened into a []interface{} of their present values.
func (n Node) Interface() interface{} {
	if seq, ok := n.Value.(Sequence); ok {
		out := make([]interface{}, 0, len(seq))
		for _, el := range seq {
			if el.Exists() {
				out = append(out, el.Interface())
			}
		}
		return out
	}
	return n.Value
}

// NewNode builds a node of the given kind and validates that value has a
// matching runtime shape.
func NewNode(kind Kind, value interface{}) (Node, error) {
	n, err := WrapE(value)
	if err != nil {
		return Node{}, err
	}
	if n.Kind != kind && !(kind == KindObject && n.Kind == KindExpression) {
		return Node{}, TypeMismatch("node", "value of kind %s cannot be stored as %s", n.Kind, kind)
	}
	return n, nil
}

// Wrap classifies a native value. Values of unsupported Go types are treated as
// null; use WrapE to detect them.
func Wrap(v interface{}) Node {
	n, err := WrapE(v)
	if err != nil {
		return Node{Kind: KindNull}
	}
	return n
}

// WrapE classifies a native value into a Node.
func WrapE(v interface{}) (Node, error) {
	switch x := v.(type) {
	case nil, MissingValue, bson.Null, bson.Undefined:
		return Node{Kind: KindNull, Value: v}, nil
	case Node:
		return x, nil
	case Sequence:
		return Node{Kind: KindArray, Value: x}, nil
	case bool:
		return Node{Kind: KindBoolean, Value: v}, nil
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return Node{Kind: KindInt, Value: v}, nil
		}
		return Node{Kind: KindLong, Value: v}, nil
	case int8, int16, int32, uint8, uint16:
		return Node{Kind: KindInt, Value: v}, nil
	case int64, uint32, uint, uint64:
		return Node{Kind: KindLong, Value: v}, nil
	case float32, float64:
		return Node{Kind: KindDouble, Value: v}, nil
	case bson.Decimal128:
		return Node{Kind: KindDecimal, Value: v}, nil
	case string:
		return Node{Kind: KindString, Value: v}, nil
	case bson.Symbol:
		return Node{Kind: KindSymbol, Value: v}, nil
	case []interface{}, bson.A:
		return Node{Kind: KindArray, Value: v}, nil
	case map[string]interface{}:
		return Node{Kind: objectKind(v), Value: v}, nil
	case bson.M, bson.D:
		return Node{Kind: objectKind(v), Value: v}, nil
	case time.Time, bson.DateTime:
		return Node{Kind: KindDate, Value: v}, nil
	case bson.Regex, *regexp.Regexp:
		return Node{Kind: KindRegex, Value: v}, nil
	case bson.Binary, []byte:
		return Node{Kind: KindBinary, Value: v}, nil
	case bson.ObjectID:
		return Node{Kind: KindObjectID, Value: v}, nil
	case bson.Timestamp:
		return Node{Kind: KindTimestamp, Value: v}, nil
	case bson.MinKey:
		return Node{Kind: KindMinKey, Value: v}, nil
	case bson.MaxKey:
		return Node{Kind: KindMaxKey, Value: v}, nil
	}
	return wrapReflect(v)
}

// wrapReflect classifies named types by their underlying kind.
func wrapReflect(v interface{}) (Node, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return WrapE(rv.Bool())
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return WrapE(int32(rv.Int()))
	case reflect.Int, reflect.Int64:
		return WrapE(rv.Int())
	case reflect.Uint8, reflect.Uint16:
		return WrapE(int32(rv.Uint()))
	case reflect.Uint, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return WrapE(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return WrapE(rv.Float())
	case reflect.String:
		return WrapE(rv.String())
	case reflect.Slice:
		if vals, ok := ArrayValues(v); ok {
			return Node{Kind: KindArray, Value: vals}, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Node{Kind: KindBinary, Value: rv.Bytes()}, nil
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return WrapE(m)
	case reflect.Pointer:
		if rv.IsNil() {
			return Node{Kind: KindNull}, nil
		}
		return WrapE(rv.Elem().Interface())
	}
	return Node{}, TypeMismatch("wrap", "unsupported value of Go type %T", v)
}

// objectKind tells operator-expression shaped objects apart from plain ones.
func objectKind(obj interface{}) Kind {
	if ObjectLen(obj) != 1 {
		return KindObject
	}
	for _, f := range Fields(obj) {
		if strings.HasPrefix(f.Key, "$") {
			return KindExpression
		}
	}
	return KindObject
}
