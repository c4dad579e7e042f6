package types

import (
	"reflect"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Documents come in three flavours: map[string]interface{}, bson.M and the
// ordered bson.D. The helpers below accept any of them and keep the flavour
// when they have to build a new object.

// IsObject reports whether v is a document of a supported flavour.
func IsObject(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, bson.M, bson.D:
		return true
	}
	return false
}

// IsArray reports whether v is an array value.
func IsArray(v interface{}) bool {
	switch v.(type) {
	case []interface{}, bson.A:
		return true
	case []byte, bson.D, nil:
		return false
	}
	_, ok := ArrayValues(v)
	return ok
}

// ObjectLen returns the number of fields of obj.
func ObjectLen(obj interface{}) int {
	switch o := obj.(type) {
	case map[string]interface{}:
		return len(o)
	case bson.M:
		return len(o)
	case bson.D:
		return len(o)
	}
	return 0
}

// Fields returns the fields of obj in document order. Maps have no order, so
// their fields are returned sorted by key.
func Fields(obj interface{}) []bson.E {
	var m map[string]interface{}
	switch o := obj.(type) {
	case bson.D:
		return o
	case map[string]interface{}:
		m = o
	case bson.M:
		m = o
	default:
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]bson.E, len(keys))
	for i, k := range keys {
		out[i] = bson.E{Key: k, Value: m[k]}
	}
	return out
}

// Field looks up key in obj.
func Field(obj interface{}, key string) (interface{}, bool) {
	switch o := obj.(type) {
	case map[string]interface{}:
		v, ok := o[key]
		return v, ok
	case bson.M:
		v, ok := o[key]
		return v, ok
	case bson.D:
		for _, e := range o {
			if e.Key == key {
				return e.Value, true
			}
		}
	}
	return nil, false
}

// SetField sets key in obj and returns the object. Maps are modified in place;
// a bson.D may be re-allocated when the key is new.
func SetField(obj interface{}, key string, v interface{}) interface{} {
	switch o := obj.(type) {
	case map[string]interface{}:
		o[key] = v
		return o
	case bson.M:
		o[key] = v
		return o
	case bson.D:
		for i := range o {
			if o[i].Key == key {
				o[i].Value = v
				return o
			}
		}
		return append(o, bson.E{Key: key, Value: v})
	}
	return obj
}

// DeleteField removes key from obj and returns the object.
func DeleteField(obj interface{}, key string) interface{} {
	switch o := obj.(type) {
	case map[string]interface{}:
		delete(o, key)
		return o
	case bson.M:
		delete(o, key)
		return o
	case bson.D:
		for i := range o {
			if o[i].Key == key {
				return append(o[:i:i], o[i+1:]...)
			}
		}
		return o
	}
	return obj
}

// NewObjectLike returns an empty object of the same flavour as like. Objects
// without an origin are bson.M.
func NewObjectLike(like interface{}) interface{} {
	switch like.(type) {
	case map[string]interface{}:
		return map[string]interface{}{}
	case bson.D:
		return bson.D{}
	}
	return bson.M{}
}

// ShallowCopy returns a copy of obj that shares field values with it.
func ShallowCopy(obj interface{}) interface{} {
	switch o := obj.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(o))
		for k, v := range o {
			out[k] = v
		}
		return out
	case bson.M:
		out := make(bson.M, len(o))
		for k, v := range o {
			out[k] = v
		}
		return out
	case bson.D:
		return append(bson.D(nil), o...)
	}
	return obj
}

// ArrayValues returns the elements of an array value. []interface{} and bson.A
// are returned without copying; other slice types are converted.
func ArrayValues(v interface{}) ([]interface{}, bool) {
	switch a := v.(type) {
	case []interface{}:
		return a, true
	case bson.A:
		return a, true
	case Sequence:
		return Node{Kind: KindArray, Value: a}.Interface().([]interface{}), true
	case nil, []byte, bson.D:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// NewArrayLike returns vals as an array of the same flavour as like.
func NewArrayLike(like interface{}, vals []interface{}) interface{} {
	if _, ok := like.(bson.A); ok {
		return bson.A(vals)
	}
	return vals
}
