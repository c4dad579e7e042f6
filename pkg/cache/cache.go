// Package cache provides a thread-safe LRU cache for compiled specifications.
//
// The cache is used by the gomql Engine when the WithCaching option is enabled.
// It avoids re-compiling the same filter, update or pipeline on every call,
// which pays off when the same specification is applied to many batches of
// documents.
//
// Keys are built by Key from the kind of program and its specification, so
// two specifications that compile to the same program share an entry.
//
// # Example
//
//	c := cache.New[filter.Predicate](1024)
//	key, _ := cache.Key("filter", query)
//	pred, err := c.GetOrCompile(key, func() (filter.Predicate, error) {
//	    return filter.Compile(query)
//	})
package cache

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/types"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 256

// Cache is a thread-safe LRU cache. Once the capacity is reached, the least
// recently used entry is evicted.
//
// Safe for concurrent use by multiple goroutines.
type Cache[V any] struct {
	capacity int
	lru      *lru.Cache[string, V]
}

// New creates a new LRU cache with the given capacity.
// capacity must be > 0; if <= 0, DefaultCapacity is used.
func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[string, V](capacity)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Cache[V]{capacity: capacity, lru: l}
}

// Get retrieves a value and marks it as recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set inserts or replaces a value, evicting the least recently used entry
// when the cache is full.
func (c *Cache[V]) Set(key string, v V) {
	c.lru.Add(key, v)
}

// GetOrCompile returns the value cached for key, or calls compile, caches
// its result and returns it. Errors are not cached.
func (c *Cache[V]) GetOrCompile(key string, compile func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err := compile()
	if err != nil {
		var zero V
		return zero, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Len returns the number of entries currently in the cache.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Capacity returns the maximum number of entries the cache can hold.
func (c *Cache[V]) Capacity() int {
	return c.capacity
}

// Invalidate removes a single entry from the cache.
func (c *Cache[V]) Invalidate(key string) {
	c.lru.Remove(key)
}

// Clear removes all entries from the cache.
func (c *Cache[V]) Clear() {
	c.lru.Purge()
}

// Key returns the cache key of a specification of the given kind. The key is
// the canonical Extended JSON of spec with object keys sorted, which is the
// order the compilers read unordered maps in. Specifications that cannot be
// encoded return an error and should not be cached.
func Key(kind string, spec interface{}) (string, error) {
	data, err := bson.MarshalExtJSON(bson.D{{Key: kind, Value: normalize(spec)}}, true, false)
	if err != nil {
		return "", errors.Wrapf(err, "building %s cache key", kind)
	}
	return string(data), nil
}

// normalize rewrites a specification into an ordered document. A value is
// kept as is only when its Go type is what Extended JSON decodes to; every
// other Go flavour (Go ints, float32, time.Time, unordered maps, plain and
// typed slices, named types) is tagged with its type, so a compiled program
// never hands back values of a different type than its specification holds.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, bool, int32, int64, float64, string,
		bson.Null, bson.Undefined, bson.Symbol, bson.Decimal128, bson.DateTime,
		bson.ObjectID, bson.Binary, bson.Regex, bson.Timestamp, bson.MinKey, bson.MaxKey:
		return v
	case bson.D:
		return fields(x)
	case bson.A:
		return elements(x)
	case bson.M:
		return tagged(x, fields(x))
	case map[string]interface{}:
		return tagged(x, fields(x))
	case int:
		return tagged(x, int64(x))
	case time.Time:
		return tagged(x, x.Format(time.RFC3339Nano))
	case *regexp.Regexp:
		if x == nil {
			return tagged(x, nil)
		}
		return tagged(x, x.String())
	}
	if vals, ok := types.ArrayValues(v); ok {
		return tagged(v, elements(vals))
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		return tagged(v, mapFields(rv))
	}
	return tagged(v, v)
}

// tagged wraps the normalized form of v with the name of its Go type.
func tagged(v, norm interface{}) bson.D {
	return bson.D{{Key: "$$go", Value: fmt.Sprintf("%T", v)}, {Key: "v", Value: norm}}
}

func mapFields(rv reflect.Value) bson.D {
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	out := make(bson.D, len(keys))
	for i, k := range keys {
		out[i] = bson.E{Key: k, Value: normalize(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())}
	}
	return out
}

func fields(obj interface{}) bson.D {
	fs := types.Fields(obj)
	out := make(bson.D, len(fs))
	for i, f := range fs {
		out[i] = bson.E{Key: f.Key, Value: normalize(f.Value)}
	}
	return out
}

func elements(vals []interface{}) bson.A {
	out := make(bson.A, len(vals))
	for i, el := range vals {
		out[i] = normalize(el)
	}
	return out
}
