package filter_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"

	"github.com/sandrolain/gomql/pkg/filter"
	"github.com/sandrolain/gomql/pkg/types"
)

type matchCase struct {
	Name    string                 `yaml:"name"`
	Query   map[string]interface{} `yaml:"query"`
	Match   []interface{}          `yaml:"match"`
	NoMatch []interface{}          `yaml:"nomatch"`
}

func loadCases(t testing.TB, file string) []matchCase {
	t.Helper()
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var cases []matchCase
	require.NoError(t, yaml.Unmarshal(data, &cases))
	require.NotEmpty(t, cases)
	return cases
}

func TestMatchFixtures(t *testing.T) {
	for _, tc := range loadCases(t, "testdata/match.yaml") {
		t.Run(tc.Name, func(t *testing.T) {
			match, err := filter.Compile(tc.Query)
			require.NoError(t, err)
			for _, doc := range tc.Match {
				assert.True(t, match(doc), "expected match: %v", doc)
			}
			for _, doc := range tc.NoMatch {
				assert.False(t, match(doc), "expected no match: %v", doc)
			}
		})
	}
}

func TestExplicitEqVersusImplicit(t *testing.T) {
	doc := bson.M{"tags": bson.A{"A", "B"}}

	explicit, err := filter.Compile(bson.M{"tags": bson.M{"$eq": "A"}})
	require.NoError(t, err)
	implicit, err := filter.Compile(bson.M{"tags": "A"})
	require.NoError(t, err)

	assert.False(t, explicit(doc))
	assert.True(t, implicit(doc))

	whole, err := filter.Compile(bson.M{"tags": bson.M{"$eq": bson.A{"A", "B"}}})
	require.NoError(t, err)
	assert.True(t, whole(doc))
}

func TestMatchBSONValues(t *testing.T) {
	id := bson.NewObjectID()
	doc := bson.D{
		{Key: "_id", Value: id},
		{Key: "name", Value: "bob"},
		{Key: "n", Value: int64(7)},
		{Key: "price", Value: mustDecimal(t, "7.0")},
		{Key: "when", Value: bson.DateTime(1700000000000)},
	}
	for name, query := range map[string]interface{}{
		"object id":        bson.M{"_id": id},
		"regex value":      bson.M{"name": bson.Regex{Pattern: "^B", Options: "i"}},
		"regex in $in":     bson.M{"name": bson.M{"$in": bson.A{bson.Regex{Pattern: "^b"}, "x"}}},
		"long equals int":  bson.M{"n": 7},
		"decimal vs int":   bson.M{"price": bson.M{"$gte": 7}},
		"date range":       bson.M{"when": bson.M{"$gt": bson.DateTime(0)}},
		"type long":        bson.M{"n": bson.M{"$type": "long"}},
		"type decimal":     bson.M{"price": bson.M{"$type": 19}},
		"not regex":        bson.M{"name": bson.M{"$not": bson.Regex{Pattern: "^x"}}},
		"ordered query":    bson.D{{Key: "name", Value: "bob"}, {Key: "n", Value: bson.M{"$lt": 8.5}}},
		"regex with flags": bson.M{"name": bson.M{"$regex": bson.Regex{Pattern: "B$", Options: "i"}}},
	} {
		t.Run(name, func(t *testing.T) {
			match, err := filter.Compile(query)
			require.NoError(t, err)
			assert.True(t, match(doc))
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		query interface{}
		code  types.ErrorCode
	}{
		{"not an object", "a", types.ErrBadArgument},
		{"$and not array", bson.M{"$and": bson.M{"a": 1}}, types.ErrBadArgument},
		{"$or empty", bson.M{"$or": bson.A{}}, types.ErrBadArgument},
		{"$nor scalar element", bson.M{"$nor": bson.A{1}}, types.ErrBadArgument},
		{"unknown top level", bson.M{"$foo": 1}, types.ErrUnknownOperator},
		{"unknown field operator", bson.M{"a": bson.M{"$foo": 1}}, types.ErrUnknownOperator},
		{"mixed operators and fields", bson.D{{Key: "$gt", Value: 1}, {Key: "b", Value: 2}}, types.ErrUnknownOperator},
		{"mixed in condition", bson.M{"a": bson.D{{Key: "$gt", Value: 1}, {Key: "b", Value: 2}}}, types.ErrUnknownOperator},
		{"fractional $size", bson.M{"a": bson.M{"$size": 1.5}}, types.ErrBadArgument},
		{"negative $size", bson.M{"a": bson.M{"$size": -1}}, types.ErrBadArgument},
		{"$size string", bson.M{"a": bson.M{"$size": "2"}}, types.ErrBadArgument},
		{"$mod zero divisor", bson.M{"a": bson.M{"$mod": bson.A{0, 1}}}, types.ErrBadArgument},
		{"$mod one element", bson.M{"a": bson.M{"$mod": bson.A{2}}}, types.ErrBadArgument},
		{"$in not array", bson.M{"a": bson.M{"$in": 1}}, types.ErrBadArgument},
		{"$in nested operator", bson.M{"a": bson.M{"$in": bson.A{bson.M{"$gt": 1}}}}, types.ErrBadArgument},
		{"$all not array", bson.M{"a": bson.M{"$all": 1}}, types.ErrBadArgument},
		{"bad pattern", bson.M{"a": bson.M{"$regex": "("}}, types.ErrBadArgument},
		{"bad flag", bson.M{"a": bson.M{"$regex": "a", "$options": "z"}}, types.ErrBadArgument},
		{"options without regex", bson.M{"a": bson.M{"$options": "i"}}, types.ErrBadArgument},
		{"options twice", bson.M{"a": bson.M{"$regex": bson.Regex{Pattern: "a", Options: "i"}, "$options": "m"}}, types.ErrBadArgument},
		{"$not scalar", bson.M{"a": bson.M{"$not": 5}}, types.ErrBadArgument},
		{"$not plain object", bson.M{"a": bson.M{"$not": bson.M{"b": 1}}}, types.ErrBadArgument},
		{"$type bogus", bson.M{"a": bson.M{"$type": "bogus"}}, types.ErrBadArgument},
		{"$type bad code", bson.M{"a": bson.M{"$type": 99}}, types.ErrBadArgument},
		{"$elemMatch scalar", bson.M{"a": bson.M{"$elemMatch": 1}}, types.ErrBadArgument},
		{"$where", bson.M{"$where": "this.a > 1"}, types.ErrUnsupported},
		{"$text", bson.M{"$text": bson.M{"$search": "x"}}, types.ErrUnsupported},
		{"geo", bson.M{"loc": bson.M{"$near": bson.A{0, 0}}}, types.ErrUnsupported},
		{"dollar path segment", bson.M{"a.$": 1}, types.ErrUnsupported},
		{"empty path segment", bson.M{"a..b": 1}, types.ErrBadPath},
		{"bad $expr", bson.M{"$expr": bson.M{"$nope": 1}}, types.ErrUnknownOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := filter.Compile(tt.query)
			require.Error(t, err)
			assert.True(t, types.IsCompileError(err), "%v", err)
			assert.True(t, types.HasCode(err, tt.code), "%v", err)
		})
	}
}

func TestCompileCondition(t *testing.T) {
	gte, err := filter.CompileCondition(bson.M{"$gte": 6})
	require.NoError(t, err)
	assert.True(t, gte(6))
	assert.True(t, gte(7.5))
	assert.False(t, gte(5))
	assert.False(t, gte("7"))

	eq, err := filter.CompileCondition("x")
	require.NoError(t, err)
	assert.True(t, eq("x"))
	assert.False(t, eq("y"))

	_, err = filter.CompileCondition(bson.M{"$bogus": 1})
	assert.True(t, types.HasCode(err, types.ErrUnknownOperator))
}

func TestNilQueryMatchesEverything(t *testing.T) {
	match, err := filter.Compile(nil)
	require.NoError(t, err)
	assert.True(t, match(bson.M{"a": 1}))
	assert.True(t, match(nil))
}

func TestExprUsesClock(t *testing.T) {
	now := bson.DateTime(1700000000000).Time()
	match, err := filter.Compile(
		bson.M{"$expr": bson.M{"$lt": bson.A{"$due", "$$NOW"}}},
		types.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	assert.True(t, match(bson.M{"due": now.Add(-time.Hour)}))
	assert.False(t, match(bson.M{"due": now.Add(time.Hour)}))
}

func mustDecimal(t *testing.T, s string) bson.Decimal128 {
	t.Helper()
	d, err := bson.ParseDecimal128(s)
	require.NoError(t, err)
	return d
}

func FuzzCompile(f *testing.F) {
	seeds := []string{
		`{"a": 1}`,
		`{"a.b": {"$gt": 1, "$lt": 5}}`,
		`{"$or": [{"a": {"$in": [1, "x"]}}, {"b": {"$exists": false}}]}`,
		`{"tags": {"$all": ["a"], "$size": 1}}`,
		`{"items": {"$elemMatch": {"sku": "x"}}}`,
		`{"name": {"$regex": "^a", "$options": "i"}}`,
		`{"$expr": {"$gt": ["$a", 1]}}`,
		`{"a": {"$not": {"$type": "string"}}}`,
		`{}`,
	}
	for _, s := range seeds {
		f.Add(s)
	}
	doc := bson.M{
		"a":     bson.A{1, "x", bson.M{"b": 2}},
		"tags":  bson.A{"a"},
		"items": bson.A{bson.M{"sku": "x", "qty": 3}},
		"name":  "alice",
	}
	f.Fuzz(func(t *testing.T, input string) {
		var query bson.D
		if err := bson.UnmarshalExtJSON([]byte(input), false, &query); err != nil {
			return
		}
		match, err := filter.Compile(query)
		if err != nil {
			return
		}
		_ = match(doc)
	})
}

func BenchmarkMatch(b *testing.B) {
	match, err := filter.Compile(bson.M{
		"status": "active",
		"$or": bson.A{
			bson.M{"qty": bson.M{"$gte": 10}},
			bson.M{"tags": bson.M{"$in": bson.A{"sale", "clearance"}}},
		},
		"items.sku": bson.M{"$regex": "^AB"},
	})
	require.NoError(b, err)
	doc := bson.M{
		"status": "active",
		"qty":    3,
		"tags":   bson.A{"new", "sale"},
		"items":  bson.A{bson.M{"sku": "XY1"}, bson.M{"sku": "AB2"}},
	}
	b.ReportAllocs()
	for b.Loop() {
		if !match(doc) {
			b.Fatal("expected match")
		}
	}
}
