package parser_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/parser"
	"github.com/sandrolain/gomql/pkg/types"
)

func TestParseDocumentKeepsOrder(t *testing.T) {
	doc, err := parser.ParseDocument(`{"b": 1, "a": {"y": true, "x": null}}`)
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "b", Value: int32(1)},
		{Key: "a", Value: bson.D{{Key: "y", Value: true}, {Key: "x", Value: nil}}},
	}, doc)
}

func TestParseExtendedTypes(t *testing.T) {
	oid, err := bson.ObjectIDFromHex("65f1c0a8e4b0a1b2c3d4e5f6")
	require.NoError(t, err)
	dec, err := bson.ParseDecimal128("1.10")
	require.NoError(t, err)

	doc, err := parser.ParseDocument(`{
		"id": {"$oid": "65f1c0a8e4b0a1b2c3d4e5f6"},
		"n": {"$numberLong": "9007199254740993"},
		"d": {"$numberDecimal": "1.10"},
		"f": 2.5,
		"at": {"$date": "2024-03-15T10:30:45.123Z"},
		"re": {"$regularExpression": {"pattern": "^a", "options": "i"}},
		"arr": [1, "x"]
	}`)
	require.NoError(t, err)

	get := func(k string) interface{} {
		v, _ := types.Field(doc, k)
		return v
	}
	assert.Equal(t, oid, get("id"))
	assert.Equal(t, int64(9007199254740993), get("n"))
	assert.Equal(t, dec, get("d"))
	assert.Equal(t, 2.5, get("f"))
	assert.Equal(t, bson.NewDateTimeFromTime(time.Date(2024, 3, 15, 10, 30, 45, 123000000, time.UTC)), get("at"))
	assert.Equal(t, bson.Regex{Pattern: "^a", Options: "i"}, get("re"))
	assert.Equal(t, bson.A{int32(1), "x"}, get("arr"))
}

func TestParseScalars(t *testing.T) {
	v, err := parser.Parse(` "abc" `)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	v, err = parser.Parse(`null`)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parser.Parse(`{"$numberInt": "7"}`)
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
}

func TestParsePipeline(t *testing.T) {
	stages, err := parser.ParsePipeline(`[{"$match": {"a": 1}}, {"$limit": 2}]`)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, bson.D{{Key: "$limit", Value: int32(2)}}, stages[1])
}

func TestCanonicalOnly(t *testing.T) {
	relaxed := []string{
		`{"n": 1}`,
		`{"n": 1.5}`,
		`{"a": [{"$numberInt": "1"}, 2]}`,
		`{"q": {"$gte": -3}}`,
		`{"d": {"$date": "2024-05-01T10:00:00Z"}}`,
		`{"d": {"$date": 1714557600000}}`,
		`7`,
	}
	for _, text := range relaxed {
		t.Run(text, func(t *testing.T) {
			_, err := parser.Parse(text, parser.WithCanonicalOnly(true))
			require.Error(t, err)
			assert.True(t, types.HasCode(err, types.ErrBadArgument))

			_, err = parser.Parse(text)
			assert.NoError(t, err)
		})
	}

	doc, err := parser.ParseDocument(`{"n": {"$numberInt": "1"}, "s": "1", "ok": true, "z": null}`, parser.WithCanonicalOnly(true))
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "n", Value: int32(1)},
		{Key: "s", Value: "1"},
		{Key: "ok", Value: true},
		{Key: "z", Value: nil},
	}, doc)

	doc, err = parser.ParseDocument(`{"d": {"$date": {"$numberLong": "1714557600000"}}}`, parser.WithCanonicalOnly(true))
	require.NoError(t, err)
	assert.Equal(t, bson.DateTime(1714557600000), doc[0].Value)
}

func TestMaxDepth(t *testing.T) {
	deep := strings.Repeat("[", 10) + strings.Repeat("]", 10)
	_, err := parser.Parse(deep, parser.WithMaxDepth(5))
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrBadArgument))

	_, err = parser.Parse(deep, parser.WithMaxDepth(10))
	assert.NoError(t, err)

	// brackets inside strings do not count
	_, err = parser.Parse(`["[[[[[[[["]`, parser.WithMaxDepth(2))
	assert.NoError(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		parse func() error
	}{
		{"empty", func() error { _, err := parser.Parse(``); return err }},
		{"malformed", func() error { _, err := parser.Parse(`{"a": }`); return err }},
		{"trailing value", func() error { _, err := parser.Parse(`{} {}`); return err }},
		{"trailing garbage", func() error { _, err := parser.Parse(`1 x`); return err }},
		{"bad oid", func() error { _, err := parser.Parse(`{"$oid": "zz"}`); return err }},
		{"document expected", func() error { _, err := parser.ParseDocument(`[1]`); return err }},
		{"pipeline expected", func() error { _, err := parser.ParsePipeline(`{"$match": {}}`); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.parse()
			require.Error(t, err)
			assert.True(t, types.IsCompileError(err), "%v", err)
			assert.True(t, types.HasCode(err, types.ErrBadArgument))
		})
	}
}

func FuzzParse(f *testing.F) {
	f.Add(`{"a": {"$gt": 1}}`)
	f.Add(`[{"$sort": {"a": -1}}]`)
	f.Add(`{"d": {"$date": {"$numberLong": "0"}}}`)
	f.Add(`"\"[{"`)
	f.Fuzz(func(t *testing.T, input string) {
		_, _ = parser.Parse(input)
	})
}
