package gomql_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sandrolain/gomql"
	"github.com/sandrolain/gomql/pkg/cache"
	"github.com/sandrolain/gomql/pkg/functions"
	"github.com/sandrolain/gomql/pkg/pipeline"
	"github.com/sandrolain/gomql/pkg/types"
)

func TestVersion(t *testing.T) {
	assert.True(t, strings.HasPrefix(gomql.Version(), "v"))
}

func TestArrayUnwrapRule(t *testing.T) {
	doc := bson.M{"tags": bson.A{"A", "B"}}

	implicit := gomql.MustCompileFilter(bson.M{"tags": "A"})
	explicit := gomql.MustCompileFilter(bson.M{"tags": bson.M{"$eq": "A"}})
	whole := gomql.MustCompileFilter(bson.M{"tags": bson.M{"$eq": bson.A{"A", "B"}}})
	reversed := gomql.MustCompileFilter(bson.M{"tags": bson.A{"B", "A"}})

	assert.True(t, implicit(doc))
	assert.False(t, explicit(doc))
	assert.True(t, whole(doc))
	assert.False(t, reversed(doc))
	// pure: a second call gives the same answer
	assert.True(t, implicit(doc))
}

func TestFilterUpdateRoundTrip(t *testing.T) {
	upd, err := gomql.CompileUpdate(bson.M{"$pop": bson.M{"scores": -1}})
	require.NoError(t, err)
	doc, err := upd(bson.M{"scores": bson.A{8, 9, 10}}, false)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"scores": bson.A{9, 10}}, doc)

	pred := gomql.MustCompileFilter(bson.M{"scores": bson.M{"$size": 2}})
	assert.True(t, pred(doc))
}

func TestAggregate(t *testing.T) {
	docs := []interface{}{
		bson.M{"borough": "Queens", "n": 1},
		bson.M{"borough": "Bronx", "n": 2},
		bson.M{"borough": "Queens", "n": 3},
	}
	out, err := gomql.Aggregate(context.Background(), bson.A{
		bson.M{"$group": bson.M{"_id": "$borough", "n": bson.M{"$sum": "$n"}}},
		bson.M{"$sort": bson.M{"_id": 1}},
	}, docs)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{
		bson.M{"_id": "Bronx", "n": 2},
		bson.M{"_id": "Queens", "n": 4},
	}, out)
}

func TestAggregateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gomql.Aggregate(ctx, bson.A{bson.M{"$limit": 1}}, []interface{}{bson.M{}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream(t *testing.T) {
	e := gomql.New()
	in := pipeline.FromReader(strings.NewReader(`{"a": 1}
{"a": 2}
{"a": 3}`))
	out, err := e.Stream(context.Background(), bson.A{bson.M{"$match": bson.M{"a": bson.M{"$gte": 2}}}}, in)
	require.NoError(t, err)
	docs, err := pipeline.Collect(out)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{
		bson.D{{Key: "a", Value: int32(2)}},
		bson.D{{Key: "a", Value: int32(3)}},
	}, docs)
}

func TestJSONVariants(t *testing.T) {
	e := gomql.New()

	pred, err := e.CompileFilterJSON(`{"_id": {"$oid": "65f1c0a8e4b0a1b2c3d4e5f6"}}`)
	require.NoError(t, err)
	oid, _ := bson.ObjectIDFromHex("65f1c0a8e4b0a1b2c3d4e5f6")
	assert.True(t, pred(bson.M{"_id": oid}))
	assert.False(t, pred(bson.M{"_id": "65f1c0a8e4b0a1b2c3d4e5f6"}))

	upd, err := e.CompileUpdateJSON(`{"$inc": {"n": {"$numberLong": "2"}}}`)
	require.NoError(t, err)
	doc, err := upd(bson.M{"n": int32(1)}, false)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"n": int64(3)}, doc)

	p, err := e.CompilePipelineJSON(`[{"$sort": {"b": 1, "a": -1}}]`)
	require.NoError(t, err)
	out, err := p.Run([]interface{}{
		bson.M{"a": 1, "b": 1},
		bson.M{"a": 2, "b": 1},
		bson.M{"a": 3, "b": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{
		bson.M{"a": 3, "b": 0},
		bson.M{"a": 2, "b": 1},
		bson.M{"a": 1, "b": 1},
	}, out)

	_, err = e.CompileFilterJSON(`{"a": `)
	require.Error(t, err)
	assert.True(t, types.IsCompileError(err))

	_, err = e.CompilePipelineJSON(`{"$limit": 1}`)
	assert.Error(t, err)
}

func TestCaching(t *testing.T) {
	e := gomql.New(gomql.WithCaching(true))
	require.NotNil(t, e.Cache())

	_, err := e.CompileFilter(bson.M{"a": int32(1), "b": int32(2)})
	require.NoError(t, err)
	_, err = e.CompileFilter(bson.M{"b": int32(2), "a": int32(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Cache().Len())

	_, err = e.CompileUpdate(bson.M{"$set": bson.M{"a": int32(1)}})
	require.NoError(t, err)
	_, err = e.CompilePipeline(bson.A{bson.M{"$limit": int32(1)}})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Cache().Len())

	// errors are not cached
	_, err = e.CompilePipeline(bson.A{bson.M{"$limit": int32(0)}})
	require.Error(t, err)
	assert.Equal(t, 3, e.Cache().Len())

	// specs that cannot be keyed still compile
	_, err = e.CompileFilter(bson.M{"$where": func() {}})
	assert.Error(t, err)
}

func TestCachedUpdateKeepsValueTypes(t *testing.T) {
	e := gomql.New(gomql.WithCaching(true))
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	values := []interface{}{
		float32(1.5), 1.5,
		now, bson.NewDateTimeFromTime(now),
		uint32(7), int64(7),
		[]byte{1}, bson.Binary{Data: []byte{1}},
	}
	for _, v := range values {
		upd, err := e.CompileUpdate(bson.M{"$set": bson.M{"a": v}})
		require.NoError(t, err)
		out, err := upd(bson.M{}, false)
		require.NoError(t, err)
		assert.IsType(t, v, out.(bson.M)["a"], "%T", v)
	}
	assert.Equal(t, len(values), e.Cache().Len())
}

func TestCacheSizeAndSharing(t *testing.T) {
	e := gomql.New(gomql.WithCacheSize(2))
	assert.Equal(t, 2, e.Cache().Capacity())
	for i := int32(0); i < 5; i++ {
		_, err := e.CompileFilter(bson.M{"n": i})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, e.Cache().Len())

	shared := cache.New[any](8)
	a := gomql.New(gomql.WithCache(shared))
	b := gomql.New(gomql.WithCache(shared))
	_, err := a.CompileFilter(bson.M{"x": int32(1)})
	require.NoError(t, err)
	_, err = b.CompileFilter(bson.M{"x": int32(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, shared.Len())

	assert.Nil(t, gomql.New().Cache())
}

func TestCachedPredicateIsReusable(t *testing.T) {
	e := gomql.New(gomql.WithCaching(true))
	p1, err := e.CompileFilter(bson.M{"a": bson.M{"$gt": int32(1)}})
	require.NoError(t, err)
	p2, err := e.CompileFilter(bson.M{"a": bson.M{"$gt": int32(1)}})
	require.NoError(t, err)
	assert.True(t, p1(bson.M{"a": 2}))
	assert.True(t, p2(bson.M{"a": 2}))
	assert.False(t, p2(bson.M{"a": 1}))
}

func TestWithClock(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)
	upd, err := gomql.CompileUpdate(bson.M{"$currentDate": bson.M{"at": true}},
		gomql.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	doc, err := upd(bson.M{}, false)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"at": now}, doc)
}

func TestWithOperator(t *testing.T) {
	double := functions.OperatorDef{
		Name:    "double",
		MinArgs: 1,
		MaxArgs: 1,
		Fn: func(args ...interface{}) (interface{}, error) {
			n, _ := args[0].(int)
			return n * 2, nil
		},
	}
	pred, err := gomql.CompileFilter(bson.M{"$expr": bson.M{"$eq": bson.A{bson.M{"$double": "$a"}, "$b"}}},
		gomql.WithOperator(double))
	require.NoError(t, err)
	assert.True(t, pred(bson.M{"a": 2, "b": 4}))
	assert.False(t, pred(bson.M{"a": 2, "b": 5}))

	_, err = gomql.CompileFilter(bson.M{"$expr": bson.M{"$double": "$a"}})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrUnknownOperator))
}

func TestWithLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	e := gomql.New(gomql.WithLogger(zap.New(core)))
	p, err := e.CompilePipeline(bson.A{bson.M{"$sort": bson.M{"a": 1}}})
	require.NoError(t, err)
	_, err = p.Run([]interface{}{bson.M{"a": 2}, bson.M{"a": 1}})
	require.NoError(t, err)
	assert.NotZero(t, logs.FilterMessage("compiled pipeline").Len())
	assert.NotZero(t, logs.FilterMessage("sorting buffered documents").Len())
}

func TestMustCompilePanics(t *testing.T) {
	assert.Panics(t, func() { gomql.MustCompileFilter(bson.M{"a": bson.M{"$bogus": 1}}) })
	assert.Panics(t, func() { gomql.MustCompileUpdate(bson.M{"a": 1}) })
	assert.Panics(t, func() { gomql.MustCompilePipeline(bson.A{bson.M{"$limit": -1}}) })
}

func TestCompileErrorsAreSynchronous(t *testing.T) {
	tests := []struct {
		name    string
		compile func() error
	}{
		{"limit zero", func() error { _, err := gomql.CompilePipeline(bson.A{bson.M{"$limit": 0}}); return err }},
		{"limit negative", func() error { _, err := gomql.CompilePipeline(bson.A{bson.M{"$limit": -1}}); return err }},
		{"sort order", func() error { _, err := gomql.CompilePipeline(bson.A{bson.M{"$sort": bson.M{"a": 2}}}); return err }},
		{"size fraction", func() error { _, err := gomql.CompileFilter(bson.M{"a": bson.M{"$size": 1.5}}); return err }},
		{"unknown update operator", func() error { _, err := gomql.CompileUpdate(bson.M{"$frob": bson.M{"a": 1}}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.compile()
			require.Error(t, err)
			assert.True(t, types.IsCompileError(err))
		})
	}
}
