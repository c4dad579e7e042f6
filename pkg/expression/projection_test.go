package expression_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/expression"
	"github.com/sandrolain/gomql/pkg/types"
)

func project(t *testing.T, p *expression.Projection, doc interface{}) interface{} {
	t.Helper()
	out, err := p.Apply(expression.NewEnv(doc, fixedNow))
	require.NoError(t, err)
	return out
}

func TestProjectInclusion(t *testing.T) {
	doc := bson.M{
		"_id":   1,
		"name":  "a",
		"qty":   5,
		"size":  bson.M{"h": 10, "w": 20},
		"items": bson.A{bson.M{"sku": "x", "n": 1}, "scalar", bson.M{"sku": "y", "n": 2}},
	}

	p, err := expression.CompileProjection(bson.M{"name": 1, "size.h": true})
	require.NoError(t, err)
	assert.False(t, p.IsExclusion())
	assert.Equal(t, bson.M{"_id": 1, "name": "a", "size": bson.M{"h": 10}}, project(t, p, doc))

	p, err = expression.CompileProjection(bson.M{"_id": 0, "items.sku": 1})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"items": bson.A{bson.M{"sku": "x"}, bson.M{"sku": "y"}}}, project(t, p, doc))

	p, err = expression.CompileProjection(bson.M{"total": bson.M{"$multiply": bson.A{"$qty", 2}}, "label": "fixed", "gone": "$nope"})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"_id": 1, "total": 10, "label": "fixed"}, project(t, p, doc))

	p, err = expression.CompileProjection(bson.M{"size": bson.M{"area": bson.M{"$multiply": bson.A{"$size.h", "$size.w"}}}, "new.x": bson.M{"$literal": 1}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"_id": 1, "size": bson.M{"area": 200}, "new": bson.M{"x": 1}}, project(t, p, doc))
}

func TestProjectKeepsDocumentOrder(t *testing.T) {
	doc := bson.D{{Key: "_id", Value: 1}, {Key: "b", Value: 2}, {Key: "a", Value: 1}, {Key: "c", Value: 3}}
	p, err := expression.CompileProjection(bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 1}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}, {Key: "b", Value: 2}, {Key: "a", Value: 1}}, project(t, p, doc))
}

func TestProjectExclusion(t *testing.T) {
	doc := bson.M{"_id": 1, "a": 1, "b": bson.M{"c": 1, "d": 2}, "arr": bson.A{bson.M{"c": 1, "e": 1}, 7}}
	p, err := expression.CompileProjection(bson.M{"a": 0, "b.c": false, "arr.c": 0})
	require.NoError(t, err)
	assert.True(t, p.IsExclusion())
	assert.Equal(t, bson.M{"_id": 1, "b": bson.M{"d": 2}, "arr": bson.A{bson.M{"e": 1}, 7}}, project(t, p, doc))
	// input is left untouched
	assert.Contains(t, doc, "a")
	assert.Equal(t, bson.M{"c": 1, "d": 2}, doc["b"])

	p, err = expression.CompileProjection(bson.M{"_id": 0})
	require.NoError(t, err)
	assert.NotContains(t, project(t, p, doc), "_id")
}

func TestProjectionCompileErrors(t *testing.T) {
	for name, spec := range map[string]interface{}{
		"mixed":        bson.M{"a": 1, "b": 0},
		"empty":        bson.M{},
		"empty object": bson.M{"a": bson.M{}},
		"collision":    bson.D{{Key: "a", Value: 1}, {Key: "a.b", Value: 1}},
		"dollar field": bson.M{"a.$b": 1},
		"not object":   bson.A{"a"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := expression.CompileProjection(spec)
			require.Error(t, err)
			assert.True(t, types.IsCompileError(err))
		})
	}
}

func TestSet(t *testing.T) {
	doc := bson.M{"a": 1, "sub": bson.M{"x": 1}, "arr": bson.A{bson.M{"k": 1}, 2}}
	p, err := expression.CompileSet(bson.M{
		"one":     1,
		"flag":    false,
		"a":       bson.M{"$add": bson.A{"$a", 1}},
		"sub":     bson.M{"y": "$a"},
		"arr.z":   "$a",
		"removed": "$$REMOVE",
	})
	require.NoError(t, err)
	assert.Equal(t, bson.M{
		"a":    2,
		"one":  1,
		"flag": false,
		"sub":  bson.M{"x": 1, "y": 1},
		"arr":  bson.A{bson.M{"k": 1, "z": 1}, bson.M{"z": 1}},
	}, project(t, p, doc))
	assert.Equal(t, 1, doc["a"])

	p, err = expression.CompileSet(bson.M{"a": "$$REMOVE"})
	require.NoError(t, err)
	assert.NotContains(t, project(t, p, doc), "a")
}

func TestUnset(t *testing.T) {
	doc := bson.M{"a": 1, "b": bson.M{"c": 1, "d": 1}}
	p, err := expression.CompileUnset("a")
	require.NoError(t, err)
	assert.Equal(t, bson.M{"b": bson.M{"c": 1, "d": 1}}, project(t, p, doc))

	p, err = expression.CompileUnset(bson.A{"a", "b.c"})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"b": bson.M{"d": 1}}, project(t, p, doc))

	for _, spec := range []interface{}{bson.A{}, 1, bson.A{"a", 2}, "$a"} {
		_, err := expression.CompileUnset(spec)
		assert.True(t, types.IsCompileError(err), "%v", spec)
	}
}
