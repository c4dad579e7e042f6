package path_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/path"
	"github.com/sandrolain/gomql/pkg/types"
)

func TestSplitRejectsInvalidPaths(t *testing.T) {
	tests := []struct {
		name string
		path string
		code types.ErrorCode
	}{
		{"empty", "", types.ErrBadPath},
		{"empty segment", "a..b", types.ErrBadPath},
		{"trailing dot", "a.", types.ErrBadPath},
		{"positional", "a.$.b", types.ErrUnsupported},
		{"all positional", "a.$[].b", types.ErrUnsupported},
		{"nul", "a\x00b", types.ErrBadPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := path.CompileReader(tt.path)
			require.Error(t, err)
			assert.True(t, types.HasCode(err, tt.code), "got %v", err)
			assert.True(t, types.IsCompileError(err))
		})
	}
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, path.IsIdentifier("idx"))
	assert.True(t, path.IsIdentifier("_id"))
	assert.False(t, path.IsIdentifier(""))
	assert.False(t, path.IsIdentifier("$idx"))
	assert.False(t, path.IsIdentifier("a.b"))
	assert.False(t, path.IsIdentifier("a\x00"))
}

func TestReader(t *testing.T) {
	doc := bson.M{
		"name": "x",
		"null": nil,
		"sub":  bson.M{"n": int32(1)},
		"items": bson.A{
			bson.M{"price": 1, "tags": bson.A{"a", "b"}},
			bson.M{"price": 2},
			"scalar",
			bson.M{"other": true},
		},
		"matrix": bson.A{bson.A{1, 2}, bson.A{3}},
		"obj":    bson.M{"0": "zero"},
	}

	t.Run("plain field", func(t *testing.T) {
		n := path.MustCompileReader("name")(doc)
		assert.Equal(t, types.KindString, n.Kind)
		assert.Equal(t, "name", n.Key)
	})

	t.Run("present null", func(t *testing.T) {
		n := path.MustCompileReader("null")(doc)
		assert.True(t, n.Exists())
		assert.True(t, n.IsNull())
		assert.Equal(t, "null", n.Key)
	})

	t.Run("missing", func(t *testing.T) {
		n := path.MustCompileReader("sub.nope")(doc)
		assert.False(t, n.Exists())
		assert.False(t, path.MustCompileReader("name.length")(doc).Exists())
	})

	t.Run("nested object", func(t *testing.T) {
		n := path.MustCompileReader("sub.n")(doc)
		assert.Equal(t, int32(1), n.Value)
	})

	t.Run("traversal over array", func(t *testing.T) {
		n := path.MustCompileReader("items.price")(doc)
		require.True(t, n.IsSequence())
		assert.Equal(t, []interface{}{1, 2}, n.Interface())
		// the element without a price stays as a missing candidate
		assert.Len(t, n.Candidates(), 3)
	})

	t.Run("nested traversal is flattened", func(t *testing.T) {
		n := path.MustCompileReader("items.tags")(doc)
		require.True(t, n.IsSequence())
		cands := n.Candidates()
		require.Len(t, cands, 3)
		assert.Equal(t, types.KindArray, cands[0].Kind)
	})

	t.Run("positional index", func(t *testing.T) {
		n := path.MustCompileReader("items.1.price")(doc)
		assert.Equal(t, 2, n.Value)
		assert.False(t, path.MustCompileReader("items.9")(doc).Exists())
		assert.Equal(t, 3, path.MustCompileReader("matrix.1.0")(doc).Value)
	})

	t.Run("numeric field name on object", func(t *testing.T) {
		assert.Equal(t, "zero", path.MustCompileReader("obj.0")(doc).Value)
	})

	t.Run("empty traversal", func(t *testing.T) {
		n := path.MustCompileReader("matrix.x")(doc)
		require.True(t, n.IsSequence())
		cands := n.Candidates()
		require.Len(t, cands, 1)
		assert.False(t, cands[0].Exists())
	})

	t.Run("ordered document", func(t *testing.T) {
		d := bson.D{{Key: "a", Value: bson.D{{Key: "b", Value: "c"}}}}
		assert.Equal(t, "c", path.MustCompileReader("a.b")(d).Value)
	})
}

func TestWriterSet(t *testing.T) {
	t.Run("creates missing parents", func(t *testing.T) {
		doc := map[string]interface{}{}
		out, err := path.MustCompileWriter("a.b.c").Set(doc, 1)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{
			"a": map[string]interface{}{"b": map[string]interface{}{"c": 1}},
		}, out)
		// map roots are modified in place
		assert.Contains(t, doc, "a")
	})

	t.Run("keeps ordered flavour", func(t *testing.T) {
		doc := bson.D{{Key: "x", Value: 1}}
		out, err := path.MustCompileWriter("y.z").Set(doc, "v")
		require.NoError(t, err)
		assert.Equal(t, bson.D{
			{Key: "x", Value: 1},
			{Key: "y", Value: bson.D{{Key: "z", Value: "v"}}},
		}, out)
	})

	t.Run("array index pads with null", func(t *testing.T) {
		doc := bson.M{"a": bson.A{1}}
		out, err := path.MustCompileWriter("a.3").Set(doc, 4)
		require.NoError(t, err)
		assert.Equal(t, bson.A{1, nil, nil, 4}, out.(bson.M)["a"])
	})

	t.Run("index into array element", func(t *testing.T) {
		doc := bson.M{"a": bson.A{bson.M{"b": 1}}}
		_, err := path.MustCompileWriter("a.0.b").Set(doc, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, doc["a"].(bson.A)[0].(bson.M)["b"])
	})

	t.Run("non-numeric segment on array", func(t *testing.T) {
		doc := bson.M{"a": bson.A{1, 2}}
		_, err := path.MustCompileWriter("a.b").Set(doc, 1)
		require.Error(t, err)
		assert.True(t, types.IsTypeMismatch(err))
	})

	t.Run("through a scalar", func(t *testing.T) {
		doc := bson.M{"a": 5}
		_, err := path.MustCompileWriter("a.b").Set(doc, 1)
		assert.True(t, types.IsTypeMismatch(err))
	})

	t.Run("non-object root", func(t *testing.T) {
		_, err := path.MustCompileWriter("a").Set("doc", 1)
		assert.True(t, types.IsTypeMismatch(err))
	})
}

func TestWriterDelete(t *testing.T) {
	doc := bson.M{"a": bson.M{"b": 1, "c": 2}, "arr": bson.A{1, 2, 3}}

	out, err := path.MustCompileWriter("a.b").Delete(doc)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"c": 2}, out.(bson.M)["a"])

	_, err = path.MustCompileWriter("arr.1").Delete(doc)
	require.NoError(t, err)
	assert.Equal(t, bson.A{1, nil, 3}, doc["arr"])

	_, err = path.MustCompileWriter("x.y.z").Delete(doc)
	require.NoError(t, err)
	assert.NotContains(t, doc, "x")

	_, err = path.MustCompileWriter("arr.name").Delete(doc)
	assert.NoError(t, err)
}

func TestWriterApply(t *testing.T) {
	doc := bson.D{{Key: "n", Value: int32(1)}}
	w := path.MustCompileWriter("n")
	out, err := w.Apply(doc, func(cur types.Node) (interface{}, error) {
		assert.True(t, cur.Exists())
		return types.Add(cur, types.Wrap(int32(2)))
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), w.Get(out).Value)

	out, err = path.MustCompileWriter("m.k").Apply(out, func(cur types.Node) (interface{}, error) {
		assert.False(t, cur.Exists())
		return types.Missing, nil
	})
	require.NoError(t, err)
	assert.Len(t, out, 1, "no parent is created when nothing is stored")
}
