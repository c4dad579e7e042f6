package ext_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/ext"
	"github.com/sandrolain/gomql/pkg/ext/extcrypto"
	"github.com/sandrolain/gomql/pkg/ext/extstring"
	"github.com/sandrolain/gomql/pkg/filter"
	"github.com/sandrolain/gomql/pkg/pipeline"
	"github.com/sandrolain/gomql/pkg/types"
)

func project(t *testing.T, expr interface{}, doc bson.M) (interface{}, error) {
	t.Helper()
	p, err := pipeline.Compile(bson.A{bson.M{"$project": bson.M{"_id": 0, "v": expr}}}, ext.WithAll())
	require.NoError(t, err)
	out, err := p.Run([]interface{}{doc})
	if err != nil {
		return nil, err
	}
	require.Len(t, out, 1)
	v, _ := types.Field(out[0], "v")
	return v, nil
}

func TestStringOperators(t *testing.T) {
	doc := bson.M{"name": "userID_list-item", "s": "hello world"}
	tests := []struct {
		name string
		expr interface{}
		want interface{}
	}{
		{"startsWith", bson.M{"$startsWith": bson.A{"$s", "hello"}}, true},
		{"startsWith false", bson.M{"$startsWith": bson.A{"$s", "world"}}, false},
		{"endsWith", bson.M{"$endsWith": bson.A{"$s", "world"}}, true},
		{"camelCase", bson.M{"$camelCase": "$name"}, "userIdListItem"},
		{"snakeCase", bson.M{"$snakeCase": "$name"}, "user_id_list_item"},
		{"kebabCase", bson.M{"$kebabCase": "Hello Big World"}, "hello-big-world"},
		{"words", bson.M{"$words": "$name"}, []interface{}{"user", "ID", "list", "item"}},
		{"missing argument", bson.M{"$camelCase": "$nope"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := project(t, tt.expr, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringOperatorTypeMismatch(t *testing.T) {
	_, err := project(t, bson.M{"$startsWith": bson.A{1, "a"}}, bson.M{})
	require.Error(t, err)
	assert.True(t, types.IsTypeMismatch(err))
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"already", "Split"}, extstring.SplitWords("alreadySplit"))
	assert.Equal(t, []string{"a", "b", "c"}, extstring.SplitWords("  a__b--c "))
	assert.Equal(t, []string{"v2", "Beta"}, extstring.SplitWords("v2Beta"))
	assert.Empty(t, extstring.SplitWords(""))
}

func TestCryptoOperators(t *testing.T) {
	got, err := project(t, bson.M{"$hash": bson.A{"abc", "sha256"}}, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)

	got, err = project(t, bson.M{"$hash": bson.A{"abc", "MD5"}}, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", got)

	got, err = project(t, bson.M{"$hmac": bson.A{"The quick brown fox jumps over the lazy dog", "key", "sha256"}}, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)

	got, err = project(t, bson.M{"$uuid": bson.A{}}, bson.M{})
	require.NoError(t, err)
	id, err := uuid.Parse(got.(string))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), id.Version())

	_, err = project(t, bson.M{"$hash": bson.A{"abc", "crc32"}}, bson.M{})
	require.Error(t, err)
	assert.True(t, types.IsTypeMismatch(err))
}

func TestArityIsCheckedAtCompileTime(t *testing.T) {
	_, err := pipeline.Compile(bson.A{bson.M{"$project": bson.M{"v": bson.M{"$hash": "abc"}}}}, ext.WithCrypto())
	require.Error(t, err)
	assert.True(t, types.IsCompileError(err))
}

func TestBundlesInFilters(t *testing.T) {
	pred, err := filter.Compile(bson.M{"$expr": bson.M{"$startsWith": bson.A{"$sku", "w-"}}}, ext.WithString())
	require.NoError(t, err)
	assert.True(t, pred(bson.M{"sku": "w-1"}))
	assert.False(t, pred(bson.M{"sku": "g-1"}))

	_, err = filter.Compile(bson.M{"$expr": bson.M{"$startsWith": bson.A{"$sku", "w-"}}})
	assert.True(t, types.HasCode(err, types.ErrUnknownOperator))

	assert.Len(t, ext.All(), len(extstring.All())+len(extcrypto.All()))
}
