package types_test

import (
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/types"
)

type status string

func TestWrapKinds(t *testing.T) {
	oid := bson.NewObjectID()
	dec, err := bson.ParseDecimal128("1.5")
	require.NoError(t, err)

	tests := []struct {
		name string
		v    interface{}
		want types.Kind
	}{
		{"nil", nil, types.KindNull},
		{"missing", types.Missing, types.KindNull},
		{"bson null", bson.Null{}, types.KindNull},
		{"undefined", bson.Undefined{}, types.KindNull},
		{"bool", true, types.KindBoolean},
		{"int32", int32(1), types.KindInt},
		{"small int", 1, types.KindInt},
		{"big int", math.MaxInt32 + 1, types.KindLong},
		{"int64", int64(1), types.KindLong},
		{"float64", 1.5, types.KindDouble},
		{"decimal", dec, types.KindDecimal},
		{"string", "s", types.KindString},
		{"symbol", bson.Symbol("s"), types.KindSymbol},
		{"named string", status("ok"), types.KindString},
		{"array", bson.A{1}, types.KindArray},
		{"typed slice", []string{"a"}, types.KindArray},
		{"object", bson.M{"a": 1}, types.KindObject},
		{"ordered object", bson.D{{Key: "a", Value: 1}}, types.KindObject},
		{"operator object", bson.M{"$add": bson.A{1, 2}}, types.KindExpression},
		{"typed map", map[string]int{"a": 1}, types.KindObject},
		{"time", time.Now(), types.KindDate},
		{"datetime", bson.DateTime(0), types.KindDate},
		{"regex", bson.Regex{Pattern: "a"}, types.KindRegex},
		{"go regexp", regexp.MustCompile("a"), types.KindRegex},
		{"binary", bson.Binary{Data: []byte{1}}, types.KindBinary},
		{"bytes", []byte{1}, types.KindBinary},
		{"objectId", oid, types.KindObjectID},
		{"timestamp", bson.Timestamp{T: 1}, types.KindTimestamp},
		{"minKey", bson.MinKey{}, types.KindMinKey},
		{"maxKey", bson.MaxKey{}, types.KindMaxKey},
		{"nil pointer", (*int)(nil), types.KindNull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := types.WrapE(tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Kind)
		})
	}
}

func TestWrapUnsupported(t *testing.T) {
	_, err := types.WrapE(make(chan int))
	require.Error(t, err)
	assert.True(t, types.IsTypeMismatch(err))
	assert.Equal(t, types.KindNull, types.Wrap(make(chan int)).Kind)
}

func TestKindNames(t *testing.T) {
	assert.Equal(t, "objectId", types.KindObjectID.String())
	assert.Equal(t, "object", types.KindExpression.String())
	assert.True(t, types.KindDecimal.IsNumeric())
	assert.False(t, types.KindString.IsNumeric())
}

func TestMissingVersusNull(t *testing.T) {
	assert.False(t, types.Absent().Exists())
	assert.True(t, types.Wrap(nil).Exists())
	assert.True(t, types.Absent().IsNull())

	seq := types.Node{Kind: types.KindArray, Value: types.Sequence{}}
	cands := seq.Candidates()
	require.Len(t, cands, 1)
	assert.False(t, cands[0].Exists())
}

func TestArithmeticPromotion(t *testing.T) {
	dec := func(s string) bson.Decimal128 {
		d, err := bson.ParseDecimal128(s)
		require.NoError(t, err)
		return d
	}
	tests := []struct {
		name string
		op   func(a, b types.Node) (interface{}, error)
		a, b interface{}
		want interface{}
	}{
		{"int32 sum", types.Add, int32(1), int32(2), int32(3)},
		{"int32 overflow to long", types.Add, int32(math.MaxInt32), int32(1), int64(math.MaxInt32 + 1)},
		{"long", types.Add, int64(1), int32(2), int64(3)},
		{"go int keeps int", types.Add, 1, int32(2), 3},
		{"long overflow to double", types.Add, int64(math.MaxInt64), int64(1), float64(math.MaxInt64) + 1},
		{"double", types.Multiply, 1.5, int32(2), 3.0},
		{"decimal", types.Add, dec("0.1"), dec("0.2"), dec("0.3")},
		{"decimal with int", types.Multiply, dec("1.5"), int32(2), dec("3")},
		{"subtract", types.Subtract, int32(5), int32(7), int32(-2)},
		{"divide is double", types.Divide, int32(7), int32(2), 3.5},
		{"mod", types.Mod, int32(-7), int32(3), int32(-1)},
		{"mod double", types.Mod, 7.5, int32(2), 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op(types.Wrap(tt.a), types.Wrap(tt.b))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArithmeticErrors(t *testing.T) {
	_, err := types.Add(types.Wrap("a"), types.Wrap(1))
	assert.True(t, types.IsTypeMismatch(err))
	_, err = types.Divide(types.Wrap(1), types.Wrap(0))
	assert.True(t, types.IsTypeMismatch(err))
	_, err = types.Mod(types.Wrap(1), types.Wrap(0.0))
	assert.True(t, types.IsTypeMismatch(err))
}

func TestUnwrapNumber(t *testing.T) {
	dec, err := bson.ParseDecimal128("2.5")
	require.NoError(t, err)
	for _, v := range []interface{}{int32(1), int64(2), 3, 1.5, dec} {
		got, err := types.UnwrapNumber(types.Wrap(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	for _, v := range []interface{}{"1", nil, true, bson.A{1}} {
		_, err := types.UnwrapNumber(types.Wrap(v))
		require.Error(t, err, "%v", v)
		assert.True(t, types.IsTypeMismatch(err))
	}
	_, err = types.UnwrapNumber(types.Absent())
	assert.True(t, types.IsTypeMismatch(err))
}

func TestAsInt64(t *testing.T) {
	n, ok := types.AsInt64(types.Wrap(3.0))
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
	_, ok = types.AsInt64(types.Wrap(3.5))
	assert.False(t, ok)
	_, ok = types.AsInt64(types.Wrap(math.NaN()))
	assert.False(t, ok)
	_, ok = types.AsInt64(types.Wrap("3"))
	assert.False(t, ok)
}

func TestObjectHelpers(t *testing.T) {
	d := bson.D{{Key: "b", Value: 1}, {Key: "a", Value: 2}}
	assert.Equal(t, []bson.E(d), types.Fields(d))
	assert.Equal(t, []bson.E{{Key: "a", Value: 2}, {Key: "b", Value: 1}}, types.Fields(bson.M{"b": 1, "a": 2}))

	d2 := types.SetField(d, "c", 3).(bson.D)
	assert.Equal(t, "c", d2[2].Key)
	d3 := types.DeleteField(d2, "b").(bson.D)
	assert.Equal(t, bson.D{{Key: "a", Value: 2}, {Key: "c", Value: 3}}, d3)

	m := bson.M{"a": 1}
	cp := types.ShallowCopy(m).(bson.M)
	cp["a"] = 2
	assert.Equal(t, 1, m["a"])

	assert.IsType(t, bson.D{}, types.NewObjectLike(d))
	assert.IsType(t, map[string]interface{}{}, types.NewObjectLike(map[string]interface{}{}))
	assert.IsType(t, bson.M{}, types.NewObjectLike(nil))
}

func TestDeepCopy(t *testing.T) {
	dec, err := bson.ParseDecimal128("2.50")
	require.NoError(t, err)
	orig := bson.M{"nested": bson.M{"arr": bson.A{1, bson.M{"x": 1}}}, "d": dec}
	cp := types.DeepCopy(orig).(bson.M)
	cp["nested"].(bson.M)["arr"].(bson.A)[1].(bson.M)["x"] = 2
	assert.Equal(t, 1, orig["nested"].(bson.M)["arr"].(bson.A)[1].(bson.M)["x"])
	assert.Equal(t, dec, cp["d"])
}

func TestErrors(t *testing.T) {
	err := types.CompileError(types.ErrBadArgument, "$limit", "must be positive").WithPath("x")
	assert.Equal(t, `C0102: $limit: must be positive (path "x")`, err.Error())
	assert.True(t, types.IsCompileError(err))
	assert.False(t, types.IsTypeMismatch(err))

	wrapped := errors.Wrap(err, "stage 0")
	assert.True(t, types.IsCompileError(wrapped))
	assert.True(t, types.HasCode(wrapped, types.ErrBadArgument))

	mm := types.TypeMismatch("$inc", "not a number")
	assert.True(t, types.IsTypeMismatch(mm))
	assert.False(t, types.IsCompileError(mm))

	cause := errors.New("boom")
	assert.ErrorIs(t, types.NewError(types.ErrUnsupported, "x").WithCause(cause), cause)
}
