package regex_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandrolain/gomql/pkg/regex"
	"github.com/sandrolain/gomql/pkg/types"
)

func TestCompileOptions(t *testing.T) {
	tests := []struct {
		pattern string
		options string
		input   string
		want    bool
	}{
		{"^abc", "", "abcdef", true},
		{"^abc", "", "ABCdef", false},
		{"^abc", "i", "ABCdef", true},
		{"^b", "", "a\nb", false},
		{"^b", "m", "a\nb", true},
		{"a.b", "", "a\nb", false},
		{"a.b", "s", "a\nb", true},
		{"a b # comment", "x", "ab", true},
		{`foo(?=bar)`, "", "foobar", true},
		{`foo(?!bar)`, "", "foobar", false},
		{`(\w)\1`, "", "hello", true},
	}
	for _, tt := range tests {
		t.Run(tt.options+"/"+tt.pattern, func(t *testing.T) {
			re, err := regex.Compile(tt.pattern, tt.options)
			require.NoError(t, err)
			assert.Equal(t, tt.want, regex.MatchString(re, tt.input))
		})
	}
}

func TestCompileIsCached(t *testing.T) {
	a, err := regex.Compile("^cached$", "i")
	require.NoError(t, err)
	b, err := regex.Compile("^cached$", "i")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := regex.Compile("^cached$", "")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestCompileErrors(t *testing.T) {
	_, err := regex.Compile("a", "g")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrBadArgument))

	_, err = regex.Compile("(unclosed", "")
	require.Error(t, err)
	assert.True(t, types.IsCompileError(err))

	assert.NoError(t, regex.ValidateOptions("imsxu"))
	assert.Error(t, regex.ValidateOptions("l"))
}

func TestFind(t *testing.T) {
	re, err := regex.Compile(`(\d+)-(\d+)`, "")
	require.NoError(t, err)
	m := regex.Find(re, "range 10-20 end")
	require.NotNil(t, m)
	assert.Equal(t, "10-20", m.String())
	assert.Equal(t, 6, m.Index)
	assert.Equal(t, "20", m.GroupByNumber(2).String())

	assert.Nil(t, regex.Find(re, "none"))
}

func TestFromNode(t *testing.T) {
	re, err := regex.FromNode(types.Wrap(bson.Regex{Pattern: "^x", Options: "i"}))
	require.NoError(t, err)
	assert.True(t, regex.MatchString(re, "Xy"))

	re, err = regex.FromNode(types.Wrap(regexp.MustCompile("y$")))
	require.NoError(t, err)
	assert.True(t, regex.MatchString(re, "xy"))

	_, err = regex.FromNode(types.Wrap("^x"))
	assert.Error(t, err)
}
