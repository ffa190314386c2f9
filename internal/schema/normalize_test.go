package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trim", in: "  ab c  ", want: "ab c"},
		{name: "upper", in: "sn-01a", want: "SN-01A"},
		{name: "lower", in: "SN-01A", want: "sn-01a"},
		{name: "fold_width", in: "ＰＴ００１", want: "PT001"},
		{name: "alpha_only", in: "Pt-001 #2", want: "Pt"},
		{name: "alnum_only", in: "Pt-001 #2", want: "Pt0012"},
		{name: "strip_crlf", in: "line1\r\nline2", want: "line1 line2"},
		{name: "first_slash_part", in: "A123 / B456", want: "A123"},
		{name: "strip_paren", in: "SN001(retest)", want: "SN001"},
	}

	for _, tt := range tests {
		fn, ok := Normalizer(tt.name)
		require.True(t, ok, "normalizer %s should exist", tt.name)
		assert.Equal(t, tt.want, fn(tt.in), "normalizer %s on %q", tt.name, tt.in)
	}
}

func TestNormalizerUnknown(t *testing.T) {
	_, ok := Normalizer("does_not_exist")
	assert.False(t, ok)
}

func TestChain(t *testing.T) {
	fn, err := Chain([]string{"fold_width", "alnum_only", "upper"})
	require.NoError(t, err)
	assert.Equal(t, "PT001", fn("ｐｔ-001"))

	fn, err = Chain(nil)
	require.NoError(t, err)
	assert.Nil(t, fn, "empty chain resolves to nil")

	_, err = Chain([]string{"trim", "bogus"})
	require.Error(t, err)
	var unknown *UnknownNormalizerError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Name)
}
