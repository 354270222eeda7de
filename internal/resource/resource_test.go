package resource

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins_RoundTrip(t *testing.T) {
	values := []Value{
		Int(0), Int(-42), Int(math.MaxInt64),
		Float(3.25), Float(math.Inf(-1)),
		Bool(true), Bool(false),
		String(""), String("battery"),
		Linear{Value: 10, Rate: -0.5},
	}
	for _, v := range values {
		data, err := v.AppendBinary(nil)
		require.NoError(t, err)
		got, err := Decode(v.TypeTag(), data)
		require.NoError(t, err, "%v", v)
		assert.True(t, v.Equal(got), "%v != %v", v, got)
	}
}

func TestDecode_RejectsMalformed(t *testing.T) {
	_, err := Decode(TagFloat, []byte{1, 2, 3})
	assert.Error(t, err)
	_, err = Decode(TagBool, []byte{7})
	assert.Error(t, err)
	_, err = Decode("nope/1", nil)
	assert.ErrorContains(t, err, "unknown type tag")
}

func TestEqual_DistinguishesTypes(t *testing.T) {
	assert.False(t, Int(1).Equal(Float(1)))
	assert.False(t, Float(math.Copysign(0, -1)).Equal(Float(0)), "float equality is bit-exact")
	assert.True(t, Float(math.NaN()).Equal(Float(math.NaN())))
}

func TestRegister_Duplicate(t *testing.T) {
	assert.Panics(t, func() {
		Register(Codec{Tag: TagInt, Decode: decodeInt})
	})
	assert.Panics(t, func() { Register(Codec{Tag: "x/1"}) })
}

func TestTagsAndDefaults(t *testing.T) {
	tags := Tags()
	assert.Contains(t, tags, TagInt)
	assert.Contains(t, tags, TagLinear)
	assert.IsIncreasing(t, tags)

	v, err := Default(New(TagInt, "count"))
	require.NoError(t, err)
	assert.Equal(t, Int(0), v)

	_, err = Default(New("unknown/1", "x"))
	assert.Error(t, err)
}

func TestLinear_Evolve(t *testing.T) {
	l := Linear{Value: 100, Rate: -2}
	got := At(l, 10*time.Second)
	assert.Equal(t, Linear{Value: 80, Rate: -2}, got)
	assert.Equal(t, Int(5), At(Int(5), time.Hour), "non-evolving values are unchanged")
}

func TestHash_Stable(t *testing.T) {
	a, err := Hash(Int(5))
	require.NoError(t, err)
	b, err := Hash(Int(5))
	require.NoError(t, err)
	c, err := Hash(Int(6))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestID_ParseAndOrder(t *testing.T) {
	id := New(TagFloat, "battery.soc")
	got, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseID("missing-type")
	assert.Error(t, err)

	assert.Negative(t, New(TagInt, "a").Compare(New(TagInt, "b")))
	assert.NoError(t, Check(id, Float(1)))
	assert.Error(t, Check(id, Int(1)))
	assert.Error(t, Check(id, nil))
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(TagInt, 5)
	require.NoError(t, err)
	assert.Equal(t, Int(5), v)

	v, err = FromAny(TagLinear, map[string]any{"value": 1.5, "rate": 2})
	require.NoError(t, err)
	assert.Equal(t, Linear{Value: 1.5, Rate: 2}, v)

	_, err = FromAny(TagInt, 1.5)
	assert.Error(t, err)
	_, err = FromAny(TagBool, "yes")
	assert.Error(t, err)
}
