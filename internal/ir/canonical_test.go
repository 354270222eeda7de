package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", Str("hello"), `"hello"`},
		{"empty string", Str(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"min int64", Int(math.MinInt64), "-9223372036854775808"},
		{"bool", Bool(true), "true"},
		{"float", Float(1.5), "f64:3ff8000000000000"},
		{"empty list", List{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"list", List{Int(1), Str("a")}, `[1,"a"]`},
		{"no html escaping", Str("<a&b>"), `"<a&b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Object{"b": Int(1), "a": Int(2)},
		"beta":  Int(3),
	}

	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"beta":3,"zebra":1}`, string(got))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 is a surrogate pair (0xD83D...) and sorts before U+FB01 in
	// UTF-16, although its UTF-8 encoding sorts after.
	obj := Object{"\ufb01": Int(1), "\U0001F600": Int(2)}
	assert.Equal(t, []string{"\U0001F600", "\ufb01"}, obj.SortedKeys())
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed, err := MarshalCanonical(Str("e\u0301"))
	require.NoError(t, err)
	composed, err := MarshalCanonical(Str("\u00e9"))
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	got, err := MarshalCanonical(Str("a\u2028b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))

	got, err = MarshalCanonical(Str(`a\u2028b`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(got))
}

func TestMarshalCanonicalRejectsNil(t *testing.T) {
	_, err := MarshalCanonical(Object{"x": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil is forbidden")
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"n":    float64(3),
		"f":    2.5,
		"s":    "x",
		"list": []any{true, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, Object{
		"n":    Int(3),
		"f":    Float(2.5),
		"s":    Str("x"),
		"list": List{Bool(true), Int(1)},
	}, v)

	_, err = FromAny(map[string]any{"bad": nil})
	assert.Error(t, err)
	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestObjectWithCopies(t *testing.T) {
	base := NewObject(O("a", Int(1)))
	ext := base.With(O("b", Int(2)))
	assert.Len(t, base, 1)
	assert.Equal(t, Object{"a": Int(1), "b": Int(2)}, ext)
}
