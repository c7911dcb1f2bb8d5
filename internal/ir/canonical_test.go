package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"zero", Int(0), "0"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"min int64", Int(-9223372036854775808), "-9223372036854775808"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"null", Null{}, "null"},
		{"nil", nil, "null"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
		{"object with null", Object{"error": Null{}}, `{"error":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := Object{
		"z": Object{
			"b": Int(1),
			"a": Int(2),
		},
		"a": Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as surrogate 0xD800, which sorts before 0xE000.
	obj := Object{
		"\uE000":     Int(1),
		"\U00010000": Int(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"`+"\U00010000"+`":2,"`+"\uE000"+`":1}`, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<a href=\"x\">&</a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a href=\"x\">&</a>"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9.
	decomposed := String("e\u0301")
	composed := String("\u00e9")

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical(String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))
}

func TestMarshalCanonicalEscapedBackslashBeforeU(t *testing.T) {
	// A literal backslash followed by "u2028" text must survive.
	result, err := MarshalCanonical(String(`\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(result))
}

func TestMarshalCanonicalControlChars(t *testing.T) {
	result, err := MarshalCanonical(String("a\nb\tc"))
	require.NoError(t, err)
	assert.Equal(t, `"a\nb\tc"`, string(result))
}

func TestMarshalCanonicalGoValues(t *testing.T) {
	result, err := MarshalCanonical(map[string]any{
		"foos": []any{map[string]any{"bar": "baz"}},
		"n":    float64(3),
		"none": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"foos":[{"bar":"baz"}],"n":3,"none":null}`, string(result))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	obj := Object{
		"c": Array{Int(1), String("x")},
		"a": Object{"y": Bool(true), "x": Null{}},
		"b": String("v"),
	}

	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	for range 20 {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}
