package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsDeep(t *testing.T) {
	orig := Object{
		"foos": Array{Object{"bar": String("baz")}},
		"n":    Int(1),
	}

	cp := CloneObject(orig)
	cp["foos"] = append(cp["foos"].(Array), String("extra"))
	cp["foos"].(Array)[0].(Object)["bar"] = String("changed")
	cp["n"] = Int(2)

	assert.Equal(t, Object{
		"foos": Array{Object{"bar": String("baz")}},
		"n":    Int(1),
	}, orig)
}

func TestCloneNilIsNull(t *testing.T) {
	assert.Equal(t, Null{}, Clone(nil))
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nil and null", nil, Null{}, true},
		{"same string", String("x"), String("x"), true},
		{"string vs int", String("1"), Int(1), false},
		{"nested equal", Object{"a": Array{Int(1)}}, Object{"a": Array{Int(1)}}, true},
		{"array length", Array{Int(1)}, Array{Int(1), Int(2)}, false},
		{"missing key", Object{"a": Null{}}, Object{"b": Null{}}, false},
		{"empty array vs empty object", Array{}, Object{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"foos":  []any{map[string]any{"bar": "baz"}},
		"count": 2,
		"whole": float64(7),
		"ok":    true,
		"none":  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, Object{
		"foos":  Array{Object{"bar": String("baz")}},
		"count": Int(2),
		"whole": Int(7),
		"ok":    Bool(true),
		"none":  Null{},
	}, v)
}

func TestFromGoRejects(t *testing.T) {
	_, err := FromGo(1.25)
	require.Error(t, err)

	_, err = FromGo(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestToGoRoundTrip(t *testing.T) {
	in := map[string]any{
		"list": []any{"a", int64(1), false, nil},
		"obj":  map[string]any{"k": "v"},
	}
	v, err := FromGo(in)
	require.NoError(t, err)
	assert.Equal(t, in, ToGo(v))
}

func TestUnmarshalValue(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"a":[1,"x",null,true],"b":{}}`))
	require.NoError(t, err)
	assert.Equal(t, Object{
		"a": Array{Int(1), String("x"), Null{}, Bool(true)},
		"b": Object{},
	}, v)

	_, err = UnmarshalValue([]byte(`1.5`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")
}

func TestObjectMarshalJSONSortsKeys(t *testing.T) {
	data, err := json.Marshal(Object{"b": Int(1), "a": Null{}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":null,"b":1}`, string(data))
}

func TestNewArrayNeverNil(t *testing.T) {
	arr := NewArray()
	assert.NotNil(t, arr)
	assert.Len(t, arr, 0)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "null", KindOf(nil))
	assert.Equal(t, "object", KindOf(NewObject(O("a", Int(1)))))
	assert.Equal(t, "array", KindOf(Array{}))
}
