package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the values that may appear in action
// arguments, store state and view state snapshots.
// Only Null, String, Int, Bool, Array and Object implement it.
// There is no float: snapshots and golden traces must be byte-stable.
type Value interface {
	irValue()
}

// Null is an explicit JSON null.
type Null struct{}

func (Null) irValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string value.
type String string

func (String) irValue() {}

// Int is an integer value. Always int64.
type Int int64

func (Int) irValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) irValue() {}

// Array is an ordered sequence of values.
type Array []Value

func (Array) irValue() {}

// Object maps string keys to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) irValue() {}

// Pair is a key-value pair for Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: NewObject(O("name", String("cart")), O("count", Int(5)))
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject creates an Object from key-value pairs.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// NewArray creates an Array from values. Never returns nil.
func NewArray(vals ...Value) Array {
	if vals == nil {
		return Array{}
	}
	return Array(vals)
}

// KindOf returns the JSON kind name of a value: "null", "string", "int",
// "bool", "array" or "object".
func KindOf(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order, which differs for astral runes.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Clone returns a deep copy of v. Nil becomes Null.
//
// Every snapshot taken by the tracer goes through Clone, so a handler that
// later mutates live state in place cannot rewrite an earlier snapshot.
func Clone(v Value) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	default:
		return val
	}
}

// CloneObject is Clone for objects.
func CloneObject(obj Object) Object {
	return Clone(obj).(Object)
}

// Equal reports whether a and b are structurally equal.
// Nil and Null are equal.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}

	switch av := a.(type) {
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, exists := bv[k]
			if !exists || !Equal(elem, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// MarshalJSON implements json.Marshaler for Object with sorted keys.
// NOTE: not canonical (HTML escaping, no NFC). Use MarshalCanonical for
// golden files and digests.
func (obj Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for Array.
func (arr Array) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalValue marshals a Value to JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		return val.MarshalJSON()
	case Object:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*obj = make(Object, len(raw))
	for k, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*obj)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (arr *Array) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*arr = make(Array, len(raw))
	for i, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*arr)[i] = val
	}
	return nil
}

// UnmarshalValue decodes a JSON document into a Value.
// Floats are rejected; null decodes to Null.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return Null{}, nil

	case '[':
		var arr Array
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil

	case '{':
		var obj Object
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		return obj, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		s := n.String()
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed in values: %s", s)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(i), nil
	}
}

// FromGo converts a decoded Go value (from YAML, JSON or test literals)
// into a Value. Whole floats are accepted because YAML and JSON decoders
// produce float64 for every number; fractional floats are rejected.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		return Int(int64(val)), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("floats are not allowed in values: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		return UnmarshalValue([]byte(val.String()))
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			converted, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			converted, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = converted
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MustFromGo is like FromGo but panics on error. Tests only.
func MustFromGo(v any) Value {
	out, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return out
}

// ToGo converts a Value into plain Go values (string, int64, bool, nil,
// []any, map[string]any) for rendering.
func ToGo(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}
