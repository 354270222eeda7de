package ir

import (
	"fmt"
	"math"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the canonical value kinds.
type Value interface {
	irValue()
}

// Str is a string value. Strings are NFC-normalized when encoded.
type Str string

func (Str) irValue() {}

// Int is a signed 64-bit integer value.
type Int int64

func (Int) irValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) irValue() {}

// Float is a float64 value. It is encoded bit-exactly, so -0 and +0 or
// two NaN payloads hash differently.
type Float float64

func (Float) irValue() {}

// List is an ordered sequence of values.
type List []Value

func (List) irValue() {}

// Object maps keys to values. Iterate with SortedKeys.
type Object map[string]Value

func (Object) irValue() {}

// Pair is a key/value pair for Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is shorthand for Pair.
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject builds an Object from pairs. Later pairs overwrite earlier ones.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// With returns a copy of obj with the extra pairs set.
func (obj Object) With(pairs ...Pair) Object {
	out := make(Object, len(obj)+len(pairs))
	for k, v := range obj {
		out[k] = v
	}
	for _, p := range pairs {
		out[p.Key] = p.Value
	}
	return out
}

// SortedKeys returns the keys ordered by UTF-16 code units, which is not
// the same as Go's byte-wise string order for supplementary characters.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
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

// FromAny converts decoded YAML/JSON/CUE data into a Value. Integral
// float64 values (as produced by JSON decoders) become Int.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a value")
	case Value:
		return val, nil
	case string:
		return Str(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", val)
		}
		return Int(val), nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return Int(int64(val)), nil
		}
		return Float(val), nil
	case float32:
		return FromAny(float64(val))
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			e, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = e
		}
		return out, nil
	case map[string]any:
		out := make(Object, len(val))
		for k, elem := range val {
			e, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
