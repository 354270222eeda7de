package resource

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/roach88/kestrel/internal/epoch"
)

// Builtin type tags.
const (
	TagInt    = "int/1"
	TagFloat  = "float/1"
	TagBool   = "bool/1"
	TagString = "string/1"
	TagLinear = "linear/1"
)

func init() {
	Register(Codec{Tag: TagInt, Decode: decodeInt, Default: func() Value { return Int(0) }})
	Register(Codec{Tag: TagFloat, Decode: decodeFloat, Default: func() Value { return Float(0) }})
	Register(Codec{Tag: TagBool, Decode: decodeBool, Default: func() Value { return Bool(false) }})
	Register(Codec{Tag: TagString, Decode: decodeString, Default: func() Value { return String("") }})
	Register(Codec{Tag: TagLinear, Decode: decodeLinear, Default: func() Value { return Linear{} }})
}

// Int is a 64-bit integer value.
type Int int64

func (Int) TypeTag() string { return TagInt }

func (v Int) Equal(o Value) bool {
	w, ok := o.(Int)
	return ok && v == w
}

func (v Int) AppendBinary(b []byte) ([]byte, error) {
	return binary.AppendVarint(b, int64(v)), nil
}

func (v Int) String() string { return strconv.FormatInt(int64(v), 10) }

func decodeInt(data []byte) (Value, error) {
	n, size := binary.Varint(data)
	if size <= 0 || size != len(data) {
		return nil, fmt.Errorf("malformed varint")
	}
	return Int(n), nil
}

// Float is a float64 value. Equality is bit-exact.
type Float float64

func (Float) TypeTag() string { return TagFloat }

func (v Float) Equal(o Value) bool {
	w, ok := o.(Float)
	return ok && math.Float64bits(float64(v)) == math.Float64bits(float64(w))
}

func (v Float) AppendBinary(b []byte) ([]byte, error) {
	return binary.BigEndian.AppendUint64(b, math.Float64bits(float64(v))), nil
}

func (v Float) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

func decodeFloat(data []byte) (Value, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("want 8 bytes, got %d", len(data))
	}
	return Float(math.Float64frombits(binary.BigEndian.Uint64(data))), nil
}

// Bool is a boolean value.
type Bool bool

func (Bool) TypeTag() string { return TagBool }

func (v Bool) Equal(o Value) bool {
	w, ok := o.(Bool)
	return ok && v == w
}

func (v Bool) AppendBinary(b []byte) ([]byte, error) {
	if v {
		return append(b, 1), nil
	}
	return append(b, 0), nil
}

func (v Bool) String() string { return strconv.FormatBool(bool(v)) }

func decodeBool(data []byte) (Value, error) {
	if len(data) != 1 || data[0] > 1 {
		return nil, fmt.Errorf("malformed bool")
	}
	return Bool(data[0] == 1), nil
}

// String is a string value.
type String string

func (String) TypeTag() string { return TagString }

func (v String) Equal(o Value) bool {
	w, ok := o.(String)
	return ok && v == w
}

func (v String) AppendBinary(b []byte) ([]byte, error) {
	return append(b, v...), nil
}

func (v String) String() string { return string(v) }

func decodeString(data []byte) (Value, error) {
	return String(data), nil
}

// Linear is a value changing at a constant rate per second. It does not
// store the time it starts at, so the same line written at different times
// has the same encoding and can be served from the same cache entry.
type Linear struct {
	Value float64
	Rate  float64
}

func (Linear) TypeTag() string { return TagLinear }

func (v Linear) Equal(o Value) bool {
	w, ok := o.(Linear)
	return ok &&
		math.Float64bits(v.Value) == math.Float64bits(w.Value) &&
		math.Float64bits(v.Rate) == math.Float64bits(w.Rate)
}

func (v Linear) AppendBinary(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(v.Value))
	return binary.BigEndian.AppendUint64(b, math.Float64bits(v.Rate)), nil
}

// Evolve advances the line by elapsed.
func (v Linear) Evolve(elapsed epoch.Duration) Value {
	return Linear{Value: v.Value + v.Rate*elapsed.Seconds(), Rate: v.Rate}
}

func (v Linear) String() string {
	return fmt.Sprintf("%g%+g/s", v.Value, v.Rate)
}

func decodeLinear(data []byte) (Value, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("want 16 bytes, got %d", len(data))
	}
	return Linear{
		Value: math.Float64frombits(binary.BigEndian.Uint64(data[:8])),
		Rate:  math.Float64frombits(binary.BigEndian.Uint64(data[8:])),
	}, nil
}

// FromAny converts decoded document data into a value of type tag.
func FromAny(tag string, v any) (Value, error) {
	switch tag {
	case TagInt:
		switch n := v.(type) {
		case int:
			return Int(n), nil
		case int64:
			return Int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("%v is not an integer", n)
			}
			return Int(int64(n)), nil
		}
	case TagFloat:
		switch n := v.(type) {
		case int:
			return Float(n), nil
		case int64:
			return Float(n), nil
		case float64:
			return Float(n), nil
		}
	case TagBool:
		if b, ok := v.(bool); ok {
			return Bool(b), nil
		}
	case TagString:
		if s, ok := v.(string); ok {
			return String(s), nil
		}
	case TagLinear:
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		val, err := FromAny(TagFloat, m["value"])
		if err != nil {
			return nil, fmt.Errorf("linear value: %w", err)
		}
		rate, err := FromAny(TagFloat, m["rate"])
		if err != nil {
			return nil, fmt.Errorf("linear rate: %w", err)
		}
		return Linear{Value: float64(val.(Float)), Rate: float64(rate.(Float))}, nil
	case TagStopwatch:
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		var sw Stopwatch
		if r, ok := m["running"]; ok {
			if sw.Running, ok = r.(bool); !ok {
				return nil, fmt.Errorf("stopwatch running: %T is not a bool", r)
			}
		}
		if e, ok := m["elapsed"]; ok {
			d, err := seconds(e)
			if err != nil {
				return nil, fmt.Errorf("stopwatch elapsed: %w", err)
			}
			sw.Elapsed = d
		}
		return sw, nil
	case TagPiecewise:
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		seg, _ := m["type"].(string)
		if seg == "" {
			return nil, fmt.Errorf("piecewise: missing segment type")
		}
		def, err := FromAny(seg, m["default"])
		if err != nil {
			return nil, fmt.Errorf("piecewise default: %w", err)
		}
		raw, _ := m["pieces"].([]any)
		pieces := make([]Piece, 0, len(raw))
		for i, r := range raw {
			pm, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("piecewise piece %d: want {after, value}", i)
			}
			after, err := seconds(pm["after"])
			if err != nil {
				return nil, fmt.Errorf("piecewise piece %d after: %w", i, err)
			}
			pv, err := FromAny(seg, pm["value"])
			if err != nil {
				return nil, fmt.Errorf("piecewise piece %d: %w", i, err)
			}
			pieces = append(pieces, Piece{After: after, Value: pv})
		}
		pw, err := NewPiecewise(def, pieces...)
		if err != nil {
			return nil, err
		}
		return pw, nil
	default:
		return nil, fmt.Errorf("no document form for type %q", tag)
	}
	return nil, fmt.Errorf("cannot use %T (%v) as %s", v, v, tag)
}

// seconds reads a document number of seconds as a duration.
func seconds(v any) (epoch.Duration, error) {
	f, err := FromAny(TagFloat, v)
	if err != nil {
		return 0, err
	}
	return epoch.Duration(float64(f.(Float)) * float64(time.Second)), nil
}
