package resource

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kestrel/internal/epoch"
)

// Type tags of the builtin evolving values besides Linear.
const (
	TagStopwatch = "stopwatch/1"
	TagPiecewise = "piecewise/1"
)

func init() {
	Register(Codec{Tag: TagStopwatch, Decode: decodeStopwatch, Default: func() Value { return Stopwatch{} }})
	Register(Codec{Tag: TagPiecewise, Decode: decodePiecewise})
}

// Stopwatch measures time while it runs. Elapsed is the reading at the
// instant the value was written; a running stopwatch reads later by the
// time passed since. A stopped stopwatch keeps its last reading.
type Stopwatch struct {
	Running bool
	Elapsed epoch.Duration
}

// StartedStopwatch returns a running stopwatch reading zero.
func StartedStopwatch() Stopwatch { return Stopwatch{Running: true} }

func (Stopwatch) TypeTag() string { return TagStopwatch }

func (v Stopwatch) Equal(o Value) bool {
	w, ok := o.(Stopwatch)
	return ok && v == w
}

func (v Stopwatch) AppendBinary(b []byte) ([]byte, error) {
	var flag byte
	if v.Running {
		flag = 1
	}
	b = append(b, flag)
	return binary.AppendVarint(b, int64(v.Elapsed)), nil
}

// Evolve advances a running stopwatch by elapsed.
func (v Stopwatch) Evolve(elapsed epoch.Duration) Value {
	if !v.Running {
		return v
	}
	return Stopwatch{Running: true, Elapsed: v.Elapsed + elapsed}
}

// Stop freezes the reading.
func (v Stopwatch) Stop() Stopwatch { return Stopwatch{Elapsed: v.Elapsed} }

func (v Stopwatch) String() string {
	if v.Running {
		return "running " + v.Elapsed.String()
	}
	return "stopped " + v.Elapsed.String()
}

func decodeStopwatch(data []byte) (Value, error) {
	if len(data) < 2 || data[0] > 1 {
		return nil, fmt.Errorf("malformed stopwatch")
	}
	n, size := binary.Varint(data[1:])
	if size <= 0 || 1+size != len(data) {
		return nil, fmt.Errorf("malformed stopwatch reading")
	}
	return Stopwatch{Running: data[0] == 1, Elapsed: epoch.Duration(n)}, nil
}

// Piece takes over a Piecewise value After its write.
type Piece struct {
	After epoch.Duration
	Value Value
}

// Piecewise is a value that switches to scheduled successors as time
// passes: Default until the first piece's After, then that piece's value,
// and so on. Offsets are relative to the write, so the same schedule
// written at different times encodes identically. Each segment evolves
// from the instant it takes over.
type Piecewise struct {
	Default Value
	Pieces  []Piece
}

// NewPiecewise checks that every piece has the default's type and that
// offsets are positive and strictly increasing.
func NewPiecewise(def Value, pieces ...Piece) (Piecewise, error) {
	if def == nil {
		return Piecewise{}, fmt.Errorf("piecewise: nil default")
	}
	if def.TypeTag() == TagPiecewise {
		return Piecewise{}, fmt.Errorf("piecewise: nested piecewise values are not supported")
	}
	var last epoch.Duration
	for i, p := range pieces {
		if p.Value == nil || p.Value.TypeTag() != def.TypeTag() {
			return Piecewise{}, fmt.Errorf("piecewise: piece %d is not %s", i, def.TypeTag())
		}
		if p.After <= last {
			return Piecewise{}, fmt.Errorf("piecewise: piece %d at %s does not follow %s", i, p.After, last)
		}
		last = p.After
	}
	return Piecewise{Default: def, Pieces: slices.Clone(pieces)}, nil
}

func (Piecewise) TypeTag() string { return TagPiecewise }

// Current is the segment value in effect at the write.
func (v Piecewise) Current() Value { return v.Default }

func (v Piecewise) Equal(o Value) bool {
	w, ok := o.(Piecewise)
	if !ok || v.Default == nil || w.Default == nil || len(v.Pieces) != len(w.Pieces) || !v.Default.Equal(w.Default) {
		return false
	}
	for i, p := range v.Pieces {
		if p.After != w.Pieces[i].After || !p.Value.Equal(w.Pieces[i].Value) {
			return false
		}
	}
	return true
}

// AppendBinary writes the segment tag, the piece count, then each value as
// a length-prefixed encoding, pieces preceded by their offset.
func (v Piecewise) AppendBinary(b []byte) ([]byte, error) {
	if v.Default == nil {
		return nil, fmt.Errorf("piecewise: nil default")
	}
	tag := v.Default.TypeTag()
	b = binary.AppendUvarint(b, uint64(len(tag)))
	b = append(b, tag...)
	b = binary.AppendUvarint(b, uint64(len(v.Pieces)))
	var err error
	if b, err = appendPrefixed(b, v.Default); err != nil {
		return nil, err
	}
	for _, p := range v.Pieces {
		b = binary.AppendVarint(b, int64(p.After))
		if b, err = appendPrefixed(b, p.Value); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func appendPrefixed(b []byte, v Value) ([]byte, error) {
	data, err := v.AppendBinary(nil)
	if err != nil {
		return nil, err
	}
	b = binary.AppendUvarint(b, uint64(len(data)))
	return append(b, data...), nil
}

// Evolve moves to the segment in effect elapsed after the write and
// rebases the remaining pieces on that instant.
func (v Piecewise) Evolve(elapsed epoch.Duration) Value {
	i := 0
	for i < len(v.Pieces) && v.Pieces[i].After <= elapsed {
		i++
	}
	cur, start := v.Default, epoch.Duration(0)
	if i > 0 {
		cur, start = v.Pieces[i-1].Value, v.Pieces[i-1].After
	}
	out := Piecewise{Default: At(cur, elapsed-start)}
	for _, p := range v.Pieces[i:] {
		out.Pieces = append(out.Pieces, Piece{After: p.After - elapsed, Value: p.Value})
	}
	return out
}

func (v Piecewise) String() string {
	var sb strings.Builder
	sb.WriteString(v.Default.String())
	for i, p := range v.Pieces {
		if i == 0 {
			sb.WriteString(" then ")
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s after %s", p.Value, p.After)
	}
	return sb.String()
}

func decodePiecewise(data []byte) (Value, error) {
	r := reader{data: data}
	tag := string(r.bytes())
	n := r.uvarint()
	if r.err != nil {
		return nil, r.err
	}
	if n > uint64(len(data)) {
		return nil, fmt.Errorf("piecewise: %d pieces in %d bytes", n, len(data))
	}
	def, err := Decode(tag, r.bytes())
	if r.err != nil {
		return nil, r.err
	}
	if err != nil {
		return nil, err
	}
	pieces := make([]Piece, 0, n)
	for range n {
		after := epoch.Duration(r.varint())
		raw := r.bytes()
		if r.err != nil {
			return nil, r.err
		}
		v, err := Decode(tag, raw)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, Piece{After: after, Value: v})
	}
	if len(r.data) != 0 {
		return nil, fmt.Errorf("piecewise: %d trailing bytes", len(r.data))
	}
	pw, err := NewPiecewise(def, pieces...)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// reader consumes varint-framed fields, keeping the first error.
type reader struct {
	data []byte
	err  error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	n, size := binary.Uvarint(r.data)
	if size <= 0 {
		r.err = fmt.Errorf("piecewise: malformed length")
		return 0
	}
	r.data = r.data[size:]
	return n
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	n, size := binary.Varint(r.data)
	if size <= 0 {
		r.err = fmt.Errorf("piecewise: malformed offset")
		return 0
	}
	r.data = r.data[size:]
	return n
}

func (r *reader) bytes() []byte {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.data)) {
		r.err = fmt.Errorf("piecewise: field of %d bytes overruns input", n)
		return nil
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b
}
