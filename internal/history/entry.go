package history

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roach88/kestrel/internal/resource"
)

// Delta is an encoded resource write. The resource's type tag selects the
// codec used to decode Data.
type Delta struct {
	Resource resource.ID
	Data     []byte
}

// Entry is the recorded outcome of one operation.
type Entry struct {
	Deltas []Delta
	// Failure is the recorded model error message, empty on success.
	Failure string
	// Failed distinguishes an empty failure message from success.
	Failed bool

	raw []byte
}

const (
	entryOK     = 0
	entryFailed = 1
)

// NewEntry encodes successful deltas.
func NewEntry(deltas []resource.Delta) (Entry, error) {
	e := Entry{Deltas: make([]Delta, 0, len(deltas))}
	for _, d := range deltas {
		if err := resource.Check(d.Resource, d.Value); err != nil {
			return Entry{}, err
		}
		data, err := d.Value.AppendBinary(nil)
		if err != nil {
			return Entry{}, fmt.Errorf("encode %s: %w", d.Resource, err)
		}
		e.Deltas = append(e.Deltas, Delta{Resource: d.Resource, Data: data})
	}
	e.raw = e.marshal()
	return e, nil
}

// FailedEntry records a model error.
func FailedEntry(err error) Entry {
	e := Entry{Failure: err.Error(), Failed: true}
	e.raw = e.marshal()
	return e
}

// Values decodes the deltas through the resource registry.
func (e Entry) Values() ([]resource.Delta, error) {
	out := make([]resource.Delta, 0, len(e.Deltas))
	for _, d := range e.Deltas {
		v, err := resource.Decode(d.Resource.Type, d.Data)
		if err != nil {
			return nil, fmt.Errorf("entry delta %s: %w", d.Resource, err)
		}
		out = append(out, resource.Delta{Resource: d.Resource, Value: v})
	}
	return out, nil
}

// Err returns the recorded model error, or nil.
func (e Entry) Err() error {
	if !e.Failed {
		return nil
	}
	return errors.New(e.Failure)
}

// MarshalBinary returns the canonical encoding used for persistence and
// duplicate verification.
func (e Entry) MarshalBinary() ([]byte, error) {
	if e.raw == nil {
		return e.marshal(), nil
	}
	return e.raw, nil
}

func (e Entry) bytes() []byte {
	if e.raw == nil {
		return e.marshal()
	}
	return e.raw
}

func (e Entry) marshal() []byte {
	var b []byte
	if e.Failed {
		b = append(b, entryFailed)
		return appendString(b, e.Failure)
	}
	b = append(b, entryOK)
	b = binary.AppendUvarint(b, uint64(len(e.Deltas)))
	for _, d := range e.Deltas {
		b = appendString(b, d.Resource.Name)
		b = appendString(b, d.Resource.Type)
		b = appendBytes(b, d.Data)
	}
	return b
}

// UnmarshalEntry decodes an entry and checks that every delta decodes
// through the registry.
func UnmarshalEntry(data []byte) (Entry, error) {
	r := reader{buf: data}
	var e Entry
	switch kind := r.byte(); kind {
	case entryFailed:
		e.Failed = true
		e.Failure = r.string()
	case entryOK:
		n := r.uvarint()
		if r.err == nil && n > uint64(len(data)) {
			r.err = fmt.Errorf("delta count %d exceeds payload", n)
		}
		for i := uint64(0); i < n && r.err == nil; i++ {
			name := r.string()
			tag := r.string()
			payload := r.bytes()
			e.Deltas = append(e.Deltas, Delta{Resource: resource.New(tag, name), Data: payload})
		}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("unknown entry kind %d", kind)
		}
	}
	if r.err == nil && len(r.buf) != 0 {
		r.err = fmt.Errorf("%d trailing bytes", len(r.buf))
	}
	if r.err != nil {
		return Entry{}, r.err
	}
	if _, err := e.Values(); err != nil {
		return Entry{}, err
	}
	e.raw = append([]byte(nil), data...)
	return e, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func appendBytes(b, data []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(data)))
	return append(b, data...)
}

// reader consumes length-prefixed fields, remembering the first error.
type reader struct {
	buf []byte
	err error
}

var errShort = errors.New("unexpected end of entry")

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) == 0 {
		r.err = errShort
		return 0
	}
	c := r.buf[0]
	r.buf = r.buf[1:]
	return c
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errShort
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) bytes() []byte {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)) {
		r.err = errShort
		return nil
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return out
}

func (r *reader) string() string {
	return string(r.bytes())
}
