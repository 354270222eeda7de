package resource

import (
	"fmt"
	"strings"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/ir"
)

// ID identifies a resource by value type tag and name.
type ID struct {
	Type string
	Name string
}

// New returns the ID of a resource named name holding values tagged tag.
func New(tag, name string) ID {
	return ID{Type: tag, Name: name}
}

func (id ID) String() string {
	return id.Name + "<" + id.Type + ">"
}

// Compare orders IDs by name, then type tag.
func (id ID) Compare(o ID) int {
	if c := strings.Compare(id.Name, o.Name); c != 0 {
		return c
	}
	return strings.Compare(id.Type, o.Type)
}

// ParseID parses the String form "name<tag>".
func ParseID(s string) (ID, error) {
	open := strings.LastIndexByte(s, '<')
	if open <= 0 || !strings.HasSuffix(s, ">") {
		return ID{}, fmt.Errorf("parse resource id %q: want name<type>", s)
	}
	return ID{Name: s[:open], Type: s[open+1 : len(s)-1]}, nil
}

// Value is a resource value. Implementations must be immutable.
type Value interface {
	// TypeTag names the registered codec for this value.
	TypeTag() string
	// Equal reports semantic equality. It decides whether a write changed
	// the resource, which is what triggers daemons.
	Equal(other Value) bool
	// AppendBinary appends the codec's encoding of the value to b.
	AppendBinary(b []byte) ([]byte, error)
	fmt.Stringer
}

// Evolving values change with time after they are written, for example a
// line with a rate. Readers receive the value evolved to their own time.
type Evolving interface {
	Value
	Evolve(elapsed epoch.Duration) Value
}

// At returns v as seen elapsed after it was written.
func At(v Value, elapsed epoch.Duration) Value {
	if ev, ok := v.(Evolving); ok && elapsed != 0 {
		return ev.Evolve(elapsed)
	}
	return v
}

// Delta is a single resource write produced by an operation.
type Delta struct {
	Resource ID
	Value    Value
}

// Point is a value written to a resource at a time.
type Point struct {
	Time  epoch.Epoch
	Value Value
}

// Hash returns a stable digest of the value: its tag and binary encoding.
func Hash(v Value) (ir.Digest, error) {
	data, err := v.AppendBinary(nil)
	if err != nil {
		return ir.Digest{}, fmt.Errorf("hash %s value: %w", v.TypeTag(), err)
	}
	return ir.NewHasher(ir.DomainValue).String(v.TypeTag()).Bytes(data).Sum(), nil
}

// Check reports an error if v does not belong in resource id.
func Check(id ID, v Value) error {
	if v == nil {
		return fmt.Errorf("resource %s: nil value", id)
	}
	if v.TypeTag() != id.Type {
		return fmt.Errorf("resource %s: value has type %q", id, v.TypeTag())
	}
	return nil
}
