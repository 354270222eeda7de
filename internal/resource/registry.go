package resource

import (
	"fmt"
	"slices"
	"sync"
)

// Codec decodes values of one type tag and supplies the default value used
// when a plan gives a resource no initial condition.
type Codec struct {
	Tag     string
	Decode  func(data []byte) (Value, error)
	Default func() Value
}

var registry = struct {
	sync.RWMutex
	codecs map[string]Codec
}{codecs: make(map[string]Codec)}

// Register adds a codec to the process-wide registry. It is meant to be
// called from init functions and panics on an invalid or duplicate tag.
func Register(c Codec) {
	if c.Tag == "" || c.Decode == nil {
		panic("resource: Register requires Tag and Decode")
	}
	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.codecs[c.Tag]; dup {
		panic(fmt.Sprintf("resource: type tag %q registered twice", c.Tag))
	}
	registry.codecs[c.Tag] = c
}

// Lookup returns the codec for tag.
func Lookup(tag string) (Codec, bool) {
	registry.RLock()
	defer registry.RUnlock()
	c, ok := registry.codecs[tag]
	return c, ok
}

// Tags lists registered tags in sorted order.
func Tags() []string {
	registry.RLock()
	defer registry.RUnlock()
	tags := make([]string, 0, len(registry.codecs))
	for t := range registry.codecs {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

// Decode decodes data with the codec registered for tag.
func Decode(tag string, data []byte) (Value, error) {
	c, ok := Lookup(tag)
	if !ok {
		return nil, fmt.Errorf("decode: unknown type tag %q", tag)
	}
	v, err := c.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	if v.TypeTag() != tag {
		return nil, fmt.Errorf("decode %s: codec produced %q", tag, v.TypeTag())
	}
	return v, nil
}

// Default returns the registered default value for id's type.
func Default(id ID) (Value, error) {
	c, ok := Lookup(id.Type)
	if !ok {
		return nil, fmt.Errorf("resource %s: unknown type tag", id)
	}
	if c.Default == nil {
		return nil, fmt.Errorf("resource %s: type has no default value", id)
	}
	return c.Default(), nil
}
