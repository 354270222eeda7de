package operation

import (
	"encoding/hex"
	"fmt"

	"github.com/roach88/kestrel/internal/ir"
	"github.com/roach88/kestrel/internal/resource"
)

// valueSeed captures a resource value inside a seed.
func valueSeed(v resource.Value) ir.Value {
	data, err := v.AppendBinary(nil)
	if err != nil {
		// a value that cannot encode cannot be cached either; make the seed
		// unique to the error text so it never aliases another value
		return ir.NewObject(ir.O("tag", ir.Str(v.TypeTag())), ir.O("err", ir.Str(err.Error())))
	}
	return ir.NewObject(ir.O("tag", ir.Str(v.TypeTag())), ir.O("bin", ir.Str(hex.EncodeToString(data))))
}

func idSeed(id resource.ID) ir.Value {
	return ir.List{ir.Str(id.Name), ir.Str(id.Type)}
}

// Set writes a fixed value.
type Set struct {
	Name   string
	Target resource.ID
	Value  resource.Value
	Mode   WriteMode
}

func (s Set) ID() string               { return s.Name }
func (s Set) Upstreams() []resource.ID { return nil }
func (s Set) Downstreams() []Write     { return []Write{{Resource: s.Target, Mode: s.Mode}} }
func (s Set) TimeInvariant() bool      { return true }

func (s Set) Seed() ir.Object {
	return ir.NewObject(
		ir.O("op", ir.Str("set")),
		ir.O("target", idSeed(s.Target)),
		ir.O("value", valueSeed(s.Value)),
	)
}

func (s Set) Compute(Inputs) ([]resource.Delta, error) {
	return []resource.Delta{{Resource: s.Target, Value: s.Value}}, nil
}

// Add reads Target and writes Target plus Amount.
type Add struct {
	Name   string
	Target resource.ID
	Amount resource.Value
}

func (a Add) ID() string               { return a.Name }
func (a Add) Upstreams() []resource.ID { return []resource.ID{a.Target} }
func (a Add) Downstreams() []Write     { return []Write{{Resource: a.Target, Mode: Ordered}} }
func (a Add) TimeInvariant() bool      { return true }

func (a Add) Seed() ir.Object {
	return ir.NewObject(
		ir.O("op", ir.Str("add")),
		ir.O("target", idSeed(a.Target)),
		ir.O("amount", valueSeed(a.Amount)),
	)
}

func (a Add) Compute(in Inputs) ([]resource.Delta, error) {
	cur, err := in.Get(a.Target)
	if err != nil {
		return nil, err
	}
	sum, err := Sum(cur, a.Amount)
	if err != nil {
		return nil, err
	}
	return []resource.Delta{{Resource: a.Target, Value: sum}}, nil
}

// Copy reads From and writes To = From + Offset. A nil Offset copies the
// value unchanged; From and To must then share a type.
type Copy struct {
	Name   string
	From   resource.ID
	To     resource.ID
	Offset resource.Value
	Mode   WriteMode
}

func (c Copy) ID() string               { return c.Name }
func (c Copy) Upstreams() []resource.ID { return []resource.ID{c.From} }
func (c Copy) Downstreams() []Write     { return []Write{{Resource: c.To, Mode: c.Mode}} }
func (c Copy) TimeInvariant() bool      { return true }

func (c Copy) Seed() ir.Object {
	seed := ir.NewObject(
		ir.O("op", ir.Str("copy")),
		ir.O("from", idSeed(c.From)),
		ir.O("to", idSeed(c.To)),
	)
	if c.Offset != nil {
		seed["offset"] = valueSeed(c.Offset)
	}
	return seed
}

func (c Copy) Compute(in Inputs) ([]resource.Delta, error) {
	v, err := in.Get(c.From)
	if err != nil {
		return nil, err
	}
	if c.Offset != nil {
		if v, err = Sum(v, c.Offset); err != nil {
			return nil, err
		}
	}
	return []resource.Delta{{Resource: c.To, Value: v}}, nil
}

// Func adapts a closure. Kind names the computation in the fingerprint and
// Params captures its construction-time state; two Funcs with equal Kind
// and Params must compute the same thing.
type Func struct {
	Name      string
	Kind      string
	Params    ir.Object
	Reads     []resource.ID
	Writes    []Write
	Invariant bool
	Fn        func(in Inputs) ([]resource.Delta, error)
}

func (f Func) ID() string               { return f.Name }
func (f Func) Upstreams() []resource.ID { return f.Reads }
func (f Func) Downstreams() []Write     { return f.Writes }
func (f Func) TimeInvariant() bool      { return f.Invariant }

func (f Func) Seed() ir.Object {
	seed := ir.NewObject(ir.O("op", ir.Str("func:"+f.Kind)))
	if f.Params != nil {
		seed["params"] = f.Params
	}
	return seed
}

func (f Func) Compute(in Inputs) ([]resource.Delta, error) {
	return f.Fn(in)
}

// Fail always declines with Message. It is useful for exercising failure
// propagation in scenarios and tests.
type Fail struct {
	Name    string
	Reads   []resource.ID
	Writes  []Write
	Message string
}

func (f Fail) ID() string               { return f.Name }
func (f Fail) Upstreams() []resource.ID { return f.Reads }
func (f Fail) Downstreams() []Write     { return f.Writes }
func (f Fail) TimeInvariant() bool      { return true }

func (f Fail) Seed() ir.Object {
	return ir.NewObject(ir.O("op", ir.Str("fail")), ir.O("message", ir.Str(f.Message)))
}

func (f Fail) Compute(Inputs) ([]resource.Delta, error) {
	return nil, fmt.Errorf("%s", f.Message)
}

// Sum adds amount to v. Supported: int+int, float+float, float+int,
// linear+float (shifts the value), linear+linear (adds value and rate).
func Sum(v, amount resource.Value) (resource.Value, error) {
	switch cur := v.(type) {
	case resource.Int:
		if a, ok := amount.(resource.Int); ok {
			return cur + a, nil
		}
	case resource.Float:
		switch a := amount.(type) {
		case resource.Float:
			return cur + a, nil
		case resource.Int:
			return cur + resource.Float(a), nil
		}
	case resource.Linear:
		switch a := amount.(type) {
		case resource.Float:
			return resource.Linear{Value: cur.Value + float64(a), Rate: cur.Rate}, nil
		case resource.Linear:
			return resource.Linear{Value: cur.Value + a.Value, Rate: cur.Rate + a.Rate}, nil
		}
	}
	return nil, fmt.Errorf("cannot add %s to %s", amount.TypeTag(), v.TypeTag())
}
