// Package operation defines the capability set every simulated operation
// provides, the two structural variants (direct operations at a fixed time
// and reactive daemons), and a small library of builtin operations.
//
// An operation declares what it reads and writes up front. The engine uses
// the declarations to order reads after writes, to detect write conflicts,
// and to fingerprint computations for the history cache.
package operation

import (
	"fmt"
	"slices"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/ir"
	"github.com/roach88/kestrel/internal/resource"
)

// WriteMode says how a write combines with other writes at the same instant.
type WriteMode uint8

const (
	// Ordered writes at the same instant apply in key order.
	Ordered WriteMode = iota
	// Exclusive writes claim the resource for the whole instant; any other
	// write of the same resource at that instant is a conflict.
	Exclusive
)

func (m WriteMode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "ordered"
}

// Write declares a downstream resource.
type Write struct {
	Resource resource.ID
	Mode     WriteMode
}

// Operation is a unit of computation over resolved upstream values.
//
// Compute must be deterministic: the same Inputs always produce the same
// deltas or the same error. It must not block on I/O. A cache hit replays
// the stored deltas instead of calling Compute, so any dependency on state
// outside Inputs and Seed is a bug.
type Operation interface {
	// ID is the stable identifier used as the final tie-break.
	ID() string
	// Upstreams lists the resources Compute reads.
	Upstreams() []resource.ID
	// Downstreams lists the resources Compute may write.
	Downstreams() []Write
	// Seed captures the operation's logic and construction-time state.
	// It must include a kind tag distinguishing different computations.
	Seed() ir.Object
	// Compute produces deltas for a subset of Downstreams. Omitting a
	// declared downstream leaves that resource unchanged.
	Compute(in Inputs) ([]resource.Delta, error)
}

// TimeInvariant is implemented by operations whose result does not depend
// on Inputs.Time. Their fingerprints omit the time, so the same computation
// moved to another instant is still a cache hit.
type TimeInvariant interface {
	TimeInvariant() bool
}

// IsTimeInvariant reports whether op declares itself time-invariant.
func IsTimeInvariant(op Operation) bool {
	ti, ok := op.(TimeInvariant)
	return ok && ti.TimeInvariant()
}

// Inputs are the resolved upstream values an operation computes over.
type Inputs struct {
	Time   epoch.Epoch
	values map[resource.ID]resource.Value
}

// NewInputs builds Inputs. The engine calls this; tests may too.
func NewInputs(t epoch.Epoch, values map[resource.ID]resource.Value) Inputs {
	return Inputs{Time: t, values: values}
}

// Get returns the value of a declared upstream.
func (in Inputs) Get(id resource.ID) (resource.Value, error) {
	v, ok := in.values[id]
	if !ok {
		return nil, fmt.Errorf("resource %s was not declared as an upstream", id)
	}
	return v, nil
}

// Float returns a numeric upstream as float64.
func (in Inputs) Float(id resource.ID) (float64, error) {
	v, err := in.Get(id)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case resource.Int:
		return float64(n), nil
	case resource.Float:
		return float64(n), nil
	case resource.Linear:
		return n.Value, nil
	}
	return 0, fmt.Errorf("resource %s is not numeric", id)
}

// Len returns the number of resolved upstreams.
func (in Inputs) Len() int { return len(in.values) }

// Validate checks an operation's declarations: non-empty ID, no duplicate
// reads or writes.
func Validate(op Operation) error {
	if op.ID() == "" {
		return fmt.Errorf("operation has empty id")
	}
	ups := op.Upstreams()
	for i, id := range ups {
		if slices.Contains(ups[:i], id) {
			return fmt.Errorf("operation %s: upstream %s declared twice", op.ID(), id)
		}
	}
	downs := op.Downstreams()
	for i, w := range downs {
		for _, prev := range downs[:i] {
			if prev.Resource == w.Resource {
				return fmt.Errorf("operation %s: downstream %s declared twice", op.ID(), w.Resource)
			}
		}
	}
	return nil
}

// CheckDeltas verifies that deltas only touch declared downstreams, at most
// once each, with values of the right type.
func CheckDeltas(op Operation, deltas []resource.Delta) error {
	downs := op.Downstreams()
	seen := make(map[resource.ID]bool, len(deltas))
	for _, d := range deltas {
		if !slices.ContainsFunc(downs, func(w Write) bool { return w.Resource == d.Resource }) {
			return fmt.Errorf("wrote undeclared resource %s", d.Resource)
		}
		if seen[d.Resource] {
			return fmt.Errorf("wrote resource %s twice", d.Resource)
		}
		seen[d.Resource] = true
		if err := resource.Check(d.Resource, d.Value); err != nil {
			return err
		}
	}
	return nil
}
