package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/kestrel/internal/ir"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/resource"
)

// fingerprint identifies f's computation over the values it read.
//
// Fields: seed digest, scheduled time (omitted for time-invariant
// operations), written resources, then every upstream in resource order
// with the version it resolved to and, for evolving values, how far the
// value had evolved.
func (r *Run) fingerprint(f *future) (ir.Digest, error) {
	seed, err := ir.SeedDigest(f.op.Seed())
	if err != nil {
		return ir.Digest{}, fmt.Errorf("seed of %s: %w", f.op.ID(), err)
	}
	h := ir.NewHasher(ir.DomainFingerprint).Digest(seed)
	if operation.IsTimeInvariant(f.op) {
		h.String("invariant")
	} else {
		h.String("at").Uint64(uint64(f.key.Time))
	}

	downs := make([]resource.ID, len(f.downs))
	for i, w := range f.downs {
		downs[i] = w.Resource
	}
	slices.SortFunc(downs, resource.ID.Compare)
	h.Uint64(uint64(len(downs)))
	for _, id := range downs {
		h.String(id.Type).String(id.Name)
	}

	h.Uint64(uint64(len(f.ups)))
	for i, id := range f.ups {
		rd := f.readings[i]
		h.String(id.Type).String(id.Name).Digest(rd.version)
		if rd.evolving {
			h.Uint64(uint64(rd.elapsed))
		}
	}
	return h.Sum(), nil
}

// writeVersion is the version of the value fp wrote to id. Versions chain
// through fingerprints, so a value's version changes exactly when anything
// that produced it changes.
func writeVersion(fp ir.Digest, id resource.ID) ir.Digest {
	return ir.NewHasher(ir.DomainVersion).Digest(fp).String(id.Type).String(id.Name).Sum()
}

// initialVersion is the version of an initial condition.
func initialVersion(id resource.ID, v resource.Value) (ir.Digest, error) {
	vh, err := resource.Hash(v)
	if err != nil {
		return ir.Digest{}, err
	}
	return ir.NewHasher(ir.DomainInitial).String(id.Type).String(id.Name).Digest(vh).Sum(), nil
}
