package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialRunIDs generates "<prefix>-1", "<prefix>-2", ... as run IDs.
//
// Unlike engine.FixedGenerator, which panics once its list is used up,
// this generator never runs out, so a scenario can start as many runs as
// it has edits. The same prefix always yields the same sequence, which
// keeps golden snapshots byte-identical.
//
// Implements engine.RunIDGenerator. Safe for concurrent use.
type SequentialRunIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialRunIDs creates a generator. An empty prefix becomes "run".
func NewSequentialRunIDs(prefix string) *SequentialRunIDs {
	if prefix == "" {
		prefix = "run"
	}
	return &SequentialRunIDs{prefix: prefix}
}

// Generate returns the next run ID.
func (g *SequentialRunIDs) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
