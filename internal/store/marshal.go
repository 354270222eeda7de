package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/ir"
)

// marshalStats converts run stats to canonical JSON TEXT for storage.
func marshalStats(st engine.Stats) (string, error) {
	obj := ir.NewObject(
		ir.O("computed", ir.Int(st.Computed)),
		ir.O("daemons_fired", ir.Int(st.Fired)),
		ir.O("failed", ir.Int(st.Failed)),
		ir.O("hits", ir.Int(st.Hits)),
		ir.O("misses", ir.Int(st.Misses)),
		ir.O("operations", ir.Int(st.Operations)),
	)
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	return string(data), nil
}

// unmarshalStats parses stats written by marshalStats.
func unmarshalStats(s string) (engine.Stats, error) {
	var st engine.Stats
	if err := json.Unmarshal([]byte(s), &st); err != nil {
		return st, fmt.Errorf("unmarshal stats: %w", err)
	}
	return st, nil
}
