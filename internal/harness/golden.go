package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kestrel/internal/ir"
)

// Snapshot captures the output of a scenario for golden comparison. It is
// serialized canonically, so equal snapshots are byte-identical.
type Snapshot struct {
	ScenarioName string
	Runs         []RunSnapshot
}

// canonical converts the snapshot to an IR object. Only output that does
// not depend on scheduling is kept: statuses, windows, written values,
// failed keys, and operation, failure and daemon counts. Failure messages
// and cache statistics are checked by assertions instead.
func (s *Snapshot) canonical() ir.Object {
	runs := make(ir.List, len(s.Runs))
	for i, r := range s.Runs {
		resources := ir.Object{}
		for name, pts := range r.Resources {
			list := make(ir.List, len(pts))
			for j, p := range pts {
				list[j] = ir.Str(p)
			}
			resources[name] = list
		}

		failures := make(ir.List, len(r.Failures))
		for j, f := range r.Failures {
			failures[j] = ir.NewObject(ir.O("key", ir.Str(f.Key)), ir.O("op", ir.Str(f.Op)))
		}

		runs[i] = ir.NewObject(
			ir.O("run_id", ir.Str(r.RunID)),
			ir.O("status", ir.Str(r.Status)),
			ir.O("from", ir.Str(r.From)),
			ir.O("to", ir.Str(r.To)),
			ir.O("resources", resources),
			ir.O("failures", failures),
			ir.O("operations", ir.Int(r.Stats.Operations)),
			ir.O("failed", ir.Int(r.Stats.Failed)),
			ir.O("daemons_fired", ir.Int(r.Stats.Fired)),
		)
	}
	return ir.NewObject(
		ir.O("scenario", ir.Str(s.ScenarioName)),
		ir.O("runs", runs),
	)
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// MarshalSnapshot returns the canonical golden bytes for a result.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := Snapshot{
		ScenarioName: scenarioName,
		Runs:         result.Runs,
	}
	return ir.MarshalCanonical(snapshot.canonical())
}
