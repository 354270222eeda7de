// Package harness runs YAML scenarios against the simulation engine and
// compares their output with golden snapshots.
//
// # Scenario Format
//
// A scenario names a plan document, optional edits, and assertions:
//
//	name: edit_reuse
//	description: "Edits after t=50 reuse everything before it"
//	plan: ../plans/count_chain.yaml   # relative to the scenario file
//	workers: 4
//	edits:
//	  - remove: [4]                   # activity positions, insertion order
//	    insert:
//	      - at: 60
//	        steps: [{kind: add, target: count, amount: 5}]
//	assertions:
//	  - {type: points, run: 1, resource: count, values: [1, 2, 3, 4, 9, 10]}
//	  - {type: reuse, run: 1, hits: 4, computed: 2}
//
// A plan may also be given inline under document. The plan is simulated
// once as written (run 0) and once more after each edit (run 1, 2, ...),
// all on one session so later runs reuse earlier history.
//
// # Assertion Types
//
//   - status: the run finished as complete, failed, cancelled or rejected
//   - points: the values (and optionally times) written to a resource
//   - point_count: how many values were written to a resource
//   - value_at: the sampled value of a resource at an instant
//   - failure: an operation failed, optionally with a message substring
//   - reuse: how many operations were served from history or computed
//
// # Deterministic Output
//
// Run IDs come from testutil.SequentialRunIDs keyed by scenario name, and
// every run is recorded in an in-memory SQLite store and read back, so a
// snapshot reflects what was persisted. Cache statistics other than the
// operation count, failures and daemon firings are left out of golden
// snapshots; they depend on what earlier runs left in the history.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/tie_break.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
