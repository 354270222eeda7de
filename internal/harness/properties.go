package harness

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"slices"

	"github.com/roach88/kestrel/internal/compiler"
	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/plan"
	"github.com/roach88/kestrel/internal/store"
	"github.com/roach88/kestrel/internal/testutil"
)

// PropertyViolation is returned when a plan breaks an engine guarantee.
type PropertyViolation struct {
	Property string
	Detail   string
}

// Error implements the error interface.
func (e *PropertyViolation) Error() string {
	return fmt.Sprintf("property %q violated: %s", e.Property, e.Detail)
}

// CheckDeterminism simulates doc on a fresh session per worker count and
// compares every run with the first. With no worker counts it compares a
// single worker against GOMAXPROCS workers.
func CheckDeterminism(ctx context.Context, doc *compiler.Document, workers ...int) error {
	if len(workers) == 0 {
		workers = []int{1, max(2, runtime.GOMAXPROCS(0))}
	}

	var base *engine.Result
	for _, w := range workers {
		s := testutil.Session(testutil.NewSequentialRunIDs("determinism"),
			plan.WithEngineOptions(engine.WithWorkers(w)))
		res, err := simulateDocument(ctx, s, doc)
		if err != nil {
			return err
		}
		if base == nil {
			base = res
			continue
		}
		if diff := diffOutput(base, res); diff != "" {
			return &PropertyViolation{
				Property: "determinism",
				Detail:   fmt.Sprintf("%d workers vs %d workers: %s", workers[0], w, diff),
			}
		}
	}
	return nil
}

// CheckCacheEquivalence simulates doc three times: cold, warm on the same
// session, and on a new session whose history was saved to and loaded
// from a store. The warm runs must match the cold run and compute nothing.
func CheckCacheEquivalence(ctx context.Context, doc *compiler.Document) error {
	s := testutil.Session(testutil.NewSequentialRunIDs("cache"))
	cold, err := simulateDocument(ctx, s, doc)
	if err != nil {
		return err
	}
	warm, err := simulateDocument(ctx, s, doc)
	if err != nil {
		return err
	}
	if err := checkWarm("warm", cold, warm); err != nil {
		return err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	if _, err := st.SaveHistory(ctx, s.History()); err != nil {
		return err
	}
	restored := testutil.Session(testutil.NewSequentialRunIDs("restored"))
	if _, err := st.LoadHistory(ctx, restored.History()); err != nil {
		return err
	}
	loaded, err := simulateDocument(ctx, restored, doc)
	if err != nil {
		return err
	}
	return checkWarm("restored", cold, loaded)
}

func checkWarm(name string, cold, warm *engine.Result) error {
	if diff := diffOutput(cold, warm); diff != "" {
		return &PropertyViolation{
			Property: "cache equivalence",
			Detail:   fmt.Sprintf("cold vs %s: %s", name, diff),
		}
	}
	if warm.Stats.Computed != 0 {
		return &PropertyViolation{
			Property: "cache equivalence",
			Detail:   fmt.Sprintf("%s run recomputed %d operations", name, warm.Stats.Computed),
		}
	}
	return nil
}

// simulateDocument builds doc on s and runs its window. Operation
// failures are part of the output, not errors.
func simulateDocument(ctx context.Context, s *plan.Session, doc *compiler.Document) (*engine.Result, error) {
	c, err := compiler.Build(s, doc)
	if err != nil {
		return nil, err
	}
	res, err := c.Plan.Simulate(ctx, c.From, c.To)
	if res == nil {
		return nil, err
	}
	return res, nil
}

// diffOutput describes the first difference between two results, or
// returns "" if they wrote the same values and failed the same way.
func diffOutput(a, b *engine.Result) string {
	if a.Status != b.Status {
		return fmt.Sprintf("status %s vs %s", a.Status, b.Status)
	}
	ta, tb := renderTimelines(a.Timelines), renderTimelines(b.Timelines)
	for _, name := range slices.Sorted(maps.Keys(ta)) {
		if !slices.Equal(ta[name], tb[name]) {
			return fmt.Sprintf("%s wrote %v vs %v", name, ta[name], tb[name])
		}
	}
	for name := range tb {
		if _, ok := ta[name]; !ok {
			return fmt.Sprintf("%s written only by the second run", name)
		}
	}
	if len(a.Failures) != len(b.Failures) {
		return fmt.Sprintf("%d failures vs %d", len(a.Failures), len(b.Failures))
	}
	for i := range a.Failures {
		fa, fb := a.Failures[i], b.Failures[i]
		if fa.Key != fb.Key || fa.Err.Error() != fb.Err.Error() {
			return fmt.Sprintf("failure %d: %s (%v) vs %s (%v)", i, fa.Key, fa.Err, fb.Key, fb.Err)
		}
	}
	return ""
}
