package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/kestrel/internal/compiler"
	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/plan"
	"github.com/roach88/kestrel/internal/resource"
	"github.com/roach88/kestrel/internal/store"
	"github.com/roach88/kestrel/internal/testutil"
)

// Harness is the scenario execution engine. All runs of a scenario share
// one session, so the run after an edit is served from the history of the
// runs before it.
type Harness struct {
	store    *store.Store
	session  *plan.Session
	compiled *compiler.Compiled
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh session and a fresh in-memory database
// for isolation. Execution flow:
//  1. Load and build the plan document
//  2. Simulate the plan as written
//  3. Apply each edit and simulate again
//  4. Record every run in the store and snapshot it from there
//  5. Evaluate assertions
//
// A returned error means the scenario could not be executed; assertion
// failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	doc := scenario.Document
	if doc == nil {
		var err error
		if doc, err = compiler.Load(scenario.Plan); err != nil {
			return nil, fmt.Errorf("failed to load plan: %w", err)
		}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	// Suppress logs in tests
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engineOpts := []engine.Option{engine.WithRunIDGenerator(testutil.NewSequentialRunIDs(scenario.Name))}
	if scenario.Workers > 0 {
		engineOpts = append(engineOpts, engine.WithWorkers(scenario.Workers))
	}
	session := plan.NewSession(plan.WithLogger(logger), plan.WithEngineOptions(engineOpts...))

	compiled, err := compiler.Build(session, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build plan: %w", err)
	}

	h := &Harness{
		store:    st,
		session:  session,
		compiled: compiled,
		logger:   logger,
	}

	result := NewResult()
	snap, err := h.simulate(ctx)
	if err != nil {
		return nil, fmt.Errorf("run 0: %w", err)
	}
	result.Runs = append(result.Runs, snap)

	for i, edit := range scenario.Edits {
		if err := h.apply(edit); err != nil {
			return nil, fmt.Errorf("failed to apply edit %d: %w", i, err)
		}
		snap, err := h.simulate(ctx)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		result.Runs = append(result.Runs, snap)
	}

	actx := &AssertionContext{
		Ctx:       ctx,
		Resources: compiled.Resources,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// apply removes, then inserts, the edit's activities.
func (h *Harness) apply(edit Edit) error {
	if len(edit.Remove) > 0 {
		if err := h.compiled.Remove(edit.Remove...); err != nil {
			return err
		}
	}
	for i, a := range edit.Insert {
		if _, err := h.compiled.Insert(a); err != nil {
			return fmt.Errorf("insert[%d]: %w", i, err)
		}
	}
	return nil
}

// simulate runs the compiled plan over its window, records the result and
// snapshots the stored record. A run the engine refuses to start is
// snapshotted as rejected rather than returned as an error.
func (h *Harness) simulate(ctx context.Context) (RunSnapshot, error) {
	c := h.compiled
	run, err := c.Plan.Run(ctx, c.From, c.To)
	if err != nil {
		h.logger.Info("run rejected", "from", c.From, "to", c.To, "error", err)
		return RunSnapshot{
			Status:    StatusRejected,
			From:      c.From.String(),
			To:        c.To.String(),
			Resources: map[string][]string{},
			Error:     err.Error(),
		}, nil
	}

	res, err := run.Wait(ctx)
	if err != nil {
		return RunSnapshot{}, err
	}
	if err := h.store.WriteRun(ctx, res); err != nil {
		return RunSnapshot{}, err
	}
	rec, err := h.store.ReadRun(ctx, res.RunID)
	if err != nil {
		return RunSnapshot{}, err
	}

	snap := RunSnapshot{
		RunID:     rec.ID,
		Status:    rec.Status,
		From:      rec.From.String(),
		To:        rec.To.String(),
		Resources: renderTimelines(res.Timelines),
		Error:     rec.Fatal,
		Stats:     rec.Stats,
		points:    res.Timelines,
		run:       run,
	}
	for _, f := range rec.Failures {
		snap.Failures = append(snap.Failures, FailureSnapshot{Key: f.Key, Op: f.Op, Message: f.Message})
	}

	h.logger.Info("run recorded",
		"run_id", rec.ID,
		"status", rec.Status,
		"operations", rec.Stats.Operations,
		"hits", rec.Stats.Hits,
		"computed", rec.Stats.Computed)
	return snap, nil
}

// renderTimelines renders each resource's writes as "<time>=<value>",
// keyed by resource name.
func renderTimelines(timelines map[resource.ID][]resource.Point) map[string][]string {
	out := make(map[string][]string, len(timelines))
	for id, pts := range timelines {
		out[id.Name] = renderPoints(pts)
	}
	return out
}

func renderPoints(pts []resource.Point) []string {
	out := make([]string, len(pts))
	for i, p := range pts {
		out[i] = p.Time.String() + "=" + p.Value.String()
	}
	return out
}
