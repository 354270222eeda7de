package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kestrel/internal/compiler"
	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/resource"
)

var (
	level = resource.New(resource.TagInt, "level")
	mode  = resource.New(resource.TagString, "mode")
)

func testContext() *AssertionContext {
	return &AssertionContext{
		Ctx:       context.Background(),
		Resources: map[string]resource.ID{"level": level, "mode": mode},
	}
}

func snapshot() *RunSnapshot {
	return &RunSnapshot{
		RunID:  "r-1",
		Status: "failed",
		Resources: map[string][]string{
			"level": {"J2000+1s=15", "J2000+4s=12"},
		},
		Failures: []FailureSnapshot{
			{Key: "J2000+2s/0/act1/pump", Op: "pump", Message: "operation pump at J2000+2s: pump jammed"},
		},
		Stats: engine.Stats{Operations: 3, Hits: 1, Computed: 2, Failed: 1},
		points: map[resource.ID][]resource.Point{
			level: {
				{Time: epoch.FromSeconds(1), Value: resource.Int(15)},
				{Time: epoch.FromSeconds(4), Value: resource.Int(12)},
			},
		},
	}
}

func instants(secs ...float64) []compiler.Instant {
	out := make([]compiler.Instant, len(secs))
	for i, s := range secs {
		out[i] = compiler.Instant(epoch.FromSeconds(s))
	}
	return out
}

func ptr(n int) *int { return &n }

func TestAssertPoints(t *testing.T) {
	run := snapshot()
	actx := testContext()

	assert.NoError(t, assertPoints(run, Assertion{Resource: "level", Values: []any{15, 12}}, actx))
	assert.NoError(t, assertPoints(run, Assertion{Resource: "level", Values: []any{15, 12}, Times: instants(1, 4)}, actx))
	assert.NoError(t, assertPoints(run, Assertion{Resource: "mode"}, actx), "no writes expected, none made")

	err := assertPoints(run, Assertion{Resource: "level", Values: []any{15, 12}, Times: instants(1, 5)}, actx)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertPoints, ae.Type)
	assert.Equal(t, "level = [J2000+1s=15 J2000+5s=12]", ae.Expected)
	assert.Equal(t, "level = [J2000+1s=15 J2000+4s=12]", ae.Actual)

	require.ErrorAs(t, assertPoints(run, Assertion{Resource: "level", Values: []any{15}}, actx), &ae)
	assert.Equal(t, "level = [15 12]", ae.Actual)

	err = assertPoints(run, Assertion{Resource: "level", Values: []any{"high"}}, actx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "values[0]")
}

func TestAssertPointCount(t *testing.T) {
	run := snapshot()
	assert.NoError(t, assertPointCount(run, Assertion{Resource: "level", Count: ptr(2)}, testContext()))

	var ae *AssertionError
	require.ErrorAs(t, assertPointCount(run, Assertion{Resource: "level", Count: ptr(3)}, testContext()), &ae)
	assert.Equal(t, "2 writes", ae.Actual)
}

func TestAssertStatus(t *testing.T) {
	run := snapshot()
	assert.NoError(t, assertStatus(run, Assertion{Status: "failed"}))

	run.Status = StatusRejected
	run.Error = "CONFLICT: write conflict"
	var ae *AssertionError
	require.ErrorAs(t, assertStatus(run, Assertion{Status: "complete"}), &ae)
	assert.Equal(t, "rejected: CONFLICT: write conflict", ae.Actual)
}

func TestAssertFailure(t *testing.T) {
	run := snapshot()
	assert.NoError(t, assertFailure(run, Assertion{Op: "pump"}))
	assert.NoError(t, assertFailure(run, Assertion{Op: "pump", Message: "jammed"}))

	var ae *AssertionError
	require.ErrorAs(t, assertFailure(run, Assertion{Op: "pump", Message: "dry"}), &ae)
	assert.Equal(t, `operation pump failed with "dry"`, ae.Expected)
	require.ErrorAs(t, assertFailure(run, Assertion{Op: "valve"}), &ae)
	assert.Equal(t, "1 failures, none matching", ae.Actual)
}

func TestAssertReuse(t *testing.T) {
	run := snapshot()
	assert.NoError(t, assertReuse(run, Assertion{Hits: ptr(1)}))
	assert.NoError(t, assertReuse(run, Assertion{Hits: ptr(1), Computed: ptr(2)}))

	var ae *AssertionError
	require.ErrorAs(t, assertReuse(run, Assertion{Hits: ptr(3)}), &ae)
	assert.Equal(t, "3 history hits", ae.Expected)
	assert.Equal(t, "1 hits, 2 computed", ae.Actual)
	require.ErrorAs(t, assertReuse(run, Assertion{Computed: ptr(0)}), &ae)
	assert.Equal(t, "0 operations computed", ae.Expected)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertPoints,
		Run:      1,
		Expected: "level = [1]",
		Actual:   "level = [2]",
		Snapshot: snapshot(),
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: points (run 1)")
	assert.Contains(t, msg, "Expected: level = [1]")
	assert.Contains(t, msg, "Actual: level = [2]")
	assert.Contains(t, msg, "Run r-1 (failed):")
	assert.Contains(t, msg, "level [J2000+1s=15 J2000+4s=12]")
	assert.Contains(t, msg, "failed J2000+2s/0/act1/pump: operation pump at J2000+2s: pump jammed")
}

func TestEvaluateAssertions_RunOutOfRange(t *testing.T) {
	result := NewResult()
	result.Runs = append(result.Runs, *snapshot())

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertStatus, Status: "failed"},
		{Type: AssertStatus, Run: 2, Status: "failed"},
		{Type: "bogus"},
	}, testContext())
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 1: status assertion: run 2 does not exist (1 runs)")
	assert.Contains(t, errs[1], `assertion 2: unknown assertion type "bogus"`)
}
