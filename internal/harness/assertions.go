package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/kestrel/internal/resource"
)

// AssertionContext provides what assertions need beyond the snapshots.
type AssertionContext struct {
	Ctx context.Context

	// Resources maps declared resource names to their IDs.
	Resources map[string]resource.ID
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Run      int          // Run the assertion applied to
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Snapshot *RunSnapshot // Run for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s (run %d)\n", e.Type, e.Run)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Snapshot != nil {
		fmt.Fprintf(&buf, "\nRun %s (%s):\n", e.Snapshot.RunID, e.Snapshot.Status)
		names := make([]string, 0, len(e.Snapshot.Resources))
		for name := range e.Snapshot.Resources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&buf, "  %s %v\n", name, e.Snapshot.Resources[name])
		}
		for _, f := range e.Snapshot.Failures {
			fmt.Fprintf(&buf, "  failed %s: %s\n", f.Key, f.Message)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	if a.Run < 0 || a.Run >= len(result.Runs) {
		return fmt.Errorf("%s assertion: run %d does not exist (%d runs)", a.Type, a.Run, len(result.Runs))
	}
	run := &result.Runs[a.Run]

	switch a.Type {
	case AssertStatus:
		return assertStatus(run, a)
	case AssertPoints:
		return assertPoints(run, a, actx)
	case AssertPointCount:
		return assertPointCount(run, a, actx)
	case AssertValueAt:
		return assertValueAt(run, a, actx)
	case AssertFailure:
		return assertFailure(run, a)
	case AssertReuse:
		return assertReuse(run, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertStatus checks how the run ended.
func assertStatus(run *RunSnapshot, a Assertion) error {
	if run.Status == a.Status {
		return nil
	}
	actual := run.Status
	if run.Error != "" {
		actual += ": " + run.Error
	}
	return &AssertionError{
		Type:     AssertStatus,
		Run:      a.Run,
		Expected: a.Status,
		Actual:   actual,
		Snapshot: run,
	}
}

// assertPoints checks the values written to a resource, in time order,
// and their times when the assertion gives them.
func assertPoints(run *RunSnapshot, a Assertion, actx *AssertionContext) error {
	id, err := lookup(actx, a.Resource)
	if err != nil {
		return err
	}
	want := make([]resource.Value, len(a.Values))
	for i, raw := range a.Values {
		if want[i], err = resource.FromAny(id.Type, raw); err != nil {
			return fmt.Errorf("points assertion: values[%d]: %w", i, err)
		}
	}
	got := run.points[id]

	mismatch := len(got) != len(want)
	for i := 0; !mismatch && i < len(want); i++ {
		mismatch = !got[i].Value.Equal(want[i]) ||
			(len(a.Times) > 0 && got[i].Time != a.Times[i].Epoch())
	}
	if !mismatch {
		return nil
	}

	expected := make([]string, len(want))
	for i, v := range want {
		expected[i] = v.String()
		if len(a.Times) > 0 {
			expected[i] = a.Times[i].Epoch().String() + "=" + expected[i]
		}
	}
	actual := make([]string, len(got))
	for i, p := range got {
		actual[i] = p.Value.String()
		if len(a.Times) > 0 {
			actual[i] = p.Time.String() + "=" + actual[i]
		}
	}
	return &AssertionError{
		Type:     AssertPoints,
		Run:      a.Run,
		Expected: fmt.Sprintf("%s = %v", a.Resource, expected),
		Actual:   fmt.Sprintf("%s = %v", a.Resource, actual),
		Snapshot: run,
	}
}

// assertPointCount checks how many values were written to a resource.
func assertPointCount(run *RunSnapshot, a Assertion, actx *AssertionContext) error {
	id, err := lookup(actx, a.Resource)
	if err != nil {
		return err
	}
	if n := len(run.points[id]); n != *a.Count {
		return &AssertionError{
			Type:     AssertPointCount,
			Run:      a.Run,
			Expected: fmt.Sprintf("%d writes to %s", *a.Count, a.Resource),
			Actual:   fmt.Sprintf("%d writes", n),
			Snapshot: run,
		}
	}
	return nil
}

// assertValueAt samples a resource from the finished run.
func assertValueAt(run *RunSnapshot, a Assertion, actx *AssertionContext) error {
	id, err := lookup(actx, a.Resource)
	if err != nil {
		return err
	}
	want, err := resource.FromAny(id.Type, a.Value)
	if err != nil {
		return fmt.Errorf("value_at assertion: %w", err)
	}
	at := a.At.Epoch()
	if run.run == nil {
		return &AssertionError{
			Type:     AssertValueAt,
			Run:      a.Run,
			Expected: fmt.Sprintf("%s = %s at %s", a.Resource, want, at),
			Actual:   "run was rejected",
			Snapshot: run,
		}
	}
	got, err := run.run.Sample(actx.Ctx, id, at)
	if err != nil {
		return &AssertionError{
			Type:     AssertValueAt,
			Run:      a.Run,
			Expected: fmt.Sprintf("%s = %s at %s", a.Resource, want, at),
			Actual:   fmt.Sprintf("sample error: %v", err),
			Snapshot: run,
		}
	}
	if !got.Equal(want) {
		return &AssertionError{
			Type:     AssertValueAt,
			Run:      a.Run,
			Expected: fmt.Sprintf("%s = %s at %s", a.Resource, want, at),
			Actual:   fmt.Sprintf("%s = %s", a.Resource, got),
			Snapshot: run,
		}
	}
	return nil
}

// assertFailure checks that an operation failed, with a message containing
// the given substring.
func assertFailure(run *RunSnapshot, a Assertion) error {
	for _, f := range run.Failures {
		if f.Op == a.Op && strings.Contains(f.Message, a.Message) {
			return nil
		}
	}
	expected := "operation " + a.Op + " failed"
	if a.Message != "" {
		expected += fmt.Sprintf(" with %q", a.Message)
	}
	return &AssertionError{
		Type:     AssertFailure,
		Run:      a.Run,
		Expected: expected,
		Actual:   fmt.Sprintf("%d failures, none matching", len(run.Failures)),
		Snapshot: run,
	}
}

// assertReuse checks the run's cache statistics.
func assertReuse(run *RunSnapshot, a Assertion) error {
	if a.Hits != nil && run.Stats.Hits != *a.Hits {
		return &AssertionError{
			Type:     AssertReuse,
			Run:      a.Run,
			Expected: fmt.Sprintf("%d history hits", *a.Hits),
			Actual:   fmt.Sprintf("%d hits, %d computed", run.Stats.Hits, run.Stats.Computed),
			Snapshot: run,
		}
	}
	if a.Computed != nil && run.Stats.Computed != *a.Computed {
		return &AssertionError{
			Type:     AssertReuse,
			Run:      a.Run,
			Expected: fmt.Sprintf("%d operations computed", *a.Computed),
			Actual:   fmt.Sprintf("%d hits, %d computed", run.Stats.Hits, run.Stats.Computed),
			Snapshot: run,
		}
	}
	return nil
}

func lookup(actx *AssertionContext, name string) (resource.ID, error) {
	id, ok := actx.Resources[name]
	if !ok {
		return resource.ID{}, fmt.Errorf("resource %q is not declared in the plan", name)
	}
	return id, nil
}
