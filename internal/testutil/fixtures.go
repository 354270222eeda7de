package testutil

import (
	"io"
	"log/slog"

	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/plan"
	"github.com/roach88/kestrel/internal/resource"
)

// Counter is the resource CountChain increments.
var Counter = resource.New(resource.TagInt, "count")

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Session returns a quiet session with four workers and run IDs from ids.
// Extra options are applied after the defaults.
func Session(ids engine.RunIDGenerator, opts ...plan.SessionOption) *plan.Session {
	base := []plan.SessionOption{
		plan.WithLogger(Logger()),
		plan.WithEngineOptions(
			engine.WithWorkers(4),
			engine.WithRunIDGenerator(ids),
		),
	}
	return plan.NewSession(append(base, opts...)...)
}

// CountChain places n activities, one per clock tick, each adding 1 to
// Counter. Every addition reads the previous one, so editing activity i
// invalidates exactly the activities after it.
func CountChain(clock *DeterministicClock, n int) []plan.Placed {
	placed := make([]plan.Placed, n)
	for i := range placed {
		placed[i] = plan.Placed{
			At:       clock.Next(),
			Activity: plan.Single(operation.Add{Name: "increment", Target: Counter, Amount: resource.Int(1)}),
		}
	}
	return placed
}

// Ints renders int points as "<time>=<value>" for compact assertions.
func Ints(pts []resource.Point) []string {
	out := make([]string, len(pts))
	for i, p := range pts {
		out[i] = p.Time.String() + "=" + p.Value.String()
	}
	return out
}
