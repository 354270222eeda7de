package engine

import (
	"fmt"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/resource"
	"github.com/roach88/kestrel/internal/timeline"
)

// Status is the outcome of a run.
type Status int

const (
	// StatusComplete means every operation in the window settled without
	// error.
	StatusComplete Status = iota + 1
	// StatusFailed means at least one operation failed, or the run aborted.
	StatusFailed
	// StatusCancelled means the run was stopped before settling.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Stats counts what a run did.
type Stats struct {
	Operations int `json:"operations"`
	Hits       int `json:"hits"`
	Misses     int `json:"misses"`
	Computed   int `json:"computed"`
	Failed     int `json:"failed"`
	Fired      int `json:"daemons_fired"`
}

// Result is the end-of-run snapshot. Timelines holds every value written
// inside [From, To], also when the run failed or was cancelled. From is the
// request's Since when one was given.
type Result struct {
	RunID     string
	Status    Status
	From, To  epoch.Epoch
	Timeline  *timeline.Timeline
	Timelines map[resource.ID][]resource.Point
	// Failures lists failed operations in key order.
	Failures []Failure
	// Fatal is set when the run aborted.
	Fatal error
	Stats Stats
}

// Err returns nil for a complete run and a descriptive error otherwise.
func (r *Result) Err() error {
	switch {
	case r.Status == StatusComplete:
		return nil
	case r.Fatal != nil:
		return r.Fatal
	case r.Status == StatusCancelled:
		return fmt.Errorf("run %s: %w", r.RunID, ErrCancelled)
	case len(r.Failures) > 0:
		f := r.Failures[0]
		return fmt.Errorf("run %s: %d operations failed, first %s at %s: %w",
			r.RunID, len(r.Failures), f.Op, f.Key.Time, f.Err)
	}
	return fmt.Errorf("run %s: %s", r.RunID, r.Status)
}

// Points returns the values written to id.
func (r *Result) Points(id resource.ID) []resource.Point {
	return r.Timelines[id]
}
