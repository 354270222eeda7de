package harness

import (
	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/resource"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success: every run was recorded and
	// every assertion held.
	Pass bool `json:"pass"`

	// Runs holds one snapshot per run, in run order.
	Runs []RunSnapshot `json:"runs"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// RunSnapshot is one run as recorded in the store, plus the values it
// wrote.
type RunSnapshot struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	From   string `json:"from"`
	To     string `json:"to"`

	// Resources maps a resource name to its writes rendered as
	// "<time>=<value>".
	Resources map[string][]string `json:"resources"`

	Failures []FailureSnapshot `json:"failures,omitempty"`

	// Error is the reason a rejected run never started.
	Error string `json:"error,omitempty"`

	Stats engine.Stats `json:"stats"`

	points map[resource.ID][]resource.Point
	run    *engine.Run
}

// FailureSnapshot is one failed operation.
type FailureSnapshot struct {
	Key     string `json:"key"`
	Op      string `json:"op"`
	Message string `json:"message"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []RunSnapshot{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
