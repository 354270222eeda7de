package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kestrel/internal/compiler"
	"github.com/roach88/kestrel/internal/engine"
)

// Scenario defines a simulation test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden
	// file and prefixes run IDs.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Plan is the path of a YAML or CUE plan document. LoadScenario
	// resolves it relative to the scenario file.
	Plan string `yaml:"plan,omitempty"`

	// Document is an inline plan, used when Plan is empty.
	Document *compiler.Document `yaml:"document,omitempty"`

	// Workers sets the engine's worker count. Zero uses the default.
	Workers int `yaml:"workers,omitempty"`

	// Edits are applied one at a time, each followed by another run.
	Edits []Edit `yaml:"edits,omitempty"`

	// Assertions validate the runs.
	Assertions []Assertion `yaml:"assertions"`
}

// Edit changes the plan between runs. Removals apply first.
type Edit struct {
	// Remove lists activity positions in insertion order. Inserted
	// activities continue the numbering.
	Remove []int `yaml:"remove,omitempty"`

	// Insert adds activities.
	Insert []compiler.ActivityDoc `yaml:"insert,omitempty"`
}

// Assertion validates one run of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Run selects the run: 0 is the plan as written, i is the run after
	// edit i.
	Run int `yaml:"run,omitempty"`

	// Resource names a declared resource (points, point_count, value_at).
	Resource string `yaml:"resource,omitempty"`

	// Values are the expected written values in time order (points).
	Values []any `yaml:"values,omitempty"`

	// Times are the expected write times, if given (points).
	Times []compiler.Instant `yaml:"times,omitempty"`

	// At is the sample instant (value_at).
	At *compiler.Instant `yaml:"at,omitempty"`

	// Value is the expected sampled value (value_at).
	Value any `yaml:"value,omitempty"`

	// Count is the expected number of writes (point_count).
	Count *int `yaml:"count,omitempty"`

	// Status is the expected run status (status).
	Status string `yaml:"status,omitempty"`

	// Op and Message select a failure by operation ID and message
	// substring (failure).
	Op      string `yaml:"op,omitempty"`
	Message string `yaml:"message,omitempty"`

	// Hits and Computed are expected cache statistics (reuse).
	Hits     *int `yaml:"hits,omitempty"`
	Computed *int `yaml:"computed,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus     = "status"
	AssertPoints     = "points"
	AssertPointCount = "point_count"
	AssertValueAt    = "value_at"
	AssertFailure    = "failure"
	AssertReuse      = "reuse"
)

// StatusRejected is the status of a run the engine refused to start, for
// example because of a write conflict.
const StatusRejected = "rejected"

var statuses = []string{
	engine.StatusComplete.String(),
	engine.StatusFailed.String(),
	engine.StatusCancelled.String(),
	StatusRejected,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Plan != "" && !filepath.IsAbs(scenario.Plan) {
		scenario.Plan = filepath.Join(filepath.Dir(path), scenario.Plan)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. A relative plan path is left as is.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so typos like "assertion:" fail loudly.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if (s.Plan == "") == (s.Document == nil) {
		return fmt.Errorf("exactly one of plan or document is required")
	}

	if s.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", s.Workers)
	}

	for i, e := range s.Edits {
		if len(e.Remove) == 0 && len(e.Insert) == 0 {
			return fmt.Errorf("edits[%d]: nothing to remove or insert", i)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, len(s.Edits)); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}

	return nil
}

// validateAssertion checks that an assertion carries the fields its type
// needs.
func validateAssertion(a Assertion, edits int) error {
	if a.Run < 0 || a.Run > edits {
		return fmt.Errorf("run %d out of range: scenario has runs 0..%d", a.Run, edits)
	}

	switch a.Type {
	case AssertStatus:
		if !slices.Contains(statuses, a.Status) {
			return fmt.Errorf("status assertion: status must be one of %v, got %q", statuses, a.Status)
		}
	case AssertPoints:
		if a.Resource == "" {
			return fmt.Errorf("points assertion requires 'resource' field")
		}
		if len(a.Times) > 0 && len(a.Times) != len(a.Values) {
			return fmt.Errorf("points assertion: %d times for %d values", len(a.Times), len(a.Values))
		}
	case AssertPointCount:
		if a.Resource == "" {
			return fmt.Errorf("point_count assertion requires 'resource' field")
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("point_count assertion requires a non-negative 'count' field")
		}
	case AssertValueAt:
		if a.Resource == "" || a.At == nil || a.Value == nil {
			return fmt.Errorf("value_at assertion requires 'resource', 'at' and 'value' fields")
		}
	case AssertFailure:
		if a.Op == "" {
			return fmt.Errorf("failure assertion requires 'op' field")
		}
	case AssertReuse:
		if a.Hits == nil && a.Computed == nil {
			return fmt.Errorf("reuse assertion requires 'hits' or 'computed' field")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
