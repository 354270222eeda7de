package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kestrel/internal/epoch"
)

func TestLoadScenario_ResolvesPlanPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: s
description: "relative plan"
plan: plans/p.yaml
assertions: [{type: status, status: complete}]
`), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "plans", "p.yaml"), s.Plan)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_InlineDocument(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: inline
description: "inline document"
workers: 3
document:
  resources: {R: int/1}
  activities: [{at: 2.5, steps: [{kind: set, target: R, value: 1}]}]
edits:
  - insert: [{at: 4, steps: [{kind: set, target: R, value: 2}]}]
assertions:
  - {type: points, run: 1, resource: R, values: [1, 2], times: [2.5, 4]}
  - {type: value_at, resource: R, at: "J2000+3s", value: 1}
`))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Workers)
	require.NotNil(t, s.Document)
	assert.Equal(t, epoch.FromSeconds(2.5), s.Document.Activities[0].At.Epoch())
	require.Len(t, s.Edits, 1)
	assert.Len(t, s.Edits[0].Insert, 1)
	assert.Equal(t, epoch.FromSeconds(4), s.Assertions[0].Times[1].Epoch())
	assert.Equal(t, epoch.FromSeconds(3), s.Assertions[1].At.Epoch())
}

func TestParseScenario_Invalid(t *testing.T) {
	const head = "name: x\ndescription: d\ndocument: {resources: {}, activities: []}\n"

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", head + "assertion: []\n", "failed to parse YAML"},
		{"no name", "description: d\nplan: p\nassertions: [{type: status, status: failed}]\n", "name is required"},
		{"no description", "name: x\nplan: p\nassertions: [{type: status, status: failed}]\n", "description is required"},
		{"no plan", "name: x\ndescription: d\nassertions: [{type: status, status: failed}]\n", "exactly one of plan or document"},
		{"plan and document", head + "plan: p\nassertions: [{type: status, status: failed}]\n", "exactly one of plan or document"},
		{"negative workers", head + "workers: -1\nassertions: [{type: status, status: failed}]\n", "workers must not be negative"},
		{"empty edit", head + "edits: [{}]\nassertions: [{type: status, status: failed}]\n", "nothing to remove or insert"},
		{"no assertions", head, "assertions list is required"},
		{"missing type", head + "assertions: [{status: failed}]\n", "type is required"},
		{"unknown type", head + "assertions: [{type: trace_order}]\n", "unknown assertion type"},
		{"bad status", head + "assertions: [{type: status, status: done}]\n", "status must be one of"},
		{"run out of range", head + "assertions: [{type: status, run: 1, status: failed}]\n", "run 1 out of range"},
		{"points without resource", head + "assertions: [{type: points, values: [1]}]\n", "requires 'resource'"},
		{"times mismatch", head + "assertions: [{type: points, resource: R, values: [1], times: [1, 2]}]\n", "2 times for 1 values"},
		{"count missing", head + "assertions: [{type: point_count, resource: R}]\n", "non-negative 'count'"},
		{"value_at missing at", head + "assertions: [{type: value_at, resource: R, value: 1}]\n", "requires 'resource', 'at' and 'value'"},
		{"failure without op", head + "assertions: [{type: failure, message: boom}]\n", "requires 'op'"},
		{"empty reuse", head + "assertions: [{type: reuse}]\n", "'hits' or 'computed'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
