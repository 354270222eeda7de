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

func loadPlan(t *testing.T, name string) *compiler.Document {
	t.Helper()
	doc, err := compiler.Load("../../testdata/plans/" + name)
	require.NoError(t, err)
	return doc
}

func TestCheckDeterminism(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"tank.cue", "rover.yaml", "count_chain.yaml"} {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, CheckDeterminism(ctx, loadPlan(t, name)))
			assert.NoError(t, CheckDeterminism(ctx, loadPlan(t, name), 1, 3, 8))
		})
	}
}

func TestCheckCacheEquivalence(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"tank.cue", "rover.yaml", "count_chain.yaml"} {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, CheckCacheEquivalence(ctx, loadPlan(t, name)))
		})
	}

	t.Run("failures replay from history", func(t *testing.T) {
		doc, err := compiler.ParseYAML([]byte(`
resources: {n: int/1, m: int/1}
activities:
  - {at: 1, steps: [{kind: fail, name: valve, writes: [n], message: stuck}]}
  - {at: 2, steps: [{kind: copy, name: mirror, from: n, to: m}]}
`))
		require.NoError(t, err)
		assert.NoError(t, CheckCacheEquivalence(ctx, doc))
	})
}

func TestCheckProperties_InvalidDocument(t *testing.T) {
	doc := &compiler.Document{Resources: map[string]string{}}
	assert.Error(t, CheckDeterminism(context.Background(), doc))
	assert.Error(t, CheckCacheEquivalence(context.Background(), doc))
}

func TestDiffOutput(t *testing.T) {
	r := resource.New(resource.TagInt, "r")
	result := func(v int64, status engine.Status) *engine.Result {
		return &engine.Result{
			Status:    status,
			Timelines: map[resource.ID][]resource.Point{r: {{Time: epoch.FromSeconds(1), Value: resource.Int(v)}}},
		}
	}

	assert.Empty(t, diffOutput(result(1, engine.StatusComplete), result(1, engine.StatusComplete)))
	assert.Equal(t, "r wrote [J2000+1s=1] vs [J2000+1s=2]",
		diffOutput(result(1, engine.StatusComplete), result(2, engine.StatusComplete)))
	assert.Equal(t, "status complete vs failed",
		diffOutput(result(1, engine.StatusComplete), result(1, engine.StatusFailed)))

	extra := result(1, engine.StatusComplete)
	extra.Timelines[resource.New(resource.TagInt, "s")] = nil
	assert.Equal(t, "s written only by the second run", diffOutput(result(1, engine.StatusComplete), extra))

	violation := &PropertyViolation{Property: "determinism", Detail: "r differs"}
	assert.Equal(t, `property "determinism" violated: r differs`, violation.Error())
}
