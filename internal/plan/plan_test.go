package plan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/resource"
)

var (
	count = resource.New(resource.TagInt, "count")
	mode  = resource.New(resource.TagString, "mode")
	alarm = resource.New(resource.TagBool, "alarm")
)

func sec(s float64) epoch.Epoch { return epoch.FromSeconds(s) }

func session() *Session {
	return NewSession(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEngineOptions(engine.WithWorkers(4)),
	)
}

func bump(n int64) Steps {
	return Single(operation.Add{Name: "bump", Target: count, Amount: resource.Int(n)})
}

func values(pts []resource.Point) []resource.Value {
	out := make([]resource.Value, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

func TestPlan_InsertRemove(t *testing.T) {
	p, err := session().NewPlan(sec(0), map[resource.ID]resource.Value{count: resource.Int(10)})
	require.NoError(t, err)

	a, err := p.Insert(sec(1), bump(1))
	require.NoError(t, err)
	b, err := p.Insert(sec(2), bump(2))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, []ActivityID{a, b}, p.Activities())

	res, err := p.Simulate(context.Background(), sec(0), sec(10))
	require.NoError(t, err)
	assert.Equal(t, []resource.Value{resource.Int(11), resource.Int(13)}, values(res.Points(count)))

	require.NoError(t, p.Remove(a))
	res, err = p.Simulate(context.Background(), sec(0), sec(10))
	require.NoError(t, err)
	assert.Equal(t, []resource.Value{resource.Int(12)}, values(res.Points(count)))

	err = p.Remove(a)
	assert.True(t, errors.Is(err, ErrUnknownActivity))
}

func TestPlan_SameOperationInTwoActivitiesAtOneInstant(t *testing.T) {
	p, err := session().NewPlan(sec(0), nil)
	require.NoError(t, err)
	_, err = p.InsertBatch([]Placed{{At: sec(1), Activity: bump(1)}, {At: sec(1), Activity: bump(1)}})
	require.NoError(t, err)
	res, err := p.Simulate(context.Background(), sec(0), sec(5))
	require.NoError(t, err)
	assert.Equal(t, []resource.Value{resource.Int(1), resource.Int(2)}, values(res.Points(count)))
}

func TestPlan_BatchIsAtomic(t *testing.T) {
	p, err := session().NewPlan(sec(0), nil)
	require.NoError(t, err)
	_, err = p.InsertBatch([]Placed{
		{At: sec(1), Activity: bump(1)},
		{At: sec(-1), Activity: bump(1)},
	})
	require.Error(t, err)
	assert.Equal(t, 0, p.Timeline().Len())
	assert.Empty(t, p.Activities())

	_, err = p.Insert(sec(1), Single(operation.Set{Target: mode, Value: resource.String("x")}))
	require.Error(t, err, "operation without an id is rejected")
	assert.Equal(t, 0, p.Timeline().Len())
}

func TestPlan_ExclusiveConflict(t *testing.T) {
	p, err := session().NewPlan(sec(0), nil)
	require.NoError(t, err)
	excl := func(v string) Steps {
		return Single(operation.Set{Name: "set", Target: mode, Value: resource.String(v), Mode: operation.Exclusive})
	}
	_, err = p.Insert(sec(3), excl("a"))
	require.NoError(t, err)
	_, err = p.Insert(sec(3), excl("b"))
	require.NoError(t, err)

	_, err = p.Simulate(context.Background(), sec(0), sec(5))
	require.Error(t, err)
	assert.True(t, engine.IsConflict(err))
}

func TestPlan_EditsReuseHistoryAcrossPlans(t *testing.T) {
	s := session()
	build := func(late int64) *Plan {
		p, err := s.NewPlan(sec(0), nil)
		require.NoError(t, err)
		for _, at := range []float64{10, 20, 30, 40} {
			_, err := p.Insert(sec(at), bump(1))
			require.NoError(t, err)
		}
		_, err = p.Insert(sec(60), bump(late))
		require.NoError(t, err)
		return p
	}

	first, err := build(1).Simulate(context.Background(), sec(0), sec(100))
	require.NoError(t, err)
	assert.Equal(t, 5, first.Stats.Computed)

	second, err := build(7).Simulate(context.Background(), sec(0), sec(100))
	require.NoError(t, err)
	assert.Equal(t, 4, second.Stats.Hits)
	assert.Equal(t, 1, second.Stats.Computed)
	assert.Equal(t, 6, s.History().Len())
}

func TestPlan_DaemonsAndView(t *testing.T) {
	watch := operation.Daemon{
		Name:          "alarm",
		Subscriptions: []resource.ID{mode},
		Op:            operation.Set{Name: "alarm", Target: alarm, Value: resource.Bool(true)},
	}
	p, err := session().NewPlan(sec(0), nil, watch)
	require.NoError(t, err)
	_, err = p.Insert(sec(4), Single(operation.Set{Name: "safe", Target: mode, Value: resource.String("safe")}))
	require.NoError(t, err)

	pts, err := p.View(context.Background(), alarm, sec(0), sec(10))
	require.NoError(t, err)
	assert.Equal(t, []resource.Point{{Time: sec(4), Value: resource.Bool(true)}}, pts)
}

func TestPlan_WindowBeforeStart(t *testing.T) {
	p, err := session().NewPlan(sec(10), nil)
	require.NoError(t, err)
	_, err = p.Simulate(context.Background(), sec(0), sec(20))
	assert.Error(t, err)
}

func TestPlan_WindowAfterStartSeesEarlierWrites(t *testing.T) {
	src := resource.New(resource.TagInt, "src")
	p, err := session().NewPlan(sec(0), nil)
	require.NoError(t, err)
	_, err = p.Insert(sec(1), Single(operation.Set{Name: "fill", Target: src, Value: resource.Int(5)}))
	require.NoError(t, err)
	_, err = p.Insert(sec(10), Single(operation.Copy{Name: "mirror", From: src, To: count}))
	require.NoError(t, err)

	full, err := p.Simulate(context.Background(), sec(0), sec(20))
	require.NoError(t, err)
	assert.Equal(t, []resource.Point{{Time: sec(10), Value: resource.Int(5)}}, full.Points(count))

	late, err := p.Simulate(context.Background(), sec(5), sec(20))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusComplete, late.Status)
	assert.Equal(t, sec(5), late.From)
	assert.Equal(t, []resource.Point{{Time: sec(10), Value: resource.Int(5)}}, late.Points(count))
	// the write before the window ran but is not reported
	assert.Empty(t, late.Points(src))
	assert.Equal(t, 2, late.Stats.Operations)

	run, err := p.Run(context.Background(), sec(5), sec(20))
	require.NoError(t, err)
	_, err = run.Wait(context.Background())
	require.NoError(t, err)
	v, err := run.Sample(context.Background(), src, sec(6))
	require.NoError(t, err)
	assert.Equal(t, resource.Int(5), v)

	_, err = p.Simulate(context.Background(), sec(20), sec(5))
	assert.Error(t, err)
}

func TestNewPlan_Validates(t *testing.T) {
	_, err := session().NewPlan(sec(0), map[resource.ID]resource.Value{count: resource.String("x")})
	assert.Error(t, err)
	_, err = session().NewPlan(sec(0), nil, operation.Daemon{Name: "d"})
	assert.Error(t, err)
}
