package operation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/ir"
	"github.com/roach88/kestrel/internal/resource"
)

var (
	battery = resource.New(resource.TagFloat, "battery")
	count   = resource.New(resource.TagInt, "count")
	mode    = resource.New(resource.TagString, "mode")
)

func inputs(values map[resource.ID]resource.Value) Inputs {
	return NewInputs(epoch.FromSeconds(1), values)
}

func TestSet_Compute(t *testing.T) {
	op := Set{Name: "s", Target: mode, Value: resource.String("safe")}
	deltas, err := op.Compute(inputs(nil))
	require.NoError(t, err)
	assert.Equal(t, []resource.Delta{{Resource: mode, Value: resource.String("safe")}}, deltas)
	assert.NoError(t, CheckDeltas(op, deltas))
	assert.True(t, IsTimeInvariant(op))
}

func TestAdd_Compute(t *testing.T) {
	op := Add{Name: "a", Target: count, Amount: resource.Int(3)}
	deltas, err := op.Compute(inputs(map[resource.ID]resource.Value{count: resource.Int(4)}))
	require.NoError(t, err)
	assert.Equal(t, resource.Int(7), deltas[0].Value)

	_, err = op.Compute(inputs(nil))
	assert.ErrorContains(t, err, "not declared")
}

func TestCopy_WithOffset(t *testing.T) {
	s := resource.New(resource.TagInt, "s")
	op := Copy{Name: "c", From: count, To: s, Offset: resource.Int(1)}
	deltas, err := op.Compute(inputs(map[resource.ID]resource.Value{count: resource.Int(1)}))
	require.NoError(t, err)
	assert.Equal(t, []resource.Delta{{Resource: s, Value: resource.Int(2)}}, deltas)
}

func TestSum(t *testing.T) {
	v, err := Sum(resource.Float(1.5), resource.Int(2))
	require.NoError(t, err)
	assert.Equal(t, resource.Float(3.5), v)

	v, err = Sum(resource.Linear{Value: 1, Rate: 1}, resource.Linear{Value: 1, Rate: -3})
	require.NoError(t, err)
	assert.Equal(t, resource.Linear{Value: 2, Rate: -2}, v)

	_, err = Sum(resource.Int(1), resource.Float(1))
	assert.Error(t, err)
}

func TestSeeds_DistinguishOperations(t *testing.T) {
	a := ir.MustSeedDigest(Add{Name: "x", Target: count, Amount: resource.Int(1)}.Seed())
	b := ir.MustSeedDigest(Add{Name: "y", Target: count, Amount: resource.Int(1)}.Seed())
	c := ir.MustSeedDigest(Add{Name: "x", Target: count, Amount: resource.Int(2)}.Seed())
	d := ir.MustSeedDigest(Set{Name: "x", Target: count, Value: resource.Int(1)}.Seed())

	assert.Equal(t, a, b, "the operation id is not part of the logic")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Set{Name: "ok", Target: count, Value: resource.Int(1)}))
	assert.Error(t, Validate(Set{Target: count, Value: resource.Int(1)}))

	dupRead := Func{Name: "f", Reads: []resource.ID{count, count}}
	assert.ErrorContains(t, Validate(dupRead), "upstream")

	dupWrite := Func{Name: "f", Writes: []Write{{Resource: count}, {Resource: count, Mode: Exclusive}}}
	assert.ErrorContains(t, Validate(dupWrite), "downstream")
}

func TestCheckDeltas(t *testing.T) {
	op := Func{Name: "f", Writes: []Write{{Resource: count}}}
	assert.NoError(t, CheckDeltas(op, nil))
	assert.ErrorContains(t, CheckDeltas(op, []resource.Delta{{Resource: battery, Value: resource.Float(1)}}), "undeclared")
	assert.ErrorContains(t, CheckDeltas(op, []resource.Delta{
		{Resource: count, Value: resource.Int(1)},
		{Resource: count, Value: resource.Int(2)},
	}), "twice")
	assert.Error(t, CheckDeltas(op, []resource.Delta{{Resource: count, Value: resource.Float(1)}}))
}

func TestInputs_Float(t *testing.T) {
	in := inputs(map[resource.ID]resource.Value{
		count:   resource.Int(2),
		battery: resource.Float(0.5),
		mode:    resource.String("x"),
	})
	n, err := in.Float(count)
	require.NoError(t, err)
	assert.Equal(t, 2.0, n)
	_, err = in.Float(mode)
	assert.Error(t, err)
	assert.Equal(t, 3, in.Len())
}

func TestDaemon_Validate(t *testing.T) {
	op := Copy{Name: "mirror", From: count, To: resource.New(resource.TagInt, "mirror")}
	d := Daemon{Name: "mirror", Subscriptions: []resource.ID{count}, Op: op}
	require.NoError(t, d.Validate())
	assert.True(t, d.Subscribes(count))
	assert.False(t, d.Subscribes(battery))

	assert.Error(t, Daemon{Name: "x", Op: op}.Validate())
	op.Mode = Exclusive
	assert.ErrorContains(t, Daemon{Name: "x", Subscriptions: []resource.ID{count}, Op: op}.Validate(), "exclusive")
}

func TestModelError(t *testing.T) {
	cause := errors.New("battery depleted")
	err := error(&ModelError{Op: "heater", Key: epoch.At(epoch.FromSeconds(3), 0, "heater"), Err: cause})
	assert.True(t, IsModelError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "heater")
	assert.False(t, IsModelError(cause))
}

func TestFail(t *testing.T) {
	_, err := Fail{Name: "f", Message: "no"}.Compute(inputs(nil))
	assert.EqualError(t, err, "no")
}
