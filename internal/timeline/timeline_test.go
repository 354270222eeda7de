package timeline

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/resource"
)

var mode = resource.New(resource.TagString, "mode")

func setAt(sec float64, id string, m operation.WriteMode) Node {
	return Node{
		Key: epoch.At(epoch.FromSeconds(sec), 0, id),
		Op:  operation.Set{Name: id, Target: mode, Value: resource.String(id), Mode: m},
	}
}

func keys(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Key.ID
	}
	return out
}

// checkAVL verifies ordering and balance, returning the subtree height.
func checkAVL(t *testing.T, n *tnode) int32 {
	t.Helper()
	if n == nil {
		return 0
	}
	if n.left != nil {
		require.True(t, n.left.node.Key.Less(n.node.Key))
	}
	if n.right != nil {
		require.True(t, n.node.Key.Less(n.right.node.Key))
	}
	lh, rh := checkAVL(t, n.left), checkAVL(t, n.right)
	require.LessOrEqual(t, lh-rh, int32(1))
	require.GreaterOrEqual(t, lh-rh, int32(-1))
	require.Equal(t, 1+max(lh, rh), n.height)
	return n.height
}

func TestTimeline_InsertOrdersByKey(t *testing.T) {
	tl, err := Empty().Insert(
		setAt(3, "c", operation.Ordered),
		setAt(1, "b", operation.Ordered),
		setAt(1, "a", operation.Ordered),
		setAt(2, "d", operation.Ordered),
	)
	require.NoError(t, err)
	assert.Equal(t, 4, tl.Len())
	assert.Equal(t, []string{"a", "b", "d", "c"}, keys(tl.Nodes()))

	first, ok := tl.Min()
	require.True(t, ok)
	assert.Equal(t, "a", first.Key.ID)
}

func TestTimeline_PriorityBeforeID(t *testing.T) {
	at := epoch.FromSeconds(1)
	tl, err := Empty().Insert(
		Node{Key: epoch.At(at, 5, "a"), Op: operation.Set{Name: "a", Target: mode, Value: resource.String("a")}},
		Node{Key: epoch.At(at, -1, "z"), Op: operation.Set{Name: "z", Target: mode, Value: resource.String("z")}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a"}, keys(tl.Nodes()))
}

func TestTimeline_Persistence(t *testing.T) {
	v1, err := Empty().Insert(setAt(1, "a", operation.Ordered))
	require.NoError(t, err)
	v2, err := v1.Insert(setAt(2, "b", operation.Ordered))
	require.NoError(t, err)
	v3, err := v2.Remove(epoch.At(epoch.FromSeconds(1), 0, "a"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, keys(v1.Nodes()))
	assert.Equal(t, []string{"a", "b"}, keys(v2.Nodes()))
	assert.Equal(t, []string{"b"}, keys(v3.Nodes()))
}

func TestTimeline_DuplicateConflict(t *testing.T) {
	v1, err := Empty().Insert(setAt(1, "a", operation.Ordered))
	require.NoError(t, err)

	_, err = v1.Insert(setAt(1, "a", operation.Ordered))
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	// same id at the same instant under another priority is still a duplicate
	_, err = v1.Insert(Node{Key: epoch.At(epoch.FromSeconds(1), 9, "a"), Op: operation.Set{Name: "a", Target: mode, Value: resource.String("x")}})
	assert.True(t, IsConflict(err))

	// same id at another instant is fine
	_, err = v1.Insert(setAt(2, "a", operation.Ordered))
	assert.NoError(t, err)
}

func TestTimeline_BatchIsAtomic(t *testing.T) {
	v1, err := Empty().Insert(setAt(1, "a", operation.Ordered))
	require.NoError(t, err)

	v2, err := v1.Apply([]Edit{
		InsertEdit(setAt(2, "b", operation.Ordered)),
		RemoveEdit(epoch.At(epoch.FromSeconds(9), 0, "missing")),
	})
	require.ErrorIs(t, err, ErrMissing)
	assert.Nil(t, v2)
	assert.Equal(t, []string{"a"}, keys(v1.Nodes()))
}

func TestTimeline_BatchEqualsSequential(t *testing.T) {
	var nodes []Node
	for i := range 200 {
		nodes = append(nodes, setAt(float64(i%17), fmt.Sprintf("op%03d", i), operation.Ordered))
	}

	batched, err := Empty().Insert(nodes...)
	require.NoError(t, err)
	checkAVL(t, batched.root)

	r := rand.New(rand.NewPCG(1, 2))
	for range 5 {
		shuffled := append([]Node(nil), nodes...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		seq := Empty()
		for _, n := range shuffled {
			seq, err = seq.Insert(n)
			require.NoError(t, err)
		}
		checkAVL(t, seq.root)
		assert.Equal(t, keys(batched.Nodes()), keys(seq.Nodes()))
	}
}

func TestTimeline_RemoveKeepsBalance(t *testing.T) {
	var nodes []Node
	for i := range 100 {
		nodes = append(nodes, setAt(float64(i), fmt.Sprintf("op%03d", i), operation.Ordered))
	}
	tl, err := Empty().Insert(nodes...)
	require.NoError(t, err)

	var rm []epoch.Key
	for i := 0; i < 100; i += 3 {
		rm = append(rm, nodes[i].Key)
	}
	after, err := tl.Remove(rm...)
	require.NoError(t, err)
	checkAVL(t, after.root)
	assert.Equal(t, 100-len(rm), after.Len())
	_, ok := after.Get(nodes[0].Key)
	assert.False(t, ok)
	_, ok = after.Get(nodes[1].Key)
	assert.True(t, ok)

	// the old version is untouched
	checkAVL(t, tl.root)
	assert.Equal(t, 100, tl.Len())
}

func TestTimeline_RangeAndSuccessor(t *testing.T) {
	tl, err := Empty().Insert(
		setAt(1, "a", operation.Ordered),
		setAt(2, "b", operation.Ordered),
		setAt(2, "c", operation.Ordered),
		setAt(5, "d", operation.Ordered),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "d"}, keys(tl.Range(epoch.FromSeconds(2), epoch.FromSeconds(5))))
	assert.Empty(t, tl.Range(epoch.FromSeconds(3), epoch.FromSeconds(4)))
	assert.Empty(t, tl.Range(epoch.FromSeconds(5), epoch.FromSeconds(1)))

	next, ok := tl.Successor(epoch.At(epoch.FromSeconds(2), 0, "b"))
	require.True(t, ok)
	assert.Equal(t, "c", next.Key.ID)

	next, ok = tl.After(epoch.FromSeconds(2))
	require.True(t, ok)
	assert.Equal(t, "d", next.Key.ID)

	_, ok = tl.After(epoch.FromSeconds(5))
	assert.False(t, ok)
	_, ok = tl.After(epoch.Max)
	assert.False(t, ok)
}

func TestTimeline_ReactiveKeysFollowTrigger(t *testing.T) {
	trigger := setAt(1, "a", operation.Ordered)
	daemon := Node{Key: trigger.Key.Reactive(1), Op: operation.Set{Name: "d", Target: mode, Value: resource.String("d")}}
	tl, err := Empty().Insert(setAt(1, "b", operation.Ordered), daemon, trigger)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a", "b"}, keys(tl.Nodes()))
	assert.True(t, tl.Nodes()[1].Key.IsReactive())
}

func TestTimeline_CheckWrites(t *testing.T) {
	ordered, err := Empty().Insert(
		setAt(1, "a", operation.Ordered),
		setAt(1, "b", operation.Ordered),
	)
	require.NoError(t, err)
	assert.NoError(t, ordered.CheckWrites(epoch.Min, epoch.Max))

	exclusive, err := ordered.Insert(setAt(1, "c", operation.Exclusive))
	require.NoError(t, err)
	err = exclusive.CheckWrites(epoch.Min, epoch.Max)
	require.Error(t, err)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, epoch.FromSeconds(1), ce.Time)
	assert.Equal(t, mode, *ce.Resource)
	assert.Equal(t, []string{"a", "b", "c"}, ce.Ops)

	// outside the window the conflict is not reported
	assert.NoError(t, exclusive.CheckWrites(epoch.FromSeconds(2), epoch.Max))

	// a lone exclusive writer is fine
	alone, err := Empty().Insert(setAt(1, "x", operation.Exclusive), setAt(2, "y", operation.Exclusive))
	require.NoError(t, err)
	assert.NoError(t, alone.CheckWrites(epoch.Min, epoch.Max))
}

func TestTimeline_CheckWritesWithDaemons(t *testing.T) {
	other := resource.New(resource.TagString, "other")
	watcher := operation.Daemon{
		Name:          "watch",
		Subscriptions: []resource.ID{other},
		Op:            operation.Set{Name: "watch", Target: mode, Value: resource.String("w")},
	}
	trigger := Node{Key: epoch.At(epoch.FromSeconds(1), 0, "t"), Op: operation.Set{Name: "t", Target: other, Value: resource.String("x")}}
	tl, err := Empty().Insert(trigger, setAt(1, "c", operation.Exclusive))
	require.NoError(t, err)

	assert.NoError(t, tl.CheckWrites(epoch.Min, epoch.Max))
	err = tl.CheckWrites(epoch.Min, epoch.Max, watcher)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, mode, *ce.Resource)
	assert.Equal(t, []string{"c", "watch"}, ce.Ops)

	// a daemon that does not subscribe to the trigger adds no writer
	idle := watcher
	idle.Subscriptions = []resource.ID{resource.New(resource.TagInt, "unrelated")}
	assert.NoError(t, tl.CheckWrites(epoch.Min, epoch.Max, idle))
}

func TestTimeline_NilIsEmpty(t *testing.T) {
	var tl *Timeline
	assert.Equal(t, 0, tl.Len())
	assert.Empty(t, tl.Nodes())
	_, ok := tl.Min()
	assert.False(t, ok)
	next, err := tl.Insert(setAt(1, "a", operation.Ordered))
	require.NoError(t, err)
	assert.Equal(t, 1, next.Len())
}
