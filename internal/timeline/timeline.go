// Package timeline implements the persistent ordered structure mapping
// epoch.Key to operation.
//
// A Timeline is immutable. Apply returns a new version that shares every
// subtree the batch did not touch, so an edit costs O(k log n) for k edits
// regardless of how many nodes the plan holds, and older versions (and any
// keys taken from them) stay valid while the engine inserts reactive nodes
// into a newer one.
package timeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/operation"
)

// ErrMissing is returned when a batch removes a key that is not present.
var ErrMissing = errors.New("timeline: key not present")

// Node is an operation scheduled at a key.
type Node struct {
	Key epoch.Key
	Op  operation.Operation
}

// EditKind distinguishes inserts from removals.
type EditKind uint8

const (
	// EditInsert adds Node.
	EditInsert EditKind = iota + 1
	// EditRemove removes the node at Node.Key.
	EditRemove
)

// Edit is one change in a batch.
type Edit struct {
	Kind EditKind
	Node Node
}

// InsertEdit returns an insert edit.
func InsertEdit(n Node) Edit { return Edit{Kind: EditInsert, Node: n} }

// RemoveEdit returns a removal edit.
func RemoveEdit(k epoch.Key) Edit { return Edit{Kind: EditRemove, Node: Node{Key: k}} }

// Timeline is one immutable version. The zero value and nil are empty.
type Timeline struct {
	root *tnode
	size int
}

type tnode struct {
	node        Node
	left, right *tnode
	height      int32
	// gen marks the batch that allocated the node; a batch may mutate its
	// own nodes in place because no published version can see them yet.
	gen uint64
}

var generation atomic.Uint64

// Empty returns an empty timeline.
func Empty() *Timeline {
	return &Timeline{}
}

// Len returns the number of nodes.
func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

// Apply applies a batch atomically and returns the new version. On error
// no version is produced and t is unchanged.
func (t *Timeline) Apply(batch []Edit) (*Timeline, error) {
	e := &editor{gen: generation.Add(1)}
	var root *tnode
	size := 0
	if t != nil {
		root, size = t.root, t.size
	}
	for _, ed := range batch {
		var err error
		switch ed.Kind {
		case EditInsert:
			if err = checkInsert(root, ed.Node); err != nil {
				return nil, err
			}
			root = e.insert(root, ed.Node)
			size++
		case EditRemove:
			root, err = e.remove(root, ed.Node.Key)
			if err != nil {
				return nil, err
			}
			size--
		default:
			return nil, fmt.Errorf("timeline: unknown edit kind %d", ed.Kind)
		}
	}
	return &Timeline{root: root, size: size}, nil
}

// Insert is Apply with insert edits only.
func (t *Timeline) Insert(nodes ...Node) (*Timeline, error) {
	batch := make([]Edit, len(nodes))
	for i, n := range nodes {
		batch[i] = InsertEdit(n)
	}
	return t.Apply(batch)
}

// Remove is Apply with removal edits only.
func (t *Timeline) Remove(keys ...epoch.Key) (*Timeline, error) {
	batch := make([]Edit, len(keys))
	for i, k := range keys {
		batch[i] = RemoveEdit(k)
	}
	return t.Apply(batch)
}

// checkInsert rejects a node whose (time, id, sub) is already scheduled,
// whatever its priority.
func checkInsert(root *tnode, n Node) error {
	if n.Op == nil {
		return fmt.Errorf("timeline: node %s has no operation", n.Key)
	}
	if n.Key.ID == "" {
		return fmt.Errorf("timeline: node at %s has empty id", n.Key.Time)
	}
	var dup *Node
	ascend(root, epoch.First(n.Key.Time), func(other Node) bool {
		if other.Key.Time != n.Key.Time {
			return false
		}
		if other.Key.ID == n.Key.ID && other.Key.Sub == n.Key.Sub {
			dup = &other
			return false
		}
		return true
	})
	if dup != nil {
		return &ConflictError{
			Time:   n.Key.Time,
			Ops:    []string{dup.Key.ID, n.Key.ID},
			Reason: "duplicate operation id at instant",
		}
	}
	return nil
}

// Get returns the node at k.
func (t *Timeline) Get(k epoch.Key) (Node, bool) {
	if t == nil {
		return Node{}, false
	}
	n := t.root
	for n != nil {
		switch c := k.Compare(n.node.Key); {
		case c < 0:
			n = n.left
		case c > 0:
			n = n.right
		default:
			return n.node, true
		}
	}
	return Node{}, false
}

// Range returns the nodes with from <= Time <= to in key order.
func (t *Timeline) Range(from, to epoch.Epoch) []Node {
	var out []Node
	if t == nil || from > to {
		return out
	}
	ascend(t.root, epoch.First(from), func(n Node) bool {
		if n.Key.Time > to {
			return false
		}
		out = append(out, n)
		return true
	})
	return out
}

// Each visits every node in key order until fn returns false.
func (t *Timeline) Each(fn func(Node) bool) {
	if t == nil {
		return
	}
	walk(t.root, fn)
}

// Nodes returns every node in key order.
func (t *Timeline) Nodes() []Node {
	out := make([]Node, 0, t.Len())
	t.Each(func(n Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Min returns the first node.
func (t *Timeline) Min() (Node, bool) {
	if t == nil || t.root == nil {
		return Node{}, false
	}
	n := t.root
	for n.left != nil {
		n = n.left
	}
	return n.node, true
}

// Successor returns the first node strictly after k.
func (t *Timeline) Successor(k epoch.Key) (Node, bool) {
	if t == nil {
		return Node{}, false
	}
	var best *tnode
	n := t.root
	for n != nil {
		if k.Compare(n.node.Key) < 0 {
			best = n
			n = n.left
		} else {
			n = n.right
		}
	}
	if best == nil {
		return Node{}, false
	}
	return best.node, true
}

// After returns the first node scheduled strictly after time.
func (t *Timeline) After(time epoch.Epoch) (Node, bool) {
	if time == epoch.Max {
		return Node{}, false
	}
	var found Node
	ok := false
	if t != nil {
		ascend(t.root, epoch.First(time+1), func(n Node) bool {
			found, ok = n, true
			return false
		})
	}
	return found, ok
}

// ascend visits nodes with Key >= from in order until fn returns false.
// It returns false if fn stopped the walk.
func ascend(n *tnode, from epoch.Key, fn func(Node) bool) bool {
	if n == nil {
		return true
	}
	c := from.Compare(n.node.Key)
	if c < 0 {
		if !ascend(n.left, from, fn) {
			return false
		}
	}
	if c <= 0 {
		if !fn(n.node) {
			return false
		}
	}
	return ascend(n.right, from, fn)
}

func walk(n *tnode, fn func(Node) bool) bool {
	if n == nil {
		return true
	}
	return walk(n.left, fn) && fn(n.node) && walk(n.right, fn)
}
