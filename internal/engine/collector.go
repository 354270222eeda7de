package engine

import (
	"slices"
	"sync/atomic"

	"github.com/roach88/kestrel/internal/epoch"
)

// Failure is one failed operation.
type Failure struct {
	Key epoch.Key
	Op  string
	Err error
}

type failureNode struct {
	f    Failure
	next *failureNode
}

// collector is a lock-free stack of failures pushed by workers.
type collector struct {
	head atomic.Pointer[failureNode]
	n    atomic.Int64
}

func (c *collector) push(f Failure) {
	node := &failureNode{f: f}
	for {
		old := c.head.Load()
		node.next = old
		if c.head.CompareAndSwap(old, node) {
			c.n.Add(1)
			return
		}
	}
}

func (c *collector) len() int {
	return int(c.n.Load())
}

// sorted returns the failures in key order.
func (c *collector) sorted() []Failure {
	var out []Failure
	for n := c.head.Load(); n != nil; n = n.next {
		out = append(out, n.f)
	}
	slices.SortFunc(out, func(a, b Failure) int { return a.Key.Compare(b.Key) })
	return out
}
