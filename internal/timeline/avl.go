package timeline

import (
	"fmt"

	"github.com/roach88/kestrel/internal/epoch"
)

// editor performs path-copying AVL updates for one batch.
type editor struct {
	gen uint64
}

func height(n *tnode) int32 {
	if n == nil {
		return 0
	}
	return n.height
}

// own returns a node the batch may mutate: n itself if the batch created
// it, otherwise a shallow copy.
func (e *editor) own(n *tnode) *tnode {
	if n.gen == e.gen {
		return n
	}
	c := *n
	c.gen = e.gen
	return &c
}

func fix(n *tnode) *tnode {
	n.height = 1 + max(height(n.left), height(n.right))
	return n
}

func (e *editor) rotateRight(n *tnode) *tnode {
	l := e.own(n.left)
	n.left = l.right
	fix(n)
	l.right = n
	return fix(l)
}

func (e *editor) rotateLeft(n *tnode) *tnode {
	r := e.own(n.right)
	n.right = r.left
	fix(n)
	r.left = n
	return fix(r)
}

// balance restores the AVL invariant at an owned node whose children are
// already balanced.
func (e *editor) balance(n *tnode) *tnode {
	fix(n)
	switch bf := height(n.left) - height(n.right); {
	case bf > 1:
		if height(n.left.left) < height(n.left.right) {
			n.left = e.rotateLeft(e.own(n.left))
		}
		return e.rotateRight(n)
	case bf < -1:
		if height(n.right.right) < height(n.right.left) {
			n.right = e.rotateRight(e.own(n.right))
		}
		return e.rotateLeft(n)
	}
	return n
}

// insert adds node; the caller has already rejected duplicates.
func (e *editor) insert(n *tnode, node Node) *tnode {
	if n == nil {
		return &tnode{node: node, height: 1, gen: e.gen}
	}
	m := e.own(n)
	if node.Key.Compare(n.node.Key) < 0 {
		m.left = e.insert(n.left, node)
	} else {
		m.right = e.insert(n.right, node)
	}
	return e.balance(m)
}

func (e *editor) remove(n *tnode, k epoch.Key) (*tnode, error) {
	if n == nil {
		return nil, fmt.Errorf("remove %s: %w", k, ErrMissing)
	}
	c := k.Compare(n.node.Key)
	if c == 0 {
		if n.left == nil {
			return n.right, nil
		}
		if n.right == nil {
			return n.left, nil
		}
		succ := n.right
		for succ.left != nil {
			succ = succ.left
		}
		m := e.own(n)
		m.node = succ.node
		m.right = e.removeMin(n.right)
		return e.balance(m), nil
	}
	var err error
	m := e.own(n)
	if c < 0 {
		m.left, err = e.remove(n.left, k)
	} else {
		m.right, err = e.remove(n.right, k)
	}
	if err != nil {
		return nil, err
	}
	return e.balance(m), nil
}

func (e *editor) removeMin(n *tnode) *tnode {
	if n.left == nil {
		return n.right
	}
	m := e.own(n)
	m.left = e.removeMin(n.left)
	return e.balance(m)
}
