// Package memtable implements the in-memory write buffer of a blacklist
// partition: a red-black tree of URL hashes kept in ascending order.
//
// Hashes accepted since the last flush live here (and in the partition's
// write-ahead log) until the tree reaches the flush threshold, at which
// point the partition writes them out as an immutable sorted index file.
//
// A MemTable is not safe for concurrent use. The owning partition
// serialises access with its own lock.
package memtable

import "github.com/shinji-kodama/urlshield/internal/model"

type color bool

const (
	red   color = true
	black color = false
)

// node is a tree node. Leaves are represented by the tree's sentinel,
// which is always black, so rotations and fix-ups never test for nil.
type node struct {
	key                 model.Hash
	color               color
	left, right, parent *node
}

// MemTable is a red-black tree of unique hashes.
//
// Invariants maintained by every mutation:
//   - the root is black
//   - a red node never has a red child
//   - every path from a node to its leaves crosses the same number of
//     black nodes
//   - an in-order walk yields strictly ascending keys
type MemTable struct {
	root *node
	leaf *node
	size int
}

// New returns an empty MemTable.
func New() *MemTable {
	sentinel := &node{color: black}
	return &MemTable{root: sentinel, leaf: sentinel}
}

// Len returns the number of hashes in the table.
func (t *MemTable) Len() int {
	return t.size
}

// Reset removes every hash from the table.
func (t *MemTable) Reset() {
	t.root = t.leaf
	t.size = 0
}

// Insert adds h to the table. It returns false if h was already present.
func (t *MemTable) Insert(h model.Hash) bool {
	parent := t.leaf
	cur := t.root
	for cur != t.leaf {
		parent = cur
		switch c := h.Compare(cur.key); {
		case c == 0:
			return false
		case c < 0:
			cur = cur.left
		default:
			cur = cur.right
		}
	}

	n := &node{key: h, color: red, left: t.leaf, right: t.leaf, parent: parent}
	switch {
	case parent == t.leaf:
		t.root = n
	case h.Compare(parent.key) < 0:
		parent.left = n
	default:
		parent.right = n
	}

	t.insertFixup(n)
	t.size++
	return true
}

func (t *MemTable) insertFixup(n *node) {
	for n.parent.color == red {
		gp := n.parent.parent
		if n.parent == gp.left {
			uncle := gp.right
			if uncle.color == red {
				// Red uncle: recolour and continue from the grandparent.
				n.parent.color = black
				uncle.color = black
				gp.color = red
				n = gp
				continue
			}
			if n == n.parent.right {
				n = n.parent
				t.rotateLeft(n)
			}
			n.parent.color = black
			gp.color = red
			t.rotateRight(gp)
		} else {
			uncle := gp.left
			if uncle.color == red {
				n.parent.color = black
				uncle.color = black
				gp.color = red
				n = gp
				continue
			}
			if n == n.parent.left {
				n = n.parent
				t.rotateRight(n)
			}
			n.parent.color = black
			gp.color = red
			t.rotateLeft(gp)
		}
	}
	t.root.color = black
}

// Contains reports whether h is in the table.
func (t *MemTable) Contains(h model.Hash) bool {
	return t.find(h) != t.leaf
}

// Get returns the stored hash equal to h and whether it was found.
func (t *MemTable) Get(h model.Hash) (model.Hash, bool) {
	n := t.find(h)
	if n == t.leaf {
		return model.Hash{}, false
	}
	return n.key, true
}

func (t *MemTable) find(h model.Hash) *node {
	cur := t.root
	for cur != t.leaf {
		switch c := h.Compare(cur.key); {
		case c == 0:
			return cur
		case c < 0:
			cur = cur.left
		default:
			cur = cur.right
		}
	}
	return t.leaf
}

// Remove deletes h from the table. It returns false if h was not present.
func (t *MemTable) Remove(h model.Hash) bool {
	z := t.find(h)
	if z == t.leaf {
		return false
	}

	y := z
	yOriginal := y.color
	var x *node

	switch {
	case z.left == t.leaf:
		x = z.right
		t.transplant(z, z.right)
	case z.right == t.leaf:
		x = z.left
		t.transplant(z, z.left)
	default:
		y = t.minimum(z.right)
		yOriginal = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOriginal == black {
		t.deleteFixup(x)
	}
	t.size--
	// The sentinel's parent pointer is scratch space during deletion.
	t.leaf.parent = nil
	return true
}

func (t *MemTable) deleteFixup(x *node) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateLeft(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
				continue
			}
			if w.right.color == black {
				w.left.color = black
				w.color = red
				t.rotateRight(w)
				w = x.parent.right
			}
			w.color = x.parent.color
			x.parent.color = black
			w.right.color = black
			t.rotateLeft(x.parent)
			x = t.root
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateRight(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
				continue
			}
			if w.left.color == black {
				w.right.color = black
				w.color = red
				t.rotateLeft(w)
				w = x.parent.left
			}
			w.color = x.parent.color
			x.parent.color = black
			w.left.color = black
			t.rotateRight(x.parent)
			x = t.root
		}
	}
	x.color = black
}

func (t *MemTable) transplant(u, v *node) {
	switch {
	case u.parent == t.leaf || u.parent == nil:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *MemTable) minimum(n *node) *node {
	for n.left != t.leaf {
		n = n.left
	}
	return n
}

func (t *MemTable) rotateLeft(x *node) {
	y := x.right
	x.right = y.left
	if y.left != t.leaf {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.leaf:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *MemTable) rotateRight(x *node) {
	y := x.left
	x.left = y.right
	if y.right != t.leaf {
		y.right.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.leaf:
		t.root = y
	case x == x.parent.right:
		x.parent.right = y
	default:
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

// RangeLookup returns every hash h with lo <= h <= hi in ascending order.
// Subtrees that cannot intersect the range are skipped.
func (t *MemTable) RangeLookup(lo, hi model.Hash) []model.Hash {
	var out []model.Hash
	t.rangeWalk(t.root, lo, hi, &out)
	return out
}

func (t *MemTable) rangeWalk(n *node, lo, hi model.Hash, out *[]model.Hash) {
	if n == t.leaf {
		return
	}
	cLo := n.key.Compare(lo)
	cHi := n.key.Compare(hi)
	if cLo > 0 {
		t.rangeWalk(n.left, lo, hi, out)
	}
	if cLo >= 0 && cHi <= 0 {
		*out = append(*out, n.key)
	}
	if cHi < 0 {
		t.rangeWalk(n.right, lo, hi, out)
	}
}

// Ascend calls fn for every hash in ascending order until fn returns false.
func (t *MemTable) Ascend(fn func(model.Hash) bool) {
	t.ascend(t.root, fn)
}

func (t *MemTable) ascend(n *node, fn func(model.Hash) bool) bool {
	if n == t.leaf {
		return true
	}
	return t.ascend(n.left, fn) && fn(n.key) && t.ascend(n.right, fn)
}

// Keys returns every hash in ascending order.
func (t *MemTable) Keys() []model.Hash {
	out := make([]model.Hash, 0, t.size)
	t.Ascend(func(h model.Hash) bool {
		out = append(out, h)
		return true
	})
	return out
}
