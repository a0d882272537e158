package container

import "golang.org/x/exp/constraints"

// BTree is an in-memory B-tree ordered map with a fixed minimum degree.
// It is not safe for concurrent use; callers serialize externally (the
// toolkit's concurrent structures layer epoch protection above it).
type BTree[K constraints.Ordered, V any] struct {
	root   *btNode[K, V]
	degree int
	size   int
}

type btNode[K constraints.Ordered, V any] struct {
	keys     []K
	vals     []V
	children []*btNode[K, V] // nil for leaves
}

const defaultBTreeDegree = 8

// NewBTree builds an empty tree. degree is the minimum degree (t); nodes
// hold between t-1 and 2t-1 keys. Pass 0 for the default of 8.
func NewBTree[K constraints.Ordered, V any](degree int) *BTree[K, V] {
	if degree <= 0 {
		degree = defaultBTreeDegree
	}
	if degree < 2 {
		degree = 2
	}
	return &BTree[K, V]{degree: degree}
}

// Len returns the number of entries.
func (t *BTree[K, V]) Len() int { return t.size }

func (n *btNode[K, V]) leaf() bool { return n.children == nil }

// find returns the index of the first key >= k, and whether it equals k.
func (n *btNode[K, V]) find(k K) (int, bool) {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if n.keys[mid] < k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(n.keys) && n.keys[lo] == k
}

// Get returns the value for k.
func (t *BTree[K, V]) Get(k K) (v V, ok bool) {
	n := t.root
	for n != nil {
		i, eq := n.find(k)
		if eq {
			return n.vals[i], true
		}
		if n.leaf() {
			return
		}
		n = n.children[i]
	}
	return
}

// Put inserts or replaces the value for k.
func (t *BTree[K, V]) Put(k K, v V) {
	if t.root == nil {
		t.root = &btNode[K, V]{keys: []K{k}, vals: []V{v}}
		t.size++
		return
	}
	if len(t.root.keys) == 2*t.degree-1 {
		old := t.root
		t.root = &btNode[K, V]{children: []*btNode[K, V]{old}}
		t.splitChild(t.root, 0)
	}
	if t.insertNonFull(t.root, k, v) {
		t.size++
	}
}

// splitChild splits parent.children[i] (which must be full) around its
// median key.
func (t *BTree[K, V]) splitChild(parent *btNode[K, V], i int) {
	d := t.degree
	child := parent.children[i]
	mid := d - 1

	right := &btNode[K, V]{
		keys: append([]K(nil), child.keys[mid+1:]...),
		vals: append([]V(nil), child.vals[mid+1:]...),
	}
	if !child.leaf() {
		right.children = append([]*btNode[K, V](nil), child.children[mid+1:]...)
		child.children = child.children[:mid+1]
	}
	upK, upV := child.keys[mid], child.vals[mid]
	child.keys = child.keys[:mid]
	child.vals = child.vals[:mid]

	parent.keys = append(parent.keys, upK)
	copy(parent.keys[i+1:], parent.keys[i:])
	parent.keys[i] = upK
	parent.vals = append(parent.vals, upV)
	copy(parent.vals[i+1:], parent.vals[i:])
	parent.vals[i] = upV
	parent.children = append(parent.children, nil)
	copy(parent.children[i+2:], parent.children[i+1:])
	parent.children[i+1] = right
}

// insertNonFull inserts into a node known not to be full, reporting whether
// a new key was added (false for replacement).
func (t *BTree[K, V]) insertNonFull(n *btNode[K, V], k K, v V) bool {
	for {
		i, eq := n.find(k)
		if eq {
			n.vals[i] = v
			return false
		}
		if n.leaf() {
			var zk K
			var zv V
			n.keys = append(n.keys, zk)
			copy(n.keys[i+1:], n.keys[i:])
			n.keys[i] = k
			n.vals = append(n.vals, zv)
			copy(n.vals[i+1:], n.vals[i:])
			n.vals[i] = v
			return true
		}
		if len(n.children[i].keys) == 2*t.degree-1 {
			t.splitChild(n, i)
			if k > n.keys[i] {
				i++
			} else if k == n.keys[i] {
				n.vals[i] = v
				return false
			}
		}
		n = n.children[i]
	}
}

// Delete removes k, reporting whether it was present.
func (t *BTree[K, V]) Delete(k K) bool {
	if t.root == nil {
		return false
	}
	ok := t.delete(t.root, k)
	if len(t.root.keys) == 0 {
		if t.root.leaf() {
			t.root = nil
		} else {
			t.root = t.root.children[0]
		}
	}
	if ok {
		t.size--
	}
	return ok
}

// delete removes k from the subtree at n. n is guaranteed to hold at least
// degree keys whenever it is not the root.
func (t *BTree[K, V]) delete(n *btNode[K, V], k K) bool {
	d := t.degree
	i, eq := n.find(k)
	if n.leaf() {
		if !eq {
			return false
		}
		n.keys = append(n.keys[:i], n.keys[i+1:]...)
		n.vals = append(n.vals[:i], n.vals[i+1:]...)
		return true
	}
	if eq {
		// replace with predecessor or successor, or merge around k
		if len(n.children[i].keys) >= d {
			pk, pv := t.max(n.children[i])
			n.keys[i], n.vals[i] = pk, pv
			return t.delete(t.ensure(n, i), pk)
		}
		if len(n.children[i+1].keys) >= d {
			sk, sv := t.min(n.children[i+1])
			n.keys[i], n.vals[i] = sk, sv
			return t.delete(t.ensure(n, i+1), sk)
		}
		t.merge(n, i)
		return t.delete(t.ensure(n, i), k)
	}
	return t.delete(t.ensure(n, i), k)
}

// ensure guarantees child i of n holds at least degree keys, borrowing from
// a sibling or merging, and returns the (possibly replaced) child to
// descend into.
func (t *BTree[K, V]) ensure(n *btNode[K, V], i int) *btNode[K, V] {
	d := t.degree
	if i < len(n.children) && len(n.children[i].keys) >= d {
		return n.children[i]
	}
	switch {
	case i > 0 && len(n.children[i-1].keys) >= d:
		// rotate right
		child, left := n.children[i], n.children[i-1]
		child.keys = append(child.keys, child.keys[0])
		copy(child.keys[1:], child.keys)
		child.keys[0] = n.keys[i-1]
		child.vals = append(child.vals, child.vals[0])
		copy(child.vals[1:], child.vals)
		child.vals[0] = n.vals[i-1]
		if !child.leaf() {
			child.children = append(child.children, nil)
			copy(child.children[1:], child.children)
			child.children[0] = left.children[len(left.children)-1]
			left.children = left.children[:len(left.children)-1]
		}
		last := len(left.keys) - 1
		n.keys[i-1], n.vals[i-1] = left.keys[last], left.vals[last]
		left.keys = left.keys[:last]
		left.vals = left.vals[:last]
		return child
	case i < len(n.children)-1 && len(n.children[i+1].keys) >= d:
		// rotate left
		child, right := n.children[i], n.children[i+1]
		child.keys = append(child.keys, n.keys[i])
		child.vals = append(child.vals, n.vals[i])
		if !child.leaf() {
			child.children = append(child.children, right.children[0])
			right.children = append(right.children[:0], right.children[1:]...)
		}
		n.keys[i], n.vals[i] = right.keys[0], right.vals[0]
		right.keys = append(right.keys[:0], right.keys[1:]...)
		right.vals = append(right.vals[:0], right.vals[1:]...)
		return child
	case i > 0:
		t.merge(n, i-1)
		return n.children[i-1]
	default:
		t.merge(n, i)
		return n.children[i]
	}
}

// merge folds n.keys[i] and child i+1 into child i.
func (t *BTree[K, V]) merge(n *btNode[K, V], i int) {
	child, right := n.children[i], n.children[i+1]
	child.keys = append(child.keys, n.keys[i])
	child.vals = append(child.vals, n.vals[i])
	child.keys = append(child.keys, right.keys...)
	child.vals = append(child.vals, right.vals...)
	child.children = append(child.children, right.children...)
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.vals = append(n.vals[:i], n.vals[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
}

func (t *BTree[K, V]) min(n *btNode[K, V]) (K, V) {
	for !n.leaf() {
		n = n.children[0]
	}
	return n.keys[0], n.vals[0]
}

func (t *BTree[K, V]) max(n *btNode[K, V]) (K, V) {
	for !n.leaf() {
		n = n.children[len(n.children)-1]
	}
	return n.keys[len(n.keys)-1], n.vals[len(n.vals)-1]
}

// Min returns the smallest key.
func (t *BTree[K, V]) Min() (k K, v V, ok bool) {
	if t.root == nil {
		return
	}
	k, v = t.min(t.root)
	return k, v, true
}

// Max returns the largest key.
func (t *BTree[K, V]) Max() (k K, v V, ok bool) {
	if t.root == nil {
		return
	}
	k, v = t.max(t.root)
	return k, v, true
}

// Ascend calls f for each entry in key order until f returns false.
func (t *BTree[K, V]) Ascend(f func(K, V) bool) {
	t.ascend(t.root, f)
}

func (t *BTree[K, V]) ascend(n *btNode[K, V], f func(K, V) bool) bool {
	if n == nil {
		return true
	}
	for i := range n.keys {
		if !n.leaf() && !t.ascend(n.children[i], f) {
			return false
		}
		if !f(n.keys[i], n.vals[i]) {
			return false
		}
	}
	if !n.leaf() {
		return t.ascend(n.children[len(n.children)-1], f)
	}
	return true
}
