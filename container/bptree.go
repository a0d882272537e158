package container

import "golang.org/x/exp/constraints"

// BPTree is an in-memory B+-tree: all values live in leaves, leaves are
// chained for range scans, and internal nodes only route. Like BTree it is
// not safe for concurrent use.
type BPTree[K constraints.Ordered, V any] struct {
	root  bpNode[K, V]
	head  *bpLeaf[K, V]
	order int // max keys per node
	size  int
}

type bpNode[K constraints.Ordered, V any] interface {
	bpFind(k K) int
}

type bpInner[K constraints.Ordered, V any] struct {
	keys     []K
	children []bpNode[K, V]
}

type bpLeaf[K constraints.Ordered, V any] struct {
	keys []K
	vals []V
	next *bpLeaf[K, V]
}

const defaultBPTreeOrder = 16

// NewBPTree builds an empty tree; order is the maximum keys per node (0 for
// the default of 16).
func NewBPTree[K constraints.Ordered, V any](order int) *BPTree[K, V] {
	if order <= 0 {
		order = defaultBPTreeOrder
	}
	if order < 3 {
		order = 3
	}
	return &BPTree[K, V]{order: order}
}

// Len returns the number of entries.
func (t *BPTree[K, V]) Len() int { return t.size }

func bpSearch[K constraints.Ordered](keys []K, k K) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (n *bpInner[K, V]) bpFind(k K) int {
	// route right of equal separators: separator keys are the first key of
	// the right subtree
	i := bpSearch(n.keys, k)
	if i < len(n.keys) && n.keys[i] == k {
		return i + 1
	}
	return i
}

func (l *bpLeaf[K, V]) bpFind(k K) int { return bpSearch(l.keys, k) }

func (t *BPTree[K, V]) leafFor(k K) *bpLeaf[K, V] {
	n := t.root
	for n != nil {
		inner, ok := n.(*bpInner[K, V])
		if !ok {
			return n.(*bpLeaf[K, V])
		}
		n = inner.children[inner.bpFind(k)]
	}
	return nil
}

// Get returns the value for k.
func (t *BPTree[K, V]) Get(k K) (v V, ok bool) {
	l := t.leafFor(k)
	if l == nil {
		return
	}
	i := l.bpFind(k)
	if i < len(l.keys) && l.keys[i] == k {
		return l.vals[i], true
	}
	return
}

// Put inserts or replaces the value for k.
func (t *BPTree[K, V]) Put(k K, v V) {
	if t.root == nil {
		l := &bpLeaf[K, V]{keys: []K{k}, vals: []V{v}}
		t.root = l
		t.head = l
		t.size++
		return
	}
	splitKey, sibling := t.insert(t.root, k, v)
	if sibling != nil {
		t.root = &bpInner[K, V]{
			keys:     []K{splitKey},
			children: []bpNode[K, V]{t.root, sibling},
		}
	}
}

// insert descends to the leaf, inserting and splitting upward. A non-nil
// sibling return means the node split and splitKey separates the halves.
func (t *BPTree[K, V]) insert(n bpNode[K, V], k K, v V) (splitKey K, sibling bpNode[K, V]) {
	if l, ok := n.(*bpLeaf[K, V]); ok {
		i := l.bpFind(k)
		if i < len(l.keys) && l.keys[i] == k {
			l.vals[i] = v
			return
		}
		var zk K
		var zv V
		l.keys = append(l.keys, zk)
		copy(l.keys[i+1:], l.keys[i:])
		l.keys[i] = k
		l.vals = append(l.vals, zv)
		copy(l.vals[i+1:], l.vals[i:])
		l.vals[i] = v
		t.size++
		if len(l.keys) <= t.order {
			return
		}
		mid := len(l.keys) / 2
		right := &bpLeaf[K, V]{
			keys: append([]K(nil), l.keys[mid:]...),
			vals: append([]V(nil), l.vals[mid:]...),
			next: l.next,
		}
		l.keys = l.keys[:mid]
		l.vals = l.vals[:mid]
		l.next = right
		return right.keys[0], right
	}

	inner := n.(*bpInner[K, V])
	ci := inner.bpFind(k)
	sk, sib := t.insert(inner.children[ci], k, v)
	if sib == nil {
		return
	}
	var zk K
	inner.keys = append(inner.keys, zk)
	copy(inner.keys[ci+1:], inner.keys[ci:])
	inner.keys[ci] = sk
	inner.children = append(inner.children, nil)
	copy(inner.children[ci+2:], inner.children[ci+1:])
	inner.children[ci+1] = sib
	if len(inner.keys) <= t.order {
		return
	}
	mid := len(inner.keys) / 2
	splitKey = inner.keys[mid]
	right := &bpInner[K, V]{
		keys:     append([]K(nil), inner.keys[mid+1:]...),
		children: append([]bpNode[K, V](nil), inner.children[mid+1:]...),
	}
	inner.keys = inner.keys[:mid]
	inner.children = inner.children[:mid+1]
	return splitKey, right
}

// Delete removes k, reporting whether it was present. Leaves may underflow;
// empty leaves stay linked and scans skip them. The tree resets to empty
// when its last entry is removed.
func (t *BPTree[K, V]) Delete(k K) bool {
	l := t.leafFor(k)
	if l == nil {
		return false
	}
	i := l.bpFind(k)
	if i >= len(l.keys) || l.keys[i] != k {
		return false
	}
	l.keys = append(l.keys[:i], l.keys[i+1:]...)
	l.vals = append(l.vals[:i], l.vals[i+1:]...)
	t.size--
	if t.size == 0 {
		t.root = nil
		t.head = nil
	}
	return true
}

// Range calls f for each entry with from <= key < to, in key order, until f
// returns false.
func (t *BPTree[K, V]) Range(from, to K, f func(K, V) bool) {
	l := t.leafFor(from)
	for l != nil {
		for i, k := range l.keys {
			if k < from {
				continue
			}
			if k >= to {
				return
			}
			if !f(k, l.vals[i]) {
				return
			}
		}
		l = l.next
	}
}

// Ascend calls f for every entry in key order until f returns false.
func (t *BPTree[K, V]) Ascend(f func(K, V) bool) {
	for l := t.head; l != nil; l = l.next {
		for i, k := range l.keys {
			if !f(k, l.vals[i]) {
				return
			}
		}
	}
}
