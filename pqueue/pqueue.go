// Package pqueue implements the generic binary heap backing the thread pool
// and the schedulers.
//
// Two layers are provided: Heap, an ordering-agnostic binary heap over a
// comparison function, and PriorityQueue, the pool-facing structure ordering
// items by descending integer priority with FIFO behavior on ties.
package pqueue

import "golang.org/x/exp/constraints"

// Heap is a binary heap over an arbitrary strict-weak ordering. The item for
// which less reports false against every other item sits at the root when
// less orders "greater first"; conventionally less(a, b) means "a sorts
// before b" and Pop returns the first item in that order.
//
// Heap is not safe for concurrent use; callers serialize externally.
type Heap[T any] struct {
	items []T
	less  func(a, b T) bool
}

// New returns an empty heap ordered by less.
func New[T any](less func(a, b T) bool) *Heap[T] {
	if less == nil {
		panic(`pqueue: nil less`)
	}
	return &Heap[T]{less: less}
}

// Ordered returns a less function for any ordered type, ascending.
func Ordered[T constraints.Ordered](a, b T) bool { return a < b }

// Len returns the number of items in the heap.
func (h *Heap[T]) Len() int { return len(h.items) }

// Push adds an item to the heap.
func (h *Heap[T]) Push(v T) {
	h.items = append(h.items, v)
	h.up(len(h.items) - 1)
}

// Peek returns the first item in heap order without removing it.
func (h *Heap[T]) Peek() (v T, ok bool) {
	if len(h.items) == 0 {
		return
	}
	return h.items[0], true
}

// Pop removes and returns the first item in heap order.
func (h *Heap[T]) Pop() (v T, ok bool) {
	n := len(h.items)
	if n == 0 {
		return
	}
	v = h.items[0]
	h.items[0] = h.items[n-1]
	var zero T
	h.items[n-1] = zero
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.down(0)
	}
	return v, true
}

func (h *Heap[T]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(h.items[i], h.items[parent]) {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Heap[T]) down(i int) {
	n := len(h.items)
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < n && h.less(h.items[l], h.items[smallest]) {
			smallest = l
		}
		if r < n && h.less(h.items[r], h.items[smallest]) {
			smallest = r
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

// PriorityQueue orders items by descending priority, first-in-first-out
// within a priority. Not safe for concurrent use.
type PriorityQueue[T any] struct {
	heap *Heap[entry[T]]
	seq  uint64
}

type entry[T any] struct {
	value    T
	priority int
	seq      uint64
}

// NewPriority returns an empty priority queue.
func NewPriority[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{heap: New(func(a, b entry[T]) bool {
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.seq < b.seq
	})}
}

// Len returns the number of queued items.
func (q *PriorityQueue[T]) Len() int { return q.heap.Len() }

// Push queues v at the given priority.
func (q *PriorityQueue[T]) Push(v T, priority int) {
	q.heap.Push(entry[T]{value: v, priority: priority, seq: q.seq})
	q.seq++
}

// Pop removes and returns the highest-priority item, FIFO on ties.
func (q *PriorityQueue[T]) Pop() (v T, ok bool) {
	e, ok := q.heap.Pop()
	if !ok {
		return
	}
	return e.value, true
}

// Peek returns the item Pop would return, without removing it.
func (q *PriorityQueue[T]) Peek() (v T, ok bool) {
	e, ok := q.heap.Peek()
	if !ok {
		return
	}
	return e.value, true
}
