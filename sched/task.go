// Package sched provides the concurrency scaffolding: a fixed-size thread
// pool consuming a priority queue, one-shot promises and futures whose
// blocking waits leave the epoch, a thin async scheduler with an inline
// fallback, and a statistics-driven smart scheduler that boosts
// historically expensive tasks.
package sched

import (
	"sync/atomic"
	"time"
)

// TaskFunc is the unit of work: value in, value out.
type TaskFunc func(arg any) any

// Task is one schedulable unit: a function, its argument, a base priority,
// and an identity hash for the smart scheduler's cost records.
type Task struct {
	fn       TaskFunc
	arg      any
	priority int
	hashID   uint64
	cost     atomic.Int64 // last recorded execution cost, ns
}

// NewTask builds a task. fn must be non-nil.
func NewTask(fn TaskFunc, arg any, priority int) *Task {
	if fn == nil {
		panic(`sched: nil task fn`)
	}
	return &Task{fn: fn, arg: arg, priority: priority}
}

// Clone returns an independent copy of the task, sharing fn and arg but not
// recorded state.
func (t *Task) Clone() *Task {
	n := NewTask(t.fn, t.arg, t.priority)
	n.hashID = t.hashID
	return n
}

// SetHash assigns the task's identity for cost tracking. Tasks sharing a
// hash share an execution-cost history.
func (t *Task) SetHash(id uint64) { t.hashID = id }

// Hash returns the task's identity hash.
func (t *Task) Hash() uint64 { return t.hashID }

// Priority returns the task's base priority.
func (t *Task) Priority() int { return t.priority }

// Cost returns the last recorded execution duration.
func (t *Task) Cost() time.Duration { return time.Duration(t.cost.Load()) }

// Execute runs the task synchronously on the caller, recording its cost.
func (t *Task) Execute() any {
	start := time.Now()
	out := t.fn(t.arg)
	t.cost.Store(int64(time.Since(start)))
	return out
}

// Destroy severs the task from its closure state. A destroyed task must not
// be executed again.
func (t *Task) Destroy() {
	t.fn = nil
	t.arg = nil
}
