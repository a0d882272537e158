package sched

import (
	"sync"

	"github.com/joeycumines/go-ttak/epoch"
)

// Future is the read side of a one-shot value channel. Get blocks until the
// promise settles; a waiter holding an epoch critical section passes its
// handle so the wait leaves the epoch before sleeping (a quiescent waiter
// must never stall the reclaimers).
type Future struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  bool
	result any
}

func newFuture() *Future {
	f := &Future{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Get blocks until the value is set and returns it. th may be nil; a handle
// that is inside a critical section is exited before sleeping and re-entered
// before returning, so a reclaim concurrent with any number of waiters still
// completes. A handle outside a critical section is left as it is.
func (f *Future) Get(th *epoch.Thread) any {
	f.mu.Lock()
	if !f.ready {
		reenter := th != nil && th.Active()
		if reenter {
			th.Exit()
		}
		for !f.ready {
			f.cond.Wait()
		}
		if reenter {
			f.mu.Unlock()
			th.Enter()
			f.mu.Lock()
		}
	}
	v := f.result
	f.mu.Unlock()
	return v
}

// TryGet returns the value without blocking, reporting whether it was set.
func (f *Future) TryGet() (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.ready
}

// Done returns whether the promise has settled.
func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

// Promise is the write side: it owns a future and settles it exactly once,
// broadcasting to all waiters. Later SetValue calls are ignored.
type Promise struct {
	fut  *Future
	once sync.Once
}

// NewPromise creates a promise with a fresh future.
func NewPromise() *Promise {
	return &Promise{fut: newFuture()}
}

// GetFuture returns the promise's future.
func (p *Promise) GetFuture() *Future { return p.fut }

// SetValue stores the result and wakes every waiter. Only the first call
// has effect.
func (p *Promise) SetValue(v any) {
	p.once.Do(func() {
		p.fut.mu.Lock()
		p.fut.result = v
		p.fut.ready = true
		p.fut.mu.Unlock()
		p.fut.cond.Broadcast()
	})
}
