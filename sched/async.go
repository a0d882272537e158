package sched

import (
	"runtime"
	"sync"

	"github.com/joeycumines/go-ttak/epoch"
)

// Async is the thin scheduling layer: tasks go to the pool when one is
// attached, and otherwise run inline on the caller (inside an epoch critical
// section when a reclamation domain is attached), so collaborators schedule
// the same way whether or not a pool exists.
type Async struct {
	mu   sync.Mutex
	pool *Pool
	ebr  *epoch.EBR
}

// NewAsync builds an async scheduler. Both pool and ebr may be nil.
func NewAsync(pool *Pool, ebr *epoch.EBR) *Async {
	return &Async{pool: pool, ebr: ebr}
}

// Shutdown detaches (and destroys) the pool; later Schedule calls fall back
// to inline execution.
func (a *Async) Shutdown() {
	a.mu.Lock()
	pool := a.pool
	a.pool = nil
	a.mu.Unlock()
	if pool != nil {
		pool.Destroy()
	}
}

// Schedule runs fn(arg) at the given priority. With a pool attached the
// returned future settles when a worker finishes the task; otherwise the
// task runs before Schedule returns and the future is already settled.
func (a *Async) Schedule(fn TaskFunc, arg any, priority int) *Future {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()
	if pool != nil {
		if f := pool.SubmitTask(fn, arg, priority); f != nil {
			return f
		}
		// pool shut down between the check and the submit; fall through
	}
	return a.inline(fn, arg, priority)
}

func (a *Async) inline(fn TaskFunc, arg any, priority int) *Future {
	t := NewTask(fn, arg, priority)
	pr := NewPromise()
	if a.ebr != nil {
		th := a.ebr.RegisterThread()
		th.Enter()
		pr.SetValue(t.Execute())
		th.Exit()
		a.ebr.DeregisterThread(th)
	} else {
		pr.SetValue(t.Execute())
	}
	return pr.GetFuture()
}

// Yield cedes the caller's processor to other goroutines.
func (a *Async) Yield() {
	runtime.Gosched()
}
