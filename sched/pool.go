package sched

import (
	"sync"

	"github.com/joeycumines/go-ttak/epoch"
	"github.com/joeycumines/go-ttak/mem"
	"github.com/joeycumines/go-ttak/pqueue"
)

// PoolConfig carries thread-pool construction options.
type PoolConfig struct {
	// Workers is the fixed worker count. Defaults to 4.
	Workers int

	// EBR, when non-nil, wraps each task execution in an epoch critical
	// section on the worker's own thread record.
	EBR *epoch.EBR

	// Smart, when non-nil, adjusts queue priorities from recorded
	// execution costs.
	Smart *SmartScheduler

	// Logger receives pool lifecycle diagnostics. May be nil.
	Logger *mem.Logger
}

type queued struct {
	task    *Task
	promise *Promise
}

// Pool is a fixed-size worker set consuming a priority queue. Tasks run to
// completion; shutdown is cooperative and drains the queue.
type Pool struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	queue    *pqueue.PriorityQueue[queued]
	shutdown bool

	workers int
	wg      sync.WaitGroup
	ebr     *epoch.EBR
	smart   *SmartScheduler
	logger  *mem.Logger
}

// NewPool spawns the workers and returns the running pool. cfg may be nil.
func NewPool(cfg *PoolConfig) *Pool {
	p := &Pool{workers: 4, queue: pqueue.NewPriority[queued]()}
	if cfg != nil {
		if cfg.Workers > 0 {
			p.workers = cfg.Workers
		}
		p.ebr = cfg.EBR
		p.smart = cfg.Smart
		p.logger = cfg.Logger
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker(i)
	}
	if p.logger != nil {
		p.logger.Debug().Int("workers", p.workers).Log(`pool started`)
	}
	return p
}

// ScheduleTask queues a task at the given priority (adjusted by the smart
// scheduler when configured) and returns its future. Returns nil after
// Destroy.
func (p *Pool) ScheduleTask(t *Task, priority int) *Future {
	if t == nil {
		return nil
	}
	pr := NewPromise()
	if p.smart != nil {
		priority = p.smart.AdjustedPriority(t, priority)
	}
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.queue.Push(queued{task: t, promise: pr}, priority)
	p.mu.Unlock()
	p.notEmpty.Signal()
	return pr.GetFuture()
}

// SubmitTask wraps fn and arg in a task and schedules it.
func (p *Pool) SubmitTask(fn TaskFunc, arg any, priority int) *Future {
	return p.ScheduleTask(NewTask(fn, arg, priority), priority)
}

// QueueLen returns the number of queued (not yet started) tasks.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	var th *epoch.Thread
	if p.ebr != nil {
		th = p.ebr.RegisterThread()
		defer p.ebr.DeregisterThread(th)
	}
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.shutdown {
			p.notEmpty.Wait()
		}
		q, ok := p.queue.Pop()
		if !ok {
			// shutdown with an empty queue
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		if th != nil {
			th.Enter()
		}
		out := q.task.Execute()
		if th != nil {
			th.Exit()
		}
		if p.smart != nil {
			p.smart.RecordExecution(q.task.Hash(), q.task.Cost())
		}
		q.promise.SetValue(out)
	}
}

// Destroy sets the shutdown flag, wakes every worker, and joins them. Queued
// tasks are drained (executed) before workers exit. Idempotent.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.shutdown = true
	p.mu.Unlock()
	p.notEmpty.Broadcast()
	p.wg.Wait()
	if p.logger != nil {
		p.logger.Debug().Log(`pool stopped`)
	}
}
