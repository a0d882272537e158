package syncutil

import "sync/atomic"

// Spinlock is a test-and-test-and-set lock with exponential backoff. It is
// intended for very short critical sections (header field swaps, free-list
// pushes); anything that can block for longer belongs on a Mutex.
//
// The zero value is unlocked. A Spinlock must not be copied after first use.
type Spinlock struct {
	state atomic.Uint32
}

// Lock acquires the spinlock, spinning with backoff until it is free.
func (l *Spinlock) Lock() {
	var b Backoff
	for {
		if l.state.Load() == 0 && l.state.CompareAndSwap(0, 1) {
			return
		}
		b.Pause()
	}
}

// TryLock acquires the spinlock if it is free, without spinning.
func (l *Spinlock) TryLock() bool {
	return l.state.Load() == 0 && l.state.CompareAndSwap(0, 1)
}

// Unlock releases the spinlock. Unlocking an unlocked Spinlock panics.
func (l *Spinlock) Unlock() {
	if l.state.Swap(0) == 0 {
		panic(`syncutil: unlock of unlocked Spinlock`)
	}
}
