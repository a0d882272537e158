package arena

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// The hard-kill helper keeps the live set of contexts so a terminating
// signal can drain and flush everything before the process exits.
var liveContexts struct {
	mu  sync.Mutex
	set map[*Context]struct{}
}

func registerContext(c *Context) {
	liveContexts.mu.Lock()
	if liveContexts.set == nil {
		liveContexts.set = make(map[*Context]struct{})
	}
	liveContexts.set[c] = struct{}{}
	liveContexts.mu.Unlock()
}

func unregisterContext(c *Context) {
	liveContexts.mu.Lock()
	delete(liveContexts.set, c)
	liveContexts.mu.Unlock()
}

func snapshotContexts() []*Context {
	liveContexts.mu.Lock()
	defer liveContexts.mu.Unlock()
	out := make([]*Context, 0, len(liveContexts.set))
	for c := range liveContexts.set {
		out = append(out, c)
	}
	return out
}

var (
	hardKillLatch atomic.Bool
	// test hook
	osExit = os.Exit
)

// InstallHardKill intercepts the given signal set; on the first receipt the
// handler walks every live context — draining the cache first for contexts
// marked graceful, then flushing all rows — and exits with code. The handler
// is single-shot: later signals (and later installs after one has fired) do
// nothing.
func InstallHardKill(code int, sigs ...os.Signal) {
	if len(sigs) == 0 {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	go func() {
		<-ch
		HardKillNow(code)
	}()
}

// DestroyLive destroys every live context, caches drained first. Part of
// the documented teardown order (before EBR, the tracking tree, and the
// allocator); unlike the hard-kill path it does not exit.
func DestroyLive() {
	for _, c := range snapshotContexts() {
		c.Destroy()
	}
}

// HardKillNow runs the hard-kill sequence immediately, as the signal handler
// would. Exposed for callers that intercept signals themselves.
func HardKillNow(code int) {
	if hardKillLatch.Swap(true) {
		return
	}
	for _, c := range snapshotContexts() {
		if c.Graceful() {
			c.DrainCache()
		}
		c.Flush()
	}
	osExit(code)
}
