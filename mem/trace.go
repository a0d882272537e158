package mem

import (
	"io"
	"os"
	"unsafe"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type used across the toolkit: the logiface
// facade over the stumpy JSON backend.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger builds a stumpy-backed JSON logger writing to w, at the given
// level. Trace events and sweeper diagnostics are one JSON object per line.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}

// traceEvent emits one JSON trace line for a block event when tracing is
// enabled globally or on the block itself.
func (a *Allocator) traceEvent(event string, h *header, ptr unsafe.Pointer) {
	if a.logger == nil {
		return
	}
	if !a.trace.Load() && h.flags.Load()&flagTrace == 0 {
		return
	}
	a.logger.Info().
		Str("event", event).
		Uint64("ptr", uint64(uintptr(ptr))).
		Uint64("size", h.size).
		Str("tier", h.tier.String()).
		Int64("expires", int64(h.expiresTick)).
		Log(`mem trace`)
}
