// Package mem implements the tiered, lifecycle-tracked allocator at the
// center of the toolkit, together with its two bookkeeping structures: the
// pointer registry (live user pointer -> block header) and the tracking tree
// (root allocations swept by a background goroutine under memory pressure).
//
// Every block is preceded by a cache-line-aligned header carrying a magic
// word, an XOR-fold checksum, creation and expiry ticks, access and pin
// counters, and optional start/end canaries. Header corruption is fatal:
// the process logs a single diagnostic line and aborts.
//
// Three tiers serve allocations by size: a slab-backed small pool (<= 128
// bytes of user data), a lock-free bump arena (<= 16 KiB), and per-block
// OS mappings for everything larger, optionally with huge pages. All tiers
// sit on memory obtained from the OS, never the Go heap, so headers can sit
// immediately before user bytes and pointers remain stable.
package mem
