//go:build unix && !linux

package mem

// MADV_HUGEPAGE is linux-only; elsewhere the huge-page request is a no-op.
func madviseHuge(b []byte) error { return nil }
