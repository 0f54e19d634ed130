// Package mmap provides read-only memory-mapped file access.
//
// Checkpoint and blob reads go through a Mapping so whole weight files
// need not be buffered on the heap; the kernel pages data in as it is
// touched, and Advise forwards access-pattern hints where the platform
// supports them (madvise on Unix, a no-op on Windows).
//
// The slice returned by Bytes is valid until Close. Close is idempotent,
// but callers must ensure no goroutine touches the slice after Close
// returns.
package mmap
