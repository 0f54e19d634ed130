// Package cache provides LRU caching for immutable artifacts.
//
// # Memory Cache
//
// LRU keeps recently read artifacts (typically encoded checkpoints) in
// RAM with a byte-size bound and strict LRU eviction.
//
// # Disk Cache (L2)
//
// For cloud storage backends, DiskCache provides a persistent L2 cache:
//   - Async writes so cache fills never block the read path
//   - LRU eviction with a configurable size limit
//   - Rebuilds its index from disk on startup
package cache
