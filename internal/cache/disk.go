package cache

import (
	"container/list"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// artifactExt marks completed cache files so the startup scan can tell
// them apart from abandoned temp files.
const artifactExt = ".bin"

// DiskCacheConfig holds configuration for the disk cache.
type DiskCacheConfig struct {
	// RootDir is the directory where cache files are stored.
	RootDir string
	// MaxSizeBytes is the maximum size of the cache in bytes.
	MaxSizeBytes int64
	// MaxConcurrentWrites limits background disk writes to prevent
	// unbounded goroutines. Defaults to 16 if <= 0.
	MaxConcurrentWrites int64
}

// DiskCache implements Cache backed by the local filesystem. It keeps an
// in-memory LRU index of the files on disk and rebuilds it on startup,
// so checkpoints pulled from cloud storage survive a process restart.
type DiskCache struct {
	mu          sync.Mutex
	rootDir     string
	maxSize     int64
	currentSize int64
	items       map[Key]*list.Element
	evictList   *list.List

	// writeSem bounds concurrent background writes.
	writeSem *semaphore.Weighted
	wg       sync.WaitGroup

	hits   atomic.Int64
	misses atomic.Int64
}

// Compile-time check.
var _ Cache = (*DiskCache)(nil)

type diskEntry struct {
	key  Key
	size int64
	path string
}

// NewDiskCache creates a disk-backed cache rooted at config.RootDir.
// Existing cache files are indexed synchronously so Get never misses an
// artifact that survived a restart.
func NewDiskCache(config DiskCacheConfig) (*DiskCache, error) {
	if err := os.MkdirAll(config.RootDir, 0o755); err != nil {
		return nil, err
	}

	maxWrites := config.MaxConcurrentWrites
	if maxWrites <= 0 {
		maxWrites = 16
	}

	c := &DiskCache{
		rootDir:   config.RootDir,
		maxSize:   config.MaxSizeBytes,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
		writeSem:  semaphore.NewWeighted(maxWrites),
	}
	c.scanExistingFiles()
	return c, nil
}

func (c *DiskCache) scanExistingFiles() {
	_ = filepath.WalkDir(c.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // keep scanning past unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		key, ok := c.parsePathToKey(path)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr
		}
		c.addEntry(key, path, info.Size())
		return nil
	})
}

// encodeKeyToRelPath maps a key to <kind>/<name>.bin, preserving any
// directory structure inside the name.
func (c *DiskCache) encodeKeyToRelPath(key Key) string {
	return filepath.Join(key.Kind.String(), filepath.FromSlash(key.Name)) + artifactExt
}

func (c *DiskCache) parsePathToKey(absPath string) (Key, bool) {
	relPath, err := filepath.Rel(c.rootDir, absPath)
	if err != nil {
		return Key{}, false
	}
	rel := filepath.ToSlash(relPath)

	name, ok := strings.CutSuffix(rel, artifactExt)
	if !ok {
		return Key{}, false
	}
	kindDir, name, ok := strings.Cut(name, "/")
	if !ok || name == "" {
		return Key{}, false
	}

	var kind Kind
	switch kindDir {
	case KindBlob.String():
		kind = KindBlob
	case KindCheckpoint.String():
		kind = KindCheckpoint
	default:
		return Key{}, false
	}
	return Key{Kind: kind, Name: name}, true
}

// cacheableName rejects names that would escape the cache root.
func cacheableName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// Get returns a cached artifact, reading it back from disk.
func (c *DiskCache) Get(_ context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	element, ok := c.items[key]
	var path string
	if ok {
		c.evictList.MoveToFront(element)
		path = element.Value.(*diskEntry).path
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// File vanished underneath us; drop the index entry.
		c.mu.Lock()
		if element, ok := c.items[key]; ok {
			c.removeElement(element)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return data, true
}

// Set schedules a background write of the artifact. The index is only
// updated once the file is durably in place, so a concurrent Get misses
// and falls through to the backend during warm-up.
func (c *DiskCache) Set(_ context.Context, key Key, b []byte) {
	if !cacheableName(key.Name) {
		return
	}
	size := int64(len(b))
	if size > c.maxSize {
		return
	}

	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		// Artifacts are immutable; refresh recency and keep the file.
		c.evictList.MoveToFront(element)
		c.mu.Unlock()
		return
	}
	for c.currentSize+size > c.maxSize {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}
	c.mu.Unlock()

	// A full write queue just means this artifact is not cached.
	if !c.writeSem.TryAcquire(1) {
		return
	}

	absPath := filepath.Join(c.rootDir, c.encodeKeyToRelPath(key))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.writeSem.Release(1)

		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return
		}
		tmp, err := os.CreateTemp(filepath.Dir(absPath), "tmp-art-*")
		if err != nil {
			return
		}
		tmpName := tmp.Name()
		defer func() {
			if tmpName != "" {
				_ = os.Remove(tmpName)
			}
		}()

		if _, err := tmp.Write(b); err != nil {
			_ = tmp.Close()
			return
		}
		if err := tmp.Close(); err != nil {
			return
		}
		if err := os.Rename(tmpName, absPath); err != nil {
			return
		}
		tmpName = ""

		c.addEntry(key, absPath, size)
	}()
}

// addEntry registers a durably written file in the LRU index.
func (c *DiskCache) addEntry(key Key, path string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		return
	}
	element := c.evictList.PushFront(&diskEntry{key: key, size: size, path: path})
	c.items[key] = element
	c.currentSize += size
}

// Invalidate removes entries matching the predicate, deleting their
// files.
func (c *DiskCache) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, element := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, element)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
}

// removeElement drops an index entry and its backing file.
// Callers must hold c.mu.
func (c *DiskCache) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	ent := e.Value.(*diskEntry)
	delete(c.items, ent.key)
	c.currentSize -= ent.size
	_ = os.Remove(ent.path)
}

// Close waits for in-flight background writes to finish.
func (c *DiskCache) Close() error {
	c.wg.Wait()
	return nil
}

// Stats returns hit and miss counts.
func (c *DiskCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the current on-disk payload size in bytes.
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}
