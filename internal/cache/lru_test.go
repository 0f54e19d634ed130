package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobKey(name string) Key {
	return Key{Kind: KindBlob, Name: name}
}

func TestLRU(t *testing.T) {
	ctx := context.Background()

	t.Run("Get and Set basics", func(t *testing.T) {
		c := NewLRU(64)

		_, ok := c.Get(ctx, blobKey("a"))
		assert.False(t, ok)

		c.Set(ctx, blobKey("a"), []byte("payload"))
		got, ok := c.Get(ctx, blobKey("a"))
		require.True(t, ok)
		assert.Equal(t, []byte("payload"), got)

		hits, misses := c.Stats()
		assert.Equal(t, int64(1), hits)
		assert.Equal(t, int64(1), misses)
		assert.Equal(t, int64(7), c.Size())
	})

	t.Run("Evicts least recently used", func(t *testing.T) {
		c := NewLRU(10)

		c.Set(ctx, blobKey("a"), []byte("aaaa"))
		c.Set(ctx, blobKey("b"), []byte("bbbb"))

		// Touch a so b becomes the eviction candidate.
		_, ok := c.Get(ctx, blobKey("a"))
		require.True(t, ok)

		c.Set(ctx, blobKey("c"), []byte("cccc"))

		_, ok = c.Get(ctx, blobKey("b"))
		assert.False(t, ok)
		_, ok = c.Get(ctx, blobKey("a"))
		assert.True(t, ok)
		_, ok = c.Get(ctx, blobKey("c"))
		assert.True(t, ok)
		assert.Equal(t, int64(8), c.Size())
	})

	t.Run("Updating a key adjusts size", func(t *testing.T) {
		c := NewLRU(10)

		c.Set(ctx, blobKey("a"), []byte("aa"))
		c.Set(ctx, blobKey("a"), []byte("aaaaaa"))
		assert.Equal(t, int64(6), c.Size())

		got, ok := c.Get(ctx, blobKey("a"))
		require.True(t, ok)
		assert.Equal(t, []byte("aaaaaa"), got)
	})

	t.Run("Oversized artifact is not admitted", func(t *testing.T) {
		c := NewLRU(4)

		c.Set(ctx, blobKey("big"), []byte("too large"))
		_, ok := c.Get(ctx, blobKey("big"))
		assert.False(t, ok)
		assert.Equal(t, int64(0), c.Size())
	})

	t.Run("Invalidate by predicate", func(t *testing.T) {
		c := NewLRU(64)

		c.Set(ctx, Key{Kind: KindBlob, Name: "a"}, []byte("aa"))
		c.Set(ctx, Key{Kind: KindCheckpoint, Name: "b"}, []byte("bb"))

		c.Invalidate(func(key Key) bool { return key.Kind == KindBlob })

		_, ok := c.Get(ctx, Key{Kind: KindBlob, Name: "a"})
		assert.False(t, ok)
		_, ok = c.Get(ctx, Key{Kind: KindCheckpoint, Name: "b"})
		assert.True(t, ok)
	})
}
