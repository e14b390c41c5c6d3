package bitmapcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/gojoview/core/render/cachekey"
	"github.com/sushant-115/gojoview/core/render/pagesource"
)

// --- Test Helpers ---

func setupCache(t *testing.T, budget int64, maxEntries int) (*Cache, *cachekey.Codec) {
	t.Helper()
	c := New(Config{BudgetBytes: budget, MaxEntries: maxEntries}, zap.NewNop(), nil)
	return c, cachekey.NewCodec(0)
}

// testBitmap builds a bitmap of the requested pixel dimensions. Size in
// bytes is width*height*4.
func testBitmap(w, h int) *pagesource.Bitmap {
	return &pagesource.Bitmap{Width: w, Height: h, Pix: make([]byte, w*h*4)}
}

func mustKey(t *testing.T, codec *cachekey.Codec, page int, zoom float64, rot int) cachekey.Key {
	t.Helper()
	k, err := codec.Key(page, zoom, rot)
	require.NoError(t, err)
	return k
}

// --- Test Cases ---

func TestPutGetRoundTrip(t *testing.T) {
	c, codec := setupCache(t, 1<<20, 0)
	key := mustKey(t, codec, 3, 1.0, 0)
	bm := testBitmap(100, 100)

	require.NoError(t, c.Put(key, bm, 1.0, 0))
	got := c.Get(key)
	require.Same(t, bm, got)

	stats := c.Stats()
	require.Equal(t, 1, stats.Items)
	require.Equal(t, bm.SizeBytes(), stats.ResidentBytes)
	require.Equal(t, uint64(1), stats.Hits)
}

func TestGetMiss(t *testing.T) {
	c, codec := setupCache(t, 1<<20, 0)
	require.Nil(t, c.Get(mustKey(t, codec, 0, 1.0, 0)))
	require.Equal(t, uint64(1), c.Stats().Misses)
}

func TestPutInvalidBitmapIsNoOp(t *testing.T) {
	c, codec := setupCache(t, 1<<20, 0)
	key := mustKey(t, codec, 0, 1.0, 0)

	require.ErrorIs(t, c.Put(key, nil, 1.0, 0), ErrInvalidBitmap)
	require.ErrorIs(t, c.Put(key, &pagesource.Bitmap{}, 1.0, 0), ErrInvalidBitmap)
	require.Equal(t, 0, c.Len())
}

func TestPutOversizedBitmapRejected(t *testing.T) {
	c, codec := setupCache(t, 1024, 0)
	key := mustKey(t, codec, 0, 1.0, 0)

	// 100x100x4 bytes is far over a 1KiB budget.
	require.ErrorIs(t, c.Put(key, testBitmap(100, 100), 1.0, 0), ErrBitmapTooLarge)
	require.Equal(t, 0, c.Len())
}

// TestBudgetNeverExceeded is the core guarantee: after every Put, resident
// memory is at or under the configured budget.
func TestBudgetNeverExceeded(t *testing.T) {
	// Budget fits exactly 10 bitmaps of 64x64.
	perBitmap := int64(64 * 64 * 4)
	c, codec := setupCache(t, perBitmap*10, 0)

	for page := 0; page < 100; page++ {
		key := mustKey(t, codec, page, 1.0, 0)
		require.NoError(t, c.Put(key, testBitmap(64, 64), 1.0, 0))
		require.LessOrEqual(t, c.ResidentBytes(), perBitmap*10,
			"budget exceeded after inserting page %d", page)
	}
	require.LessOrEqual(t, c.Len(), 10)
}

func TestReplaceSameKeyAdjustsResidentBytes(t *testing.T) {
	c, codec := setupCache(t, 1<<20, 0)
	key := mustKey(t, codec, 0, 1.0, 0)

	require.NoError(t, c.Put(key, testBitmap(10, 10), 1.0, 0))
	require.NoError(t, c.Put(key, testBitmap(20, 20), 1.0, 0))

	require.Equal(t, 1, c.Len())
	require.Equal(t, int64(20*20*4), c.ResidentBytes())
}

// TestSequentialScrollEvictsOldestPages replays a steady forward scroll:
// with room for 50 bitmaps, rendering pages 0..59 while the visible range
// slides forward must leave the earliest pages evicted.
func TestSequentialScrollEvictsOldestPages(t *testing.T) {
	perBitmap := int64(32 * 32 * 4)
	c, codec := setupCache(t, perBitmap*50, 100)

	keys := make([]cachekey.Key, 60)
	for page := 0; page < 60; page++ {
		// Simulate the viewport following the insertion point.
		first := page - 5
		if first < 0 {
			first = 0
		}
		c.SetVisibleRange(first, page)

		keys[page] = mustKey(t, codec, page, 1.0, 0)
		require.NoError(t, c.Put(keys[page], testBitmap(32, 32), 1.0, 0))
	}

	require.LessOrEqual(t, c.Len(), 50)
	for page := 0; page < 10; page++ {
		require.False(t, c.Contains(keys[page]), "page %d should have been evicted", page)
	}
	// The tail of the scroll is still resident.
	for page := 55; page < 60; page++ {
		require.True(t, c.Contains(keys[page]), "page %d should still be cached", page)
	}
}

// TestSpatialLocalityBeatsRecency: a page far outside the visible window is
// evicted before a page just outside it, even when the distant page was
// touched more recently.
func TestSpatialLocalityBeatsRecency(t *testing.T) {
	perBitmap := int64(32 * 32 * 4)
	c, codec := setupCache(t, perBitmap*2, 10)
	c.SetVisibleRange(10, 15)

	near := mustKey(t, codec, 16, 1.0, 0) // one page below the window
	far := mustKey(t, codec, 100, 1.0, 0) // far above it

	require.NoError(t, c.Put(near, testBitmap(32, 32), 1.0, 0))
	require.NoError(t, c.Put(far, testBitmap(32, 32), 1.0, 0))
	// far is now the most recently used entry.

	// Inserting a third bitmap forces one eviction; distance must win.
	require.NoError(t, c.Put(mustKey(t, codec, 12, 1.0, 0), testBitmap(32, 32), 1.0, 0))

	require.True(t, c.Contains(near))
	require.False(t, c.Contains(far))
}

func TestClear(t *testing.T) {
	c, codec := setupCache(t, 1<<20, 0)
	for page := 0; page < 5; page++ {
		require.NoError(t, c.Put(mustKey(t, codec, page, 1.0, 0), testBitmap(16, 16), 1.0, 0))
	}
	c.Clear()
	require.Equal(t, 0, c.Len())
	require.Equal(t, int64(0), c.ResidentBytes())

	// The cache is usable after a clear.
	require.NoError(t, c.Put(mustKey(t, codec, 0, 1.0, 0), testBitmap(16, 16), 1.0, 0))
	require.Equal(t, 1, c.Len())
}

func TestRemove(t *testing.T) {
	c, codec := setupCache(t, 1<<20, 0)
	key := mustKey(t, codec, 0, 1.0, 0)
	require.NoError(t, c.Put(key, testBitmap(16, 16), 1.0, 0))

	c.Remove(key)
	require.False(t, c.Contains(key))
	require.Equal(t, int64(0), c.ResidentBytes())

	// Removing an absent key is harmless.
	c.Remove(key)
}

// TestLRUOrderWithUniformImportance confirms the underlying LRU order drives
// eviction when no entry has a spatial or frequency edge.
func TestLRUOrderWithUniformImportance(t *testing.T) {
	perBitmap := int64(16 * 16 * 4)
	c, codec := setupCache(t, perBitmap*3, 10)

	// Pin lastAccess so recency differences inside the sample vanish.
	fixed := time.Now()
	c.now = func() time.Time { return fixed }

	k0 := mustKey(t, codec, 0, 1.0, 0)
	k1 := mustKey(t, codec, 1, 1.0, 0)
	k2 := mustKey(t, codec, 2, 1.0, 0)
	require.NoError(t, c.Put(k0, testBitmap(16, 16), 1.0, 0))
	require.NoError(t, c.Put(k1, testBitmap(16, 16), 1.0, 0))
	require.NoError(t, c.Put(k2, testBitmap(16, 16), 1.0, 0))

	// Touch k0 twice; its frequency component now protects it.
	c.Get(k0)
	c.Get(k0)

	require.NoError(t, c.Put(mustKey(t, codec, 3, 1.0, 0), testBitmap(16, 16), 1.0, 0))
	require.True(t, c.Contains(k0))
	require.False(t, c.Contains(k1))
}
