package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/gojoview/core/render/bitmapcache"
	"github.com/sushant-115/gojoview/core/render/cachekey"
	"github.com/sushant-115/gojoview/core/render/geometry"
	"github.com/sushant-115/gojoview/core/render/pagesource"
	"github.com/sushant-115/gojoview/core/render/scheduler"
)

// --- Test Helpers ---

type fixture struct {
	coord *Coordinator
	cache *bitmapcache.Cache
	codec *cachekey.Codec
	sched *scheduler.Scheduler

	realized []int
	failed   []int
}

func setupCoordinator(t *testing.T, hysteresis int) *fixture {
	t.Helper()
	f := &fixture{
		cache: bitmapcache.New(bitmapcache.Config{BudgetBytes: 1 << 24}, zap.NewNop(), nil),
		codec: cachekey.NewCodec(0),
		sched: scheduler.New(8, zap.NewNop()),
	}
	f.coord = New(f.cache, f.codec, f.sched, hysteresis, zap.NewNop(), nil)
	f.coord.SetCallbacks(
		func(page int) { f.realized = append(f.realized, page) },
		func(page int, _ error) { f.failed = append(f.failed, page) },
	)
	return f
}

func testBitmap() *pagesource.Bitmap {
	return &pagesource.Bitmap{Width: 10, Height: 10, Pix: make([]byte, 400)}
}

// completeNext pops the next scheduled request and feeds its result back.
func (f *fixture) completeNext(t *testing.T, renderErr error) int {
	t.Helper()
	req := f.sched.Next()
	require.NotNil(t, req, "expected a scheduled render")
	f.sched.Done(req.PageIndex)
	var bm *pagesource.Bitmap
	if renderErr == nil {
		bm = testBitmap()
		key, err := f.codec.Key(req.PageIndex, req.ZoomFactor, req.Rotation)
		require.NoError(t, err)
		require.NoError(t, f.cache.Put(key, bm, req.ZoomFactor, req.Rotation))
	}
	f.coord.ApplyCompletion(req.PageIndex, req.Generation, req.ZoomFactor, req.Rotation, bm, renderErr)
	return req.PageIndex
}

// --- Test Cases ---

func TestApplyRangeRealizesColdPages(t *testing.T) {
	f := setupCoordinator(t, 4)
	f.coord.ApplyRange(geometry.Range{First: 3, Last: 7}, 100)

	for page := 3; page <= 7; page++ {
		require.Equal(t, StateRealizing, f.coord.StateOf(page))
	}
	require.Equal(t, 5, f.sched.Pending())
	require.Equal(t, 5, f.coord.RealizedCount())
	require.Equal(t, StateNotRealized, f.coord.StateOf(2))
	require.Equal(t, StateNotRealized, f.coord.StateOf(8))
}

func TestCacheHitRealizesImmediately(t *testing.T) {
	f := setupCoordinator(t, 4)
	bm := testBitmap()
	key, err := f.codec.Key(5, 1.0, 0)
	require.NoError(t, err)
	require.NoError(t, f.cache.Put(key, bm, 1.0, 0))

	f.coord.ApplyRange(geometry.Range{First: 5, Last: 5}, 100)

	require.Equal(t, StateRealized, f.coord.StateOf(5))
	require.Same(t, bm, f.coord.CurrentBitmapFor(5))
	require.Equal(t, []int{5}, f.realized)
	require.Equal(t, 0, f.sched.Pending())
}

func TestCompletionRealizesPage(t *testing.T) {
	f := setupCoordinator(t, 4)
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 0}, 100)

	page := f.completeNext(t, nil)
	require.Equal(t, 0, page)
	require.Equal(t, StateRealized, f.coord.StateOf(0))
	require.Equal(t, []int{0}, f.realized)
	require.NotNil(t, f.coord.CurrentBitmapFor(0))
}

func TestStaleCompletionDropped(t *testing.T) {
	f := setupCoordinator(t, 4)
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 0}, 100)

	req := f.sched.Next()
	require.NotNil(t, req)
	staleGen := req.Generation

	// A newer request for the same page supersedes the in-flight one.
	f.sched.Schedule(0, 2.0, 0)
	f.sched.Done(0)

	f.coord.ApplyCompletion(0, staleGen, 1.0, 0, testBitmap(), nil)
	require.Equal(t, StateRealizing, f.coord.StateOf(0))
	require.Empty(t, f.realized)
}

func TestFailedPageDoesNotRetryWhileInRange(t *testing.T) {
	f := setupCoordinator(t, 4)
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 0}, 100)
	f.completeNext(t, pagesource.ErrRenderPermanent)

	require.Equal(t, StateFailed, f.coord.StateOf(0))
	require.Equal(t, []int{0}, f.failed)

	// Re-applying the same range must not reschedule or re-notify.
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 0}, 100)
	require.Equal(t, StateFailed, f.coord.StateOf(0))
	require.Equal(t, 0, f.sched.Pending())
	require.Len(t, f.failed, 1)
}

func TestFailedPageRetriesAfterLeavingRange(t *testing.T) {
	f := setupCoordinator(t, 2)
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 0}, 100)
	f.completeNext(t, pagesource.ErrRenderPermanent)
	require.Equal(t, StateFailed, f.coord.StateOf(0))

	// Scroll far past the hysteresis margin, then back.
	f.coord.ApplyRange(geometry.Range{First: 20, Last: 24}, 100)
	require.Equal(t, StatePlaceholder, f.coord.StateOf(0))

	f.coord.ApplyRange(geometry.Range{First: 0, Last: 0}, 100)
	require.Equal(t, StateRealizing, f.coord.StateOf(0))
}

func TestHysteresisKeepsNearbyPagesRealized(t *testing.T) {
	f := setupCoordinator(t, 3)
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 4}, 100)
	for range [5]struct{}{} {
		f.completeNext(t, nil)
	}

	// Shift by two pages: pages 0 and 1 are outside the new range but well
	// within the hysteresis margin, so their widgets survive.
	f.coord.ApplyRange(geometry.Range{First: 2, Last: 6}, 100)
	require.Equal(t, StateRealized, f.coord.StateOf(0))
	require.Equal(t, StateRealized, f.coord.StateOf(1))

	// A long jump demotes everything left behind.
	f.coord.ApplyRange(geometry.Range{First: 50, Last: 54}, 100)
	for page := 0; page <= 6; page++ {
		require.Equal(t, StatePlaceholder, f.coord.StateOf(page), "page %d", page)
	}
}

func TestRealizedCountBoundedOnFreshRange(t *testing.T) {
	f := setupCoordinator(t, 4)
	r := geometry.Range{First: 8, Last: 17}
	f.coord.ApplyRange(r, 1000)
	require.Equal(t, r.Len(), f.coord.RealizedCount())

	// Jumping around a long document never accumulates realizations beyond
	// the range plus the hysteresis margin.
	for _, first := range []int{100, 300, 700, 42} {
		f.coord.ApplyRange(geometry.Range{First: first, Last: first + 9}, 1000)
		require.LessOrEqual(t, f.coord.RealizedCount(), r.Len()+2*4)
	}
}

func TestParamsChangeRevalidatesWithoutDestroying(t *testing.T) {
	f := setupCoordinator(t, 4)
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 1}, 100)
	f.completeNext(t, nil)
	f.completeNext(t, nil)
	require.Equal(t, StateRealized, f.coord.StateOf(0))

	// Warm the cache for page 0 at the new zoom before switching.
	warm := testBitmap()
	key, err := f.codec.Key(0, 2.0, 0)
	require.NoError(t, err)
	require.NoError(t, f.cache.Put(key, warm, 2.0, 0))

	f.coord.OnParamsChanged(2.0, 0)

	// Page 0 re-realizes from cache; page 1 must re-render.
	require.Equal(t, StateRealized, f.coord.StateOf(0))
	require.Same(t, warm, f.coord.CurrentBitmapFor(0))
	require.Equal(t, StateRealizing, f.coord.StateOf(1))
	require.Equal(t, 1, f.sched.Pending())
}

func TestHysteresisPageRevalidatedOnReentry(t *testing.T) {
	f := setupCoordinator(t, 5)
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 0}, 100)
	f.completeNext(t, nil)
	require.Equal(t, StateRealized, f.coord.StateOf(0))

	// Page 0 drifts into the hysteresis zone, zoom changes while it is out
	// of range, then it scrolls back in.
	f.coord.ApplyRange(geometry.Range{First: 3, Last: 4}, 100)
	require.Equal(t, StateRealized, f.coord.StateOf(0))
	f.coord.OnParamsChanged(2.0, 0)

	f.coord.ApplyRange(geometry.Range{First: 0, Last: 1}, 100)
	require.Equal(t, StateRealizing, f.coord.StateOf(0))
}

func TestCompletionForDepartedPageIsIgnored(t *testing.T) {
	f := setupCoordinator(t, 0)
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 0}, 100)
	req := f.sched.Next()
	require.NotNil(t, req)

	f.coord.ApplyRange(geometry.Range{First: 10, Last: 10}, 100)
	f.sched.Done(req.PageIndex)
	f.coord.ApplyCompletion(req.PageIndex, req.Generation, req.ZoomFactor, req.Rotation, testBitmap(), nil)

	require.Equal(t, StatePlaceholder, f.coord.StateOf(0))
	require.Empty(t, f.realized)
}

func TestResetDestroysAllPages(t *testing.T) {
	f := setupCoordinator(t, 4)
	f.coord.ApplyRange(geometry.Range{First: 0, Last: 3}, 100)
	f.completeNext(t, nil)

	f.coord.Reset()
	require.Equal(t, 0, f.coord.RealizedCount())
	for page := 0; page <= 3; page++ {
		require.Equal(t, StateNotRealized, f.coord.StateOf(page))
	}
}
