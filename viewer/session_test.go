package viewer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/gojoview/config"
	"github.com/sushant-115/gojoview/core/render/coordinator"
	"github.com/sushant-115/gojoview/core/render/pagesource"
)

// --- Test Helpers ---

const (
	pageWidthPt  = 595.0
	pageHeightPt = 842.0
)

type fixedDoc struct{ pages int }

func (d fixedDoc) PageCount() int { return d.pages }
func (d fixedDoc) NativePageSize(int) (float64, float64) {
	return pageWidthPt, pageHeightPt
}

// fakeRenderer produces bitmaps whose pixel dimensions match the native
// page size at the requested DPI, so measured geometry stays stable.
type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	fail  map[int]error
}

func (r *fakeRenderer) RenderPageToBitmap(ctx context.Context, pageIndex int, dpiX, dpiY float64, rotationDegrees int) (*pagesource.Bitmap, error) {
	r.mu.Lock()
	r.calls++
	failErr := r.fail[pageIndex]
	r.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	w := int(pageWidthPt * dpiX / 72.0)
	h := int(pageHeightPt * dpiY / 72.0)
	if rotationDegrees == 90 || rotationDegrees == 270 {
		w, h = h, w
	}
	return &pagesource.Bitmap{
		Width: w, Height: h,
		Pix:      make([]byte, w*h*4),
		DPIx:     dpiX,
		DPIy:     dpiY,
		Rotation: rotationDegrees,
	}, nil
}

func (r *fakeRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Cache.BudgetBytes = 1 << 30
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.DebounceWindow = -1 // immediate dispatch
	cfg.Pipeline.RetryBackoff = time.Millisecond
	cfg.Pipeline.RenderTimeout = time.Second
	return cfg
}

func newTestSession(t *testing.T, pages int, renderer pagesource.PageRenderer) *Session {
	t.Helper()
	if renderer == nil {
		renderer = &fakeRenderer{}
	}
	s := New(testConfig(), fixedDoc{pages: pages}, renderer, zap.NewNop(), nil)
	t.Cleanup(s.Close)
	return s
}

// pump drives the session's drain/dispatch loop until cond holds.
func pump(t *testing.T, s *Session, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.DrainCompletions()
		s.dispatch()
		return cond()
	}, 2*time.Second, 2*time.Millisecond)
}

// --- Test Cases ---

func TestScrollRealizesVisiblePages(t *testing.T) {
	s := newTestSession(t, 100, nil)

	// Three pages on screen starting at the top, plus a two-page buffer
	// below.
	s.OnScrollOrResize(0, 3*pageHeightPt-1)

	r, ok := s.VisibleRange()
	require.True(t, ok)
	require.Equal(t, 0, r.First)
	require.Equal(t, 4, r.Last)

	for page := 0; page <= 4; page++ {
		require.Equal(t, coordinator.StateRealizing, s.PageState(page))
	}

	pump(t, s, func() bool { return s.PageState(4) == coordinator.StateRealized })
	for page := 0; page <= 4; page++ {
		require.Equal(t, coordinator.StateRealized, s.PageState(page), "page %d", page)
		require.NotNil(t, s.CurrentBitmapFor(page))
	}
	require.Equal(t, 5, s.RealizedCount())
}

func TestRepeatScrollIsIdempotent(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestSession(t, 50, r)

	s.OnScrollOrResize(0, pageHeightPt)
	pump(t, s, func() bool { return s.PageState(0) == coordinator.StateRealized })
	calls := r.callCount()

	for i := 0; i < 5; i++ {
		s.OnScrollOrResize(0, pageHeightPt)
	}
	require.Equal(t, calls, r.callCount())
	require.Equal(t, coordinator.StateRealized, s.PageState(0))
}

func TestZoomChangeRealizesAtFinalZoom(t *testing.T) {
	s := newTestSession(t, 10, nil)
	s.OnScrollOrResize(0, pageHeightPt)
	pump(t, s, func() bool { return s.PageState(0) == coordinator.StateRealized })

	// Two rapid zoom changes; only the final factor should ever surface.
	s.OnZoomChanged(2.0)
	s.OnZoomChanged(3.0)

	pump(t, s, func() bool {
		bm := s.CurrentBitmapFor(0)
		return bm != nil && bm.DPIx == 3.0*72.0
	})
}

func TestZoomedBitmapServedFromCacheOnReturn(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestSession(t, 10, r)
	s.OnScrollOrResize(0, pageHeightPt)
	pump(t, s, func() bool { return s.PageState(0) == coordinator.StateRealized })

	s.OnZoomChanged(2.0)
	pump(t, s, func() bool {
		bm := s.CurrentBitmapFor(0)
		return bm != nil && bm.DPIx == 2.0*72.0
	})
	calls := r.callCount()

	// Returning to a zoom whose bitmaps are still cached renders nothing.
	s.OnZoomChanged(1.0)
	require.Equal(t, coordinator.StateRealized, s.PageState(0))
	require.Equal(t, calls, r.callCount())
	bm := s.CurrentBitmapFor(0)
	require.NotNil(t, bm)
	require.Equal(t, 72.0, bm.DPIx)
}

func TestRenderFailureSurfacesOnce(t *testing.T) {
	r := &fakeRenderer{fail: map[int]error{1: pagesource.ErrRenderPermanent}}
	s := newTestSession(t, 10, r)

	var mu sync.Mutex
	var failed []int
	s.SetCallbacks(nil, func(page int, _ error) {
		mu.Lock()
		failed = append(failed, page)
		mu.Unlock()
	})

	s.OnScrollOrResize(0, 2*pageHeightPt-1)
	pump(t, s, func() bool { return s.PageState(1) == coordinator.StateFailed })

	// More scrolling inside the same range must not retry or re-notify.
	for i := 0; i < 3; i++ {
		s.OnScrollOrResize(0, 2*pageHeightPt-1)
	}
	s.DrainCompletions()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1}, failed)
}

func TestRealizedCountBoundedOverLongScroll(t *testing.T) {
	s := newTestSession(t, 1000, nil)

	// Range is ~2 on-screen pages + 2 buffer each side = 6 pages; the
	// hysteresis margin defaults to buffer+2 on each side.
	bound := 6 + 2*(2+coordinator.DefaultHysteresisSlack)
	for _, offset := range []float64{0, 50 * pageHeightPt, 200 * pageHeightPt, 900 * pageHeightPt, 10 * pageHeightPt} {
		s.OnScrollOrResize(offset, 2*pageHeightPt-1)
		require.LessOrEqual(t, s.RealizedCount(), bound, "offset %.0f", offset)
	}
}

func TestDownwardScrollPrefetchesAhead(t *testing.T) {
	s := newTestSession(t, 100, nil)
	s.OnScrollOrResize(0, pageHeightPt)
	// A second scroll establishes a downward direction.
	s.OnScrollOrResize(pageHeightPt, pageHeightPt)

	r, ok := s.VisibleRange()
	require.True(t, ok)
	ahead := r.Last + 1

	// The page ahead gets its bitmap cached without ever being realized.
	pump(t, s, func() bool { return s.CurrentBitmapFor(ahead) != nil })
	require.Equal(t, coordinator.StateNotRealized, s.PageState(ahead))
}

func TestRotationChange(t *testing.T) {
	s := newTestSession(t, 10, nil)
	s.OnScrollOrResize(0, pageHeightPt)
	pump(t, s, func() bool { return s.PageState(0) == coordinator.StateRealized })
	heightBefore := s.TotalHeight()

	require.Error(t, s.OnRotationChanged(45))
	require.NoError(t, s.OnRotationChanged(90))

	// Quadrant rotation swaps page dimensions, shrinking the document.
	require.Less(t, s.TotalHeight(), heightBefore)

	pump(t, s, func() bool {
		bm := s.CurrentBitmapFor(0)
		return bm != nil && bm.Rotation == 90
	})
}

func TestCloseIsSynchronousAndFinal(t *testing.T) {
	s := newTestSession(t, 100, nil)
	s.OnScrollOrResize(0, 5*pageHeightPt)
	s.Close()

	require.Equal(t, 0, s.RealizedCount())
	require.Nil(t, s.CurrentBitmapFor(0))
	require.Equal(t, int64(0), s.CacheStats().ResidentBytes)

	// All further input is ignored.
	s.OnScrollOrResize(100, 5*pageHeightPt)
	s.OnZoomChanged(2.0)
	require.Equal(t, 0, s.RealizedCount())
	s.Close()
}

func TestScrollFraction(t *testing.T) {
	s := newTestSession(t, 10, nil)
	total := s.TotalHeight()
	require.InDelta(t, 10*pageHeightPt, total, 0.01)
	require.Equal(t, 0.0, s.ScrollFraction(-5))
	require.Equal(t, 1.0, s.ScrollFraction(total*2))
	require.InDelta(t, 0.5, s.ScrollFraction(total/2), 0.001)
}
