// Package viewer assembles the render engine behind a single facade the UI
// layer drives. A Session owns the cache, geometry model, scheduler,
// pipeline and page coordinator; all of its methods must be called from one
// goroutine (the one servicing user input), mirroring how the components
// themselves are written. Only the pipeline runs concurrent work, and it
// hands results back through a completion queue the session drains.
package viewer

import (
	"math"

	"go.uber.org/zap"

	"github.com/sushant-115/gojoview/config"
	"github.com/sushant-115/gojoview/core/render/bitmapcache"
	"github.com/sushant-115/gojoview/core/render/cachekey"
	"github.com/sushant-115/gojoview/core/render/coordinator"
	"github.com/sushant-115/gojoview/core/render/dpi"
	"github.com/sushant-115/gojoview/core/render/geometry"
	"github.com/sushant-115/gojoview/core/render/pagesource"
	"github.com/sushant-115/gojoview/core/render/pipeline"
	"github.com/sushant-115/gojoview/core/render/scheduler"
	internaltelemetry "github.com/sushant-115/gojoview/internal/telemetry"
)

// Session drives page virtualization and rendering for one open document.
// Scroll offsets and viewport heights are in document points; the UI layer
// applies its own zoom transform when positioning widgets.
type Session struct {
	logger  *zap.Logger
	metrics *internaltelemetry.RenderMetrics

	doc      pagesource.DocumentSource
	codec    *cachekey.Codec
	cache    *bitmapcache.Cache
	model    *geometry.Model
	calc     *geometry.Calculator
	sched    *scheduler.Scheduler
	pipe     *pipeline.Pipeline
	dpiCache *dpi.Cache
	coord    *coordinator.Coordinator

	zoomFactor       float64
	rotation         int
	lastScrollOffset float64
	viewportHeight   float64
	closed           bool
}

// New wires a session for the given document and renderer. The renderer is
// only ever invoked from pipeline workers.
func New(cfg config.Config, doc pagesource.DocumentSource, renderer pagesource.PageRenderer, logger *zap.Logger, metrics *internaltelemetry.RenderMetrics) *Session {
	model := geometry.NewModel(doc.PageCount(), logger)
	for i := 0; i < doc.PageCount(); i++ {
		if w, h := doc.NativePageSize(i); w > 0 && h > 0 {
			// Errors are impossible here: the index and dimensions are
			// already validated.
			_ = model.RecordMeasuredHeight(i, w, h)
		}
	}

	dpiOpts := []dpi.Option{
		dpi.WithDevicePixelRatio(cfg.Viewer.DevicePixelRatio),
		dpi.WithQualityMultiplier(cfg.Viewer.QualityMultiplier),
	}
	if cfg.Viewer.MaxRenderDPI > 0 {
		dpiOpts = append(dpiOpts, dpi.WithMaxDPI(cfg.Viewer.MaxRenderDPI))
	}
	dpiCache := dpi.NewCache(dpiOpts...)

	hysteresis := cfg.Viewer.HysteresisPages
	if hysteresis <= 0 {
		hysteresis = cfg.Viewer.BufferPages + coordinator.DefaultHysteresisSlack
	}

	codec := cachekey.NewCodec(cfg.Viewer.ZoomTableSize)
	cache := bitmapcache.New(cfg.Cache, logger, metrics)
	sched := scheduler.New(cfg.Viewer.MaxInFlight, logger)

	s := &Session{
		logger:     logger,
		metrics:    metrics,
		doc:        doc,
		codec:      codec,
		cache:      cache,
		model:      model,
		calc:       geometry.NewCalculator(model, cfg.Viewer.BufferPages),
		sched:      sched,
		pipe:       pipeline.New(cfg.Pipeline, renderer, dpiCache, logger, metrics),
		dpiCache:   dpiCache,
		coord:      coordinator.New(cache, codec, sched, hysteresis, logger, metrics),
		zoomFactor: 1.0,
	}
	return s
}

// SetCallbacks registers UI hooks fired when a page gains a displayable
// bitmap or fails to render. Either may be nil.
func (s *Session) SetCallbacks(onRealized func(pageIndex int), onFailed func(pageIndex int, reason error)) {
	s.coord.SetCallbacks(onRealized, onFailed)
}

// OnScrollOrResize is the single entry point for viewport changes. It drains
// finished renders, recomputes the visible range and reconciles page states.
// Calling it again with an unchanged viewport does no widget work.
func (s *Session) OnScrollOrResize(scrollOffset, viewportHeight float64) {
	if s.closed {
		return
	}
	s.DrainCompletions()

	direction := 0
	if scrollOffset > s.lastScrollOffset {
		direction = 1
	} else if scrollOffset < s.lastScrollOffset {
		direction = -1
	}
	s.lastScrollOffset = scrollOffset
	s.viewportHeight = viewportHeight

	r, changed := s.calc.VisibleRange(scrollOffset, viewportHeight)
	if !changed {
		s.dispatch()
		return
	}

	s.logger.Debug("visible range changed",
		zap.Int("first", r.First),
		zap.Int("last", r.Last),
		zap.Int("direction", direction))

	s.cache.SetVisibleRange(r.First, r.Last)
	s.sched.SetViewport(r.Center(), direction)
	// Cancel at the demotion boundary, not the range itself: pages in the
	// hysteresis zone keep their widgets and still want their bitmaps.
	s.sched.CancelOutsideRange(r.Expand(s.coord.HysteresisPages(), s.model.PageCount()))
	s.coord.ApplyRange(r, s.model.PageCount())
	s.prefetch(r, direction)
	s.dispatch()
}

// prefetch warms the cache one page past the range in the direction of
// travel. The page gets no widget; its completion lands in the cache and is
// picked up instantly if the scroll continues.
func (s *Session) prefetch(r geometry.Range, direction int) {
	if direction == 0 {
		return
	}
	page := r.Last + 1
	if direction < 0 {
		page = r.First - 1
	}
	if page < 0 || page >= s.model.PageCount() {
		return
	}
	switch s.coord.StateOf(page) {
	case coordinator.StateRealizing, coordinator.StateRealized:
		return
	}
	key, err := s.codec.Key(page, s.zoomFactor, s.rotation)
	if err != nil || s.cache.Contains(key) {
		return
	}
	s.sched.Schedule(page, s.zoomFactor, s.rotation)
}

// OnZoomChanged re-keys every page at the new zoom factor. Realized widgets
// survive; each re-checks the cache and re-renders only on miss.
func (s *Session) OnZoomChanged(zoomFactor float64) {
	if s.closed || zoomFactor <= 0 || zoomFactor == s.zoomFactor {
		return
	}
	s.DrainCompletions()
	s.zoomFactor = zoomFactor
	s.coord.OnParamsChanged(s.zoomFactor, s.rotation)
	s.dispatch()
}

// OnRotationChanged rotates the whole document. Quadrant rotations swap page
// dimensions, so the visible range is recomputed as well.
func (s *Session) OnRotationChanged(degrees int) error {
	if s.closed {
		return nil
	}
	normalized, err := cachekey.NormalizeRotation(degrees)
	if err != nil {
		return err
	}
	if normalized == s.rotation {
		return nil
	}
	s.DrainCompletions()
	if err := s.model.SetRotation(normalized); err != nil {
		return err
	}
	s.rotation = normalized
	s.coord.OnParamsChanged(s.zoomFactor, s.rotation)

	// Page heights changed, so the same scroll position may now cover a
	// different page range.
	s.calc.Invalidate()
	s.OnScrollOrResize(s.lastScrollOffset, s.viewportHeight)
	return nil
}

// DrainCompletions applies every finished render currently queued, without
// blocking. The UI should call this from its frame tick or wake it on the
// pipeline's completion signal.
func (s *Session) DrainCompletions() {
	for {
		select {
		case c, ok := <-s.pipe.Completions():
			if !ok {
				return
			}
			s.applyCompletion(c)
		default:
			return
		}
	}
}

func (s *Session) applyCompletion(c pipeline.Completion) {
	s.sched.Done(c.PageIndex)

	if c.Err == nil && c.Bitmap.Valid() {
		key, err := s.codec.Key(c.PageIndex, c.ZoomFactor, c.Rotation)
		if err != nil {
			s.logger.Error("unencodable completion", zap.Int("page", c.PageIndex), zap.Error(err))
			return
		}
		if err := s.cache.Put(key, c.Bitmap, c.ZoomFactor, c.Rotation); err != nil {
			s.logger.Warn("bitmap not cached",
				zap.Int("page", c.PageIndex),
				zap.Error(err))
		}
		s.recordMeasuredSize(c)
	}

	s.coord.ApplyCompletion(c.PageIndex, c.Generation, c.ZoomFactor, c.Rotation, c.Bitmap, c.Err)
}

// recordMeasuredSize feeds the page's true size back into the geometry
// model, converting pixels at render DPI to document points. Bitmap
// dimensions for quadrant rotations are swapped back to pre-rotation order.
func (s *Session) recordMeasuredSize(c pipeline.Completion) {
	b := c.Bitmap
	if b.DPIx <= 0 || b.DPIy <= 0 {
		return
	}
	w := float64(b.Width) * 72.0 / b.DPIx
	h := float64(b.Height) * 72.0 / b.DPIy
	quadrant := c.Rotation / 90
	if quadrant%2 == 1 {
		w, h = h, w
	}
	if err := s.model.RecordMeasuredHeight(c.PageIndex, w, h); err != nil {
		s.logger.Debug("measured size rejected", zap.Int("page", c.PageIndex), zap.Error(err))
	}
}

// dispatch feeds the pipeline from the scheduler queue up to the in-flight
// bound.
func (s *Session) dispatch() {
	for s.sched.HasCapacity() {
		req := s.sched.Next()
		if req == nil {
			return
		}
		s.pipe.Submit(req)
	}
}

// CurrentBitmapFor returns the displayable bitmap for a page under the
// current zoom and rotation, or nil when none is ready.
func (s *Session) CurrentBitmapFor(pageIndex int) *pagesource.Bitmap {
	return s.coord.CurrentBitmapFor(pageIndex)
}

// PageState reports a page's realization state.
func (s *Session) PageState(pageIndex int) coordinator.State {
	return s.coord.StateOf(pageIndex)
}

// RealizedCount reports how many pages currently hold widgets.
func (s *Session) RealizedCount() int { return s.coord.RealizedCount() }

// VisibleRange returns the most recently computed page range.
func (s *Session) VisibleRange() (geometry.Range, bool) { return s.calc.Last() }

// TotalHeight returns the current scrollable document height in points.
func (s *Session) TotalHeight() float64 { return s.model.TotalHeight() }

// ScrollFraction maps an offset to [0,1] over the document height.
func (s *Session) ScrollFraction(offset float64) float64 {
	total := s.model.TotalHeight()
	if total <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, offset/total))
}

// CacheStats exposes cache effectiveness counters.
func (s *Session) CacheStats() bitmapcache.Stats { return s.cache.Stats() }

// Close shuts the session down synchronously: in-flight renders are
// cancelled or finished, workers joined, and all widgets and cached bitmaps
// released. The session must not be used afterwards.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.pipe.Close()
	// The completion channel is closed now; drain what finished before the
	// shutdown for accounting, then drop everything.
	for range s.pipe.Completions() {
	}
	s.coord.Reset()
	s.cache.Clear()
	s.logger.Info("viewer session closed")
}
