// Package coordinator owns the mapping from page index to its realization
// state. Pages inside the visible range hold realized bitmaps; everything
// else is a lightweight placeholder. The coordinator is the only writer of
// this mapping and runs entirely on the interactive goroutine.
package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/sushant-115/gojoview/core/render/bitmapcache"
	"github.com/sushant-115/gojoview/core/render/cachekey"
	"github.com/sushant-115/gojoview/core/render/geometry"
	"github.com/sushant-115/gojoview/core/render/pagesource"
	"github.com/sushant-115/gojoview/core/render/scheduler"
	internaltelemetry "github.com/sushant-115/gojoview/internal/telemetry"
)

// State is a page's realization state.
type State int

const (
	// StateNotRealized: the page has never been near the viewport.
	StateNotRealized State = iota
	// StatePlaceholder: a lightweight stand-in; no bitmap held.
	StatePlaceholder
	// StateRealizing: a widget exists and a render is outstanding.
	StateRealizing
	// StateRealized: the widget displays a bitmap valid for the current
	// zoom and rotation.
	StateRealized
	// StateFailed: rendering failed permanently; the widget shows a
	// failure placeholder until the page leaves and re-enters the range.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotRealized:
		return "not_realized"
	case StatePlaceholder:
		return "placeholder"
	case StateRealizing:
		return "realizing"
	case StateRealized:
		return "realized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultHysteresisSlack is added to the render buffer to form the
// demotion margin, so pages do not thrash between realized and placeholder
// at scroll boundaries.
const DefaultHysteresisSlack = 2

type pageState struct {
	state  State
	bitmap *pagesource.Bitmap
	// Parameters the bitmap was realized under. Pages kept alive in the
	// hysteresis zone can go stale when zoom or rotation changes; they are
	// revalidated when they re-enter the range.
	zoomFactor float64
	rotation   int
}

// Coordinator reconciles realized pages against the visible range.
type Coordinator struct {
	logger  *zap.Logger
	metrics *internaltelemetry.RenderMetrics

	cache *bitmapcache.Cache
	codec *cachekey.Codec
	sched *scheduler.Scheduler

	pages           map[int]*pageState
	current         geometry.Range
	hasRange        bool
	hysteresisPages int

	zoomFactor float64
	rotation   int

	onRealized func(pageIndex int)
	onFailed   func(pageIndex int, reason error)
}

// New creates a coordinator. hysteresisPages is the demotion margin beyond
// the visible range; it should exceed the render buffer.
func New(cache *bitmapcache.Cache, codec *cachekey.Codec, sched *scheduler.Scheduler, hysteresisPages int, logger *zap.Logger, metrics *internaltelemetry.RenderMetrics) *Coordinator {
	if hysteresisPages < 0 {
		hysteresisPages = 0
	}
	return &Coordinator{
		logger:          logger,
		metrics:         metrics,
		cache:           cache,
		codec:           codec,
		sched:           sched,
		pages:           make(map[int]*pageState),
		hysteresisPages: hysteresisPages,
		zoomFactor:      1.0,
	}
}

// SetCallbacks registers the UI notification hooks. Either may be nil.
func (c *Coordinator) SetCallbacks(onRealized func(int), onFailed func(int, error)) {
	c.onRealized = onRealized
	c.onFailed = onFailed
}

// Params returns the current zoom factor and rotation.
func (c *Coordinator) Params() (float64, int) { return c.zoomFactor, c.rotation }

// HysteresisPages returns the demotion margin. Render cancellation should
// use the same boundary so hysteresis-kept pages still receive their
// bitmaps.
func (c *Coordinator) HysteresisPages() int { return c.hysteresisPages }

// StateOf returns the page's realization state.
func (c *Coordinator) StateOf(pageIndex int) State {
	if p, ok := c.pages[pageIndex]; ok {
		return p.state
	}
	return StateNotRealized
}

// RealizedCount counts pages in Realizing or Realized state. Bounded by the
// visible range plus the hysteresis margin regardless of document length.
func (c *Coordinator) RealizedCount() int {
	n := 0
	for _, p := range c.pages {
		if p.state == StateRealizing || p.state == StateRealized {
			n++
		}
	}
	return n
}

// ApplyRange reconciles page states against a new visible range: pages
// entering the range realize (immediately on cache hit, via a scheduled
// render otherwise); pages beyond the hysteresis margin demote to
// placeholders, releasing their bitmaps but not their cache entries.
func (c *Coordinator) ApplyRange(r geometry.Range, pageCount int) {
	c.current = r
	c.hasRange = true

	demoteBoundary := r.Expand(c.hysteresisPages, pageCount)
	for page, p := range c.pages {
		if demoteBoundary.Contains(page) {
			continue
		}
		switch p.state {
		case StateRealized, StateRealizing, StateFailed:
			c.demote(page, p)
		}
	}

	for page := r.First; page <= r.Last; page++ {
		c.ensureRealized(page)
	}
}

// OnParamsChanged invalidates the current-parameter validity of realized
// pages: their cache keys change, so each page in range re-checks the cache
// under the new key and re-requests a render only on miss. Widgets are not
// destroyed.
func (c *Coordinator) OnParamsChanged(zoomFactor float64, rotation int) {
	c.zoomFactor = zoomFactor
	c.rotation = rotation
	if !c.hasRange {
		return
	}
	for page := c.current.First; page <= c.current.Last; page++ {
		p, ok := c.pages[page]
		if !ok {
			continue
		}
		switch p.state {
		case StateRealized, StateRealizing, StateFailed:
			c.realizeOrSchedule(page, p)
		}
	}
}

// ApplyCompletion applies a finished render. Stale generations are dropped,
// as are completions for pages already demoted to placeholders; those
// bitmaps stay in the cache for later reuse but do not resurrect widgets.
func (c *Coordinator) ApplyCompletion(pageIndex int, generation uint64, zoomFactor float64, rotation int, bitmap *pagesource.Bitmap, renderErr error) {
	if !c.sched.IsCurrent(pageIndex, generation) {
		c.logger.Debug("ignoring superseded completion",
			zap.Int("page", pageIndex),
			zap.Uint64("generation", generation))
		return
	}
	p, ok := c.pages[pageIndex]
	if !ok || p.state != StateRealizing {
		return
	}

	if renderErr != nil {
		p.state = StateFailed
		p.bitmap = nil
		c.logger.Warn("page render failed",
			zap.Int("page", pageIndex),
			zap.Error(renderErr))
		if c.onFailed != nil {
			c.onFailed(pageIndex, renderErr)
		}
		return
	}

	p.state = StateRealized
	p.bitmap = bitmap
	p.zoomFactor = zoomFactor
	p.rotation = rotation
	c.trackRealized(1)
	if c.onRealized != nil {
		c.onRealized(pageIndex)
	}
}

// CurrentBitmapFor returns the displayable bitmap for a page: the realized
// one, or a cache hit under the current parameters.
func (c *Coordinator) CurrentBitmapFor(pageIndex int) *pagesource.Bitmap {
	if p, ok := c.pages[pageIndex]; ok && p.state == StateRealized {
		return p.bitmap
	}
	key, err := c.codec.Key(pageIndex, c.zoomFactor, c.rotation)
	if err != nil {
		return nil
	}
	return c.cache.Get(key)
}

// Reset destroys all page states. Used on document close.
func (c *Coordinator) Reset() {
	for page, p := range c.pages {
		if p.state == StateRealized {
			c.trackRealized(-1)
		}
		delete(c.pages, page)
	}
	c.hasRange = false
}

// --- internal transitions ---

// ensureRealized drives a page inside the range toward Realized. Failed
// pages stay failed while in range; they retry only after leaving and
// re-entering.
func (c *Coordinator) ensureRealized(pageIndex int) {
	p, ok := c.pages[pageIndex]
	if !ok {
		p = &pageState{state: StatePlaceholder}
		c.pages[pageIndex] = p
	}
	switch p.state {
	case StateRealizing, StateFailed:
		return
	case StateRealized:
		// Pages kept alive through the hysteresis zone may hold a bitmap
		// for parameters that changed while they were out of range.
		if p.zoomFactor == c.zoomFactor && p.rotation == c.rotation {
			return
		}
	}
	c.realizeOrSchedule(pageIndex, p)
}

// realizeOrSchedule checks the cache under the current parameters and
// either realizes immediately or schedules a render.
func (c *Coordinator) realizeOrSchedule(pageIndex int, p *pageState) {
	key, err := c.codec.Key(pageIndex, c.zoomFactor, c.rotation)
	if err != nil {
		c.logger.Error("cannot build cache key",
			zap.Int("page", pageIndex),
			zap.Error(err))
		return
	}

	wasRealized := p.state == StateRealized

	if bitmap := c.cache.Get(key); bitmap != nil {
		p.state = StateRealized
		p.bitmap = bitmap
		p.zoomFactor = c.zoomFactor
		p.rotation = c.rotation
		if !wasRealized {
			c.trackRealized(1)
		}
		if c.onRealized != nil {
			c.onRealized(pageIndex)
		}
		return
	}

	if wasRealized {
		c.trackRealized(-1)
	}
	p.state = StateRealizing
	p.bitmap = nil
	c.sched.Schedule(pageIndex, c.zoomFactor, c.rotation)
}

// demote releases a page's widget, keeping its cache entries for later.
func (c *Coordinator) demote(pageIndex int, p *pageState) {
	if p.state == StateRealized {
		c.trackRealized(-1)
	}
	if p.state == StateRealizing {
		// The queued render is pointless now; in-flight results still
		// land in the cache.
		c.sched.CancelAllFor(pageIndex)
	}
	p.state = StatePlaceholder
	p.bitmap = nil
	c.logger.Debug("page demoted to placeholder", zap.Int("page", pageIndex))
}

func (c *Coordinator) trackRealized(delta int64) {
	if c.metrics != nil {
		c.metrics.RealizedPagesUpDown.Add(context.Background(), delta)
	}
}
