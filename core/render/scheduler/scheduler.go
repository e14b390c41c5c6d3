// Package scheduler queues render work for pages entering the visible
// range. Requests are ordered by distance to the viewport center with a
// scroll-direction tie-break, bounded to a configurable number in flight,
// and superseded per page through monotonic generation tokens.
package scheduler

import (
	"container/heap"

	"go.uber.org/zap"

	"github.com/sushant-115/gojoview/core/render/geometry"
)

// DefaultMaxInFlight bounds concurrent renders when unconfigured.
const DefaultMaxInFlight = 3

// Request is one unit of render work. Created by Schedule, consumed exactly
// once by the pipeline; a request whose generation no longer matches the
// scheduler's record for its page has been superseded and is skipped.
type Request struct {
	PageIndex  int
	ZoomFactor float64
	Rotation   int
	Priority   int
	Generation uint64

	seq       uint64 // FIFO tie-break among equal priorities
	heapIndex int
}

// Scheduler owns the render queue. It belongs to the interactive goroutine
// and is not safe for concurrent use.
type Scheduler struct {
	logger      *zap.Logger
	maxInFlight int

	queue       requestHeap
	queued      map[int]*Request // latest queued request per page
	generations map[int]uint64
	inFlight    map[int]struct{}

	viewportCenter  int
	scrollDirection int // -1 up, 0 none, +1 down

	seq uint64
}

// New creates a scheduler. maxInFlight <= 0 uses DefaultMaxInFlight.
func New(maxInFlight int, logger *zap.Logger) *Scheduler {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Scheduler{
		logger:      logger,
		maxInFlight: maxInFlight,
		queued:      make(map[int]*Request),
		generations: make(map[int]uint64),
		inFlight:    make(map[int]struct{}),
	}
}

// SetViewport records the viewport center page and current scroll direction
// for priority ordering of subsequent Schedule calls.
func (s *Scheduler) SetViewport(centerPage, scrollDirection int) {
	s.viewportCenter = centerPage
	if scrollDirection > 0 {
		scrollDirection = 1
	} else if scrollDirection < 0 {
		scrollDirection = -1
	}
	s.scrollDirection = scrollDirection
}

// Schedule enqueues a render for the page at the given parameters. An
// outstanding request for the same page is superseded: its generation token
// is invalidated so its eventual completion is discarded, and the queued
// copy is replaced rather than executed.
func (s *Scheduler) Schedule(pageIndex int, zoomFactor float64, rotation int) *Request {
	gen := s.generations[pageIndex] + 1
	s.generations[pageIndex] = gen

	if old, ok := s.queued[pageIndex]; ok {
		// Lazily invalidated; it will be skipped when popped.
		s.logger.Debug("superseding queued render",
			zap.Int("page", pageIndex),
			zap.Uint64("old_generation", old.Generation),
			zap.Uint64("generation", gen))
	}

	s.seq++
	req := &Request{
		PageIndex:  pageIndex,
		ZoomFactor: zoomFactor,
		Rotation:   rotation,
		Priority:   s.priorityFor(pageIndex),
		Generation: gen,
		seq:        s.seq,
	}
	s.queued[pageIndex] = req
	heap.Push(&s.queue, req)
	return req
}

// Next pops the highest-priority live request, or nil when the queue is
// empty or the in-flight bound is reached. The returned request is counted
// as in flight until Done is called for its page.
func (s *Scheduler) Next() *Request {
	if len(s.inFlight) >= s.maxInFlight {
		return nil
	}
	for s.queue.Len() > 0 {
		req := heap.Pop(&s.queue).(*Request)
		if s.queued[req.PageIndex] != req || s.generations[req.PageIndex] != req.Generation {
			continue // superseded or cancelled
		}
		delete(s.queued, req.PageIndex)
		s.inFlight[req.PageIndex] = struct{}{}
		return req
	}
	return nil
}

// Done releases the in-flight slot for a page.
func (s *Scheduler) Done(pageIndex int) {
	delete(s.inFlight, pageIndex)
}

// IsCurrent reports whether a generation token is still the live one for its
// page. Stale completions must be dropped by the caller.
func (s *Scheduler) IsCurrent(pageIndex int, generation uint64) bool {
	return s.generations[pageIndex] == generation
}

// CancelAllFor invalidates the page's generation, killing its queued request
// and orphaning any in-flight result.
func (s *Scheduler) CancelAllFor(pageIndex int) {
	s.generations[pageIndex]++
	delete(s.queued, pageIndex)
}

// CancelOutsideRange discards queued requests for pages outside r. In-flight
// renders are left to finish; their bitmaps are still worth caching even if
// the page scrolled away.
func (s *Scheduler) CancelOutsideRange(r geometry.Range) {
	for page := range s.queued {
		if !r.Contains(page) {
			s.generations[page]++
			delete(s.queued, page)
		}
	}
}

// Pending returns the number of live queued requests.
func (s *Scheduler) Pending() int { return len(s.queued) }

// InFlightCount returns the number of requests currently executing.
func (s *Scheduler) InFlightCount() int { return len(s.inFlight) }

// HasCapacity reports whether Next can dispatch another request.
func (s *Scheduler) HasCapacity() bool {
	return len(s.inFlight) < s.maxInFlight && len(s.queued) > 0
}

// priorityFor ranks a page by distance from the viewport center; pages in
// the direction of travel win ties against pages behind the viewport.
func (s *Scheduler) priorityFor(pageIndex int) int {
	distance := pageIndex - s.viewportCenter
	if distance < 0 {
		distance = -distance
	}
	priority := distance * 2
	if s.scrollDirection != 0 && pageIndex != s.viewportCenter {
		direction := 1
		if pageIndex < s.viewportCenter {
			direction = -1
		}
		if direction != s.scrollDirection {
			priority++
		}
	}
	return priority
}

// --- min-heap over (Priority, seq) ---

type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *requestHeap) Push(x any) {
	req := x.(*Request)
	req.heapIndex = len(*h)
	*h = append(*h, req)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.heapIndex = -1
	*h = old[:n-1]
	return req
}
