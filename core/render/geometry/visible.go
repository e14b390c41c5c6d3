package geometry

// Range is an inclusive page-index interval.
type Range struct {
	First int
	Last  int
}

// Contains reports whether pageIndex lies inside the range.
func (r Range) Contains(pageIndex int) bool {
	return pageIndex >= r.First && pageIndex <= r.Last
}

// Len returns the number of pages in the range.
func (r Range) Len() int {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

// Center returns the middle page of the range.
func (r Range) Center() int {
	return r.First + (r.Last-r.First)/2
}

// Expand widens the range by pages on both sides, clamped to
// [0, pageCount-1].
func (r Range) Expand(pages, pageCount int) Range {
	out := Range{First: r.First - pages, Last: r.Last + pages}
	if out.First < 0 {
		out.First = 0
	}
	if out.Last > pageCount-1 {
		out.Last = pageCount - 1
	}
	if out.Last < out.First {
		out.Last = out.First
	}
	return out
}

// Calculator computes the page range that should have realized widgets and
// bitmaps. It memoizes its last answer so an unchanged result can be
// short-circuited by the caller and produce no widget churn.
type Calculator struct {
	model       *Model
	bufferPages int

	lastRange Range
	hasLast   bool
}

// NewCalculator wires a calculator to its geometry model. bufferPages is the
// render margin added on each side of the on-screen pages.
func NewCalculator(model *Model, bufferPages int) *Calculator {
	if bufferPages < 0 {
		bufferPages = 0
	}
	return &Calculator{model: model, bufferPages: bufferPages}
}

// BufferPages returns the configured render margin.
func (c *Calculator) BufferPages() int { return c.bufferPages }

// VisibleRange computes the inclusive page range for the given scroll state,
// expanded by bufferPages and clamped to the document. The second return is
// false when the range is identical to the previous call's, letting the
// caller skip reconciliation entirely.
func (c *Calculator) VisibleRange(scrollOffset, viewportHeight float64) (Range, bool) {
	pageCount := c.model.PageCount()
	if pageCount == 0 {
		return Range{}, false
	}

	first := c.model.PageAtOffset(scrollOffset)
	last := c.model.PageAtOffset(scrollOffset + viewportHeight)
	r := Range{First: first, Last: last}.Expand(c.bufferPages, pageCount)

	if c.hasLast && r == c.lastRange {
		return r, false
	}
	c.lastRange = r
	c.hasLast = true
	return r, true
}

// Invalidate forgets the memoized range, forcing the next VisibleRange call
// to report a change. Used after zoom or rotation alters page geometry
// without moving the scroll position.
func (c *Calculator) Invalidate() {
	c.hasLast = false
}

// Last returns the most recently computed range.
func (c *Calculator) Last() (Range, bool) {
	return c.lastRange, c.hasLast
}
