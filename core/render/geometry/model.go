// Package geometry tracks per-page on-screen sizes and answers "which page
// is at pixel Y" queries for the virtual scroller. Heights start as cheap
// estimates and are replaced by authoritative measurements as pages are laid
// out; a prefix-sum position table is invalidated on any change and lazily
// rebuilt on the next query.
package geometry

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// DefaultPageHeight is the estimate used before any page has been measured,
// roughly an A4 page at 72 DPI.
const DefaultPageHeight = 842.0

// DefaultPageWidth matches DefaultPageHeight's aspect.
const DefaultPageWidth = 595.0

// pageGeometry is the per-page record. Measured heights are authoritative
// and must never regress to an estimate.
type pageGeometry struct {
	height   float64
	width    float64
	measured bool
}

// Model owns page geometry for one document. Not safe for concurrent use;
// it belongs to the interactive goroutine.
type Model struct {
	logger *zap.Logger

	pages    []pageGeometry
	rotation int // document rotation in degrees, one of 0/90/180/270

	// positions[i] is the pixel offset of page i's top edge;
	// positions[pageCount] is the total document height. Rebuilt lazily.
	positions []float64
	dirty     bool

	measuredCount  int
	measuredHeight float64 // running sum for the estimate heuristic
}

// NewModel creates a geometry model for pageCount pages.
func NewModel(pageCount int, logger *zap.Logger) *Model {
	m := &Model{
		logger: logger,
		pages:  make([]pageGeometry, pageCount),
		dirty:  true,
	}
	for i := range m.pages {
		m.pages[i] = pageGeometry{height: DefaultPageHeight, width: DefaultPageWidth}
	}
	return m
}

// PageCount returns the number of pages tracked.
func (m *Model) PageCount() int { return len(m.pages) }

// EstimateHeight returns the page's effective height at the current
// rotation: the measured value when known, otherwise the average of measured
// pages, otherwise the default.
func (m *Model) EstimateHeight(pageIndex int) float64 {
	if pageIndex < 0 || pageIndex >= len(m.pages) {
		return m.fallbackHeight()
	}
	p := m.pages[pageIndex]
	if p.measured {
		return m.effectiveHeight(p)
	}
	return m.fallbackHeight()
}

// RecordMeasuredHeight overwrites the estimate with an authoritative
// height/width pair once the page has actually been sized. Dimensions are
// pre-rotation; the model applies the document rotation itself. The position
// table is invalidated, not recomputed.
func (m *Model) RecordMeasuredHeight(pageIndex int, width, height float64) error {
	if pageIndex < 0 || pageIndex >= len(m.pages) {
		return fmt.Errorf("%w: %d", ErrPageOutOfBounds, pageIndex)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %gx%g", ErrInvalidPageSize, width, height)
	}
	p := &m.pages[pageIndex]
	if p.measured {
		m.measuredHeight += height - p.height
	} else {
		p.measured = true
		m.measuredCount++
		m.measuredHeight += height
	}
	p.height = height
	p.width = width
	m.dirty = true
	return nil
}

// IsMeasured reports whether the page has an authoritative size.
func (m *Model) IsMeasured(pageIndex int) bool {
	return pageIndex >= 0 && pageIndex < len(m.pages) && m.pages[pageIndex].measured
}

// SetRotation rotates the whole document. Quadrant rotations swap effective
// width and height, so the position table is invalidated.
func (m *Model) SetRotation(degrees int) error {
	normalized := degrees % 360
	if normalized < 0 {
		normalized += 360
	}
	if normalized%90 != 0 {
		return fmt.Errorf("%w: %d degrees", ErrInvalidRotation, degrees)
	}
	if normalized == m.rotation {
		return nil
	}
	m.rotation = normalized
	m.dirty = true
	m.logger.Debug("document rotation changed", zap.Int("degrees", normalized))
	return nil
}

// Rotation returns the current document rotation in degrees.
func (m *Model) Rotation() int { return m.rotation }

// PageAtOffset returns the page whose span contains yPixels. Offsets before
// the document map to page 0, offsets past the end to the last page.
// O(log n) over the lazily rebuilt position table.
func (m *Model) PageAtOffset(yPixels float64) int {
	if len(m.pages) == 0 {
		return 0
	}
	m.rebuildIfDirty()
	if yPixels <= 0 {
		return 0
	}
	if yPixels >= m.positions[len(m.pages)] {
		return len(m.pages) - 1
	}
	// First page whose bottom edge is past yPixels.
	return sort.Search(len(m.pages), func(i int) bool {
		return m.positions[i+1] > yPixels
	})
}

// PageTop returns the pixel offset of the page's top edge.
func (m *Model) PageTop(pageIndex int) float64 {
	if len(m.pages) == 0 {
		return 0
	}
	m.rebuildIfDirty()
	if pageIndex < 0 {
		return 0
	}
	if pageIndex > len(m.pages) {
		pageIndex = len(m.pages)
	}
	return m.positions[pageIndex]
}

// TotalHeight returns the full document height in pixels.
func (m *Model) TotalHeight() float64 {
	if len(m.pages) == 0 {
		return 0
	}
	m.rebuildIfDirty()
	return m.positions[len(m.pages)]
}

// rebuildIfDirty recomputes the prefix sums. positions is monotonically
// non-decreasing by construction: position[i+1] = position[i] + height[i].
func (m *Model) rebuildIfDirty() {
	if !m.dirty && m.positions != nil {
		return
	}
	if m.positions == nil {
		m.positions = make([]float64, len(m.pages)+1)
	}
	offset := 0.0
	for i := range m.pages {
		m.positions[i] = offset
		p := m.pages[i]
		if p.measured {
			offset += m.effectiveHeight(p)
		} else {
			offset += m.fallbackHeight()
		}
	}
	m.positions[len(m.pages)] = offset
	m.dirty = false
}

// effectiveHeight applies the document rotation to a page's dimensions.
func (m *Model) effectiveHeight(p pageGeometry) float64 {
	if m.rotation == 90 || m.rotation == 270 {
		return p.width
	}
	return p.height
}

// fallbackHeight is the estimate for unmeasured pages: the average measured
// height when anything has been measured, the default otherwise.
func (m *Model) fallbackHeight() float64 {
	if m.measuredCount > 0 {
		avg := m.measuredHeight / float64(m.measuredCount)
		if m.rotation == 90 || m.rotation == 270 {
			// Rotated estimate leans on the default aspect ratio since
			// widths average similarly to heights in practice.
			return avg * (DefaultPageWidth / DefaultPageHeight)
		}
		return avg
	}
	if m.rotation == 90 || m.rotation == 270 {
		return DefaultPageWidth
	}
	return DefaultPageHeight
}
