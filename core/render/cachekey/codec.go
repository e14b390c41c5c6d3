// Package cachekey packs (pageIndex, zoomFactor, rotation) tuples into
// compact 64-bit cache keys. Zoom factors are floats, so they are first
// mapped to small stable integer ids through a bounded assignment table;
// identical tuples always produce identical keys and distinct normalized
// tuples never collide within the encoding's bit budget.
package cachekey

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Key is an opaque packed cache key.
//
// Layout (low to high bits):
//
//	bits  0..1   rotation quadrant (0, 90, 180, 270)
//	bits  2..17  zoom factor id (16 bits)
//	bits 18..37  page index (20 bits)
type Key uint64

const (
	rotationBits = 2
	zoomBits     = 16
	pageBits     = 20

	zoomShift = rotationBits
	pageShift = rotationBits + zoomBits

	// MaxPageIndex is the largest encodable page index.
	MaxPageIndex = 1<<pageBits - 1

	// zoomQuantum controls how zoom factors are rounded before id
	// assignment. 1/1000 keeps visually identical zoom levels on one id
	// while distinguishing every step a zoom slider can produce.
	zoomQuantum = 1000
)

// DefaultZoomTableSize bounds the float→id table. Continuous zoom gestures
// mint ids quickly; when the table is full the least-recently-assigned id is
// dropped and its cached bitmaps simply age out of the bitmap cache.
const DefaultZoomTableSize = 256

// PageIndex extracts the page index from the key.
func (k Key) PageIndex() int { return int(k>>pageShift) & MaxPageIndex }

// ZoomID extracts the zoom factor id from the key.
func (k Key) ZoomID() uint16 { return uint16(k >> zoomShift & (1<<zoomBits - 1)) }

// RotationQuadrant extracts the rotation quadrant (0..3).
func (k Key) RotationQuadrant() int { return int(k & (1<<rotationBits - 1)) }

func (k Key) String() string {
	return fmt.Sprintf("page=%d zoom_id=%d rot=%d", k.PageIndex(), k.ZoomID(), k.RotationQuadrant()*90)
}

// Codec assigns zoom factor ids and packs keys. Safe for concurrent use.
type Codec struct {
	mu     sync.Mutex
	zoomID *lru.Cache[int64, uint16]
	nextID uint16
}

// NewCodec creates a codec with a zoom table of the given capacity.
// Capacity <= 0 uses DefaultZoomTableSize.
func NewCodec(zoomTableSize int) *Codec {
	if zoomTableSize <= 0 {
		zoomTableSize = DefaultZoomTableSize
	}
	table, err := lru.New[int64, uint16](zoomTableSize)
	if err != nil {
		// Only reachable with a non-positive size, which is guarded above.
		panic(fmt.Sprintf("cachekey: zoom table: %v", err))
	}
	return &Codec{zoomID: table}
}

// IDFor returns the stable id for a zoom factor, assigning a new one on
// first sight. Looking an id up refreshes its position in the table so ids
// in active use survive continuous zoom gestures.
func (c *Codec) IDFor(zoomFactor float64) uint16 {
	quantized := quantizeZoom(zoomFactor)

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.zoomID.Get(quantized); ok {
		return id
	}
	id := c.nextID
	c.nextID++
	c.zoomID.Add(quantized, id)
	return id
}

// Key packs the tuple into a Key. Rotation must normalize to a quadrant and
// pageIndex must fit the encoding; anything else is a caller error.
func (c *Codec) Key(pageIndex int, zoomFactor float64, rotationDegrees int) (Key, error) {
	if pageIndex < 0 || pageIndex > MaxPageIndex {
		return 0, fmt.Errorf("%w: page index %d", ErrPageUnencodable, pageIndex)
	}
	quadrant, err := RotationQuadrant(rotationDegrees)
	if err != nil {
		return 0, err
	}
	id := c.IDFor(zoomFactor)
	return Key(pageIndex)<<pageShift | Key(id)<<zoomShift | Key(quadrant), nil
}

// RotationQuadrant normalizes a rotation in degrees to its quadrant index.
// Values outside {0, 90, 180, 270} (mod 360) are rejected.
func RotationQuadrant(degrees int) (int, error) {
	normalized := degrees % 360
	if normalized < 0 {
		normalized += 360
	}
	if normalized%90 != 0 {
		return 0, fmt.Errorf("%w: %d degrees", ErrInvalidRotation, degrees)
	}
	return normalized / 90, nil
}

// NormalizeRotation maps any multiple of 90 onto {0, 90, 180, 270}.
func NormalizeRotation(degrees int) (int, error) {
	quadrant, err := RotationQuadrant(degrees)
	if err != nil {
		return 0, err
	}
	return quadrant * 90, nil
}

func quantizeZoom(zoomFactor float64) int64 {
	return int64(zoomFactor*zoomQuantum + 0.5)
}
