// Package dpi memoizes the zoom-factor → render-resolution mapping so the
// floating point work is not repeated on every scroll tick. The mapping is
// deterministic, so cached values never go stale; the cache is only cleared
// explicitly.
package dpi

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// BaseDPI is the renderer's nominal resolution at zoom 1.0.
	BaseDPI = 72.0
	// MaxDPI caps the requested resolution; beyond it render cost explodes
	// with no visible gain.
	MaxDPI = 600.0
	// MinZoom guards the computation against degenerate zoom factors.
	MinZoom = 0.1

	// DefaultMemoSize bounds the memo table. Zoom levels in real use number
	// in the dozens.
	DefaultMemoSize = 128

	// zoomQuantum matches the cache-key quantization so one memo slot
	// serves every zoom value that maps to one cache key.
	zoomQuantum = 1000
)

// Resolution is the (dpiX, dpiY) pair to request from the renderer.
type Resolution struct {
	X float64
	Y float64
}

// Cache memoizes optimal render resolutions. Safe for concurrent use.
type Cache struct {
	mu   sync.Mutex
	memo *lru.Cache[int64, Resolution]

	baseDPI          float64
	maxDPI           float64
	devicePixelRatio float64
	quality          float64
}

// Option tunes a Cache.
type Option func(*Cache)

// WithDevicePixelRatio accounts for high-DPI displays; ratio <= 0 is
// treated as 1.
func WithDevicePixelRatio(ratio float64) Option {
	return func(c *Cache) {
		if ratio > 0 {
			c.devicePixelRatio = ratio
		}
	}
}

// WithQualityMultiplier scales the resolution for render-quality settings;
// multiplier <= 0 is treated as 1.
func WithQualityMultiplier(multiplier float64) Option {
	return func(c *Cache) {
		if multiplier > 0 {
			c.quality = multiplier
		}
	}
}

// WithMaxDPI overrides the resolution cap.
func WithMaxDPI(max float64) Option {
	return func(c *Cache) {
		if max > 0 {
			c.maxDPI = max
		}
	}
}

// NewCache creates a resolution cache.
func NewCache(opts ...Option) *Cache {
	memo, err := lru.New[int64, Resolution](DefaultMemoSize)
	if err != nil {
		panic(fmt.Sprintf("dpi: memo table: %v", err))
	}
	c := &Cache{
		memo:             memo,
		baseDPI:          BaseDPI,
		maxDPI:           MaxDPI,
		devicePixelRatio: 1.0,
		quality:          1.0,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolutionFor returns the render resolution for a zoom factor, memoized
// by quantized zoom.
func (c *Cache) ResolutionFor(zoomFactor float64) Resolution {
	key := int64(zoomFactor*zoomQuantum + 0.5)

	c.mu.Lock()
	defer c.mu.Unlock()

	if res, ok := c.memo.Get(key); ok {
		return res
	}
	res := c.compute(zoomFactor)
	c.memo.Add(key, res)
	return res
}

// Clear drops every memoized value.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memo.Purge()
}

func (c *Cache) compute(zoomFactor float64) Resolution {
	if zoomFactor < MinZoom {
		zoomFactor = MinZoom
	}
	d := c.baseDPI * zoomFactor * c.devicePixelRatio * c.quality
	if d > c.maxDPI {
		d = c.maxDPI
	}
	return Resolution{X: d, Y: d}
}
