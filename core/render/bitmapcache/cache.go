// Package bitmapcache holds rendered page bitmaps under a fixed memory
// budget. Entries live in an arena with index-based intrusive LRU links, and
// eviction refines plain LRU with an importance score so pages near the
// visible range outlive pages the user scrolled far away from.
package bitmapcache

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sushant-115/gojoview/core/render/cachekey"
	"github.com/sushant-115/gojoview/core/render/pagesource"
	internaltelemetry "github.com/sushant-115/gojoview/internal/telemetry"
)

const (
	// DefaultBudgetBytes bounds resident bitmap memory when the caller does
	// not configure one.
	DefaultBudgetBytes = 256 * 1024 * 1024
	// DefaultMaxEntries bounds the entry count independently of bytes.
	DefaultMaxEntries = 512

	// nilIdx is the sentinel for absent arena links.
	nilIdx int32 = -1

	// evictionSampleSize is how many entries from the LRU tail are scored
	// per eviction. Within the sample the least important entry goes first;
	// outside it plain LRU order rules, so the scan stays O(1) per eviction.
	evictionSampleSize = 32

	// maxDistancePages caps the spatial penalty so pages at opposite ends
	// of a thousand-page document do not drown the recency signal.
	maxDistancePages = 12
)

// Config tunes the cache. Zero values take the defaults above.
type Config struct {
	BudgetBytes int64 `yaml:"budget_bytes"`
	MaxEntries  int   `yaml:"max_entries"`
}

// Stats is a point-in-time snapshot of cache behaviour.
type Stats struct {
	Items         int
	ResidentBytes int64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
}

// HitRate reports hits/(hits+misses), 0 when the cache is untouched.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// entry is one cached bitmap. Entries are owned exclusively by the cache;
// prev/next are arena indices forming the intrusive LRU list, and free
// entries are chained through next.
type entry struct {
	key         cachekey.Key
	bitmap      *pagesource.Bitmap
	zoomFactor  float64
	rotation    int
	lastAccess  time.Time
	accessCount int64
	sizeBytes   int64
	prev, next  int32
	inUse       bool
}

// Cache is the page bitmap cache. Mutations normally happen on the
// interactive goroutine; the internal mutex exists so stats and metrics
// scrapes can observe it from elsewhere without racing.
type Cache struct {
	mu      sync.Mutex
	logger  *zap.Logger
	metrics *internaltelemetry.RenderMetrics

	budgetBytes int64
	maxEntries  int

	entries  []entry
	freeHead int32
	table    map[cachekey.Key]int32
	head     int32 // most recently used
	tail     int32 // least recently used

	residentBytes int64
	hits          uint64
	misses        uint64
	evictions     uint64

	visibleFirst int
	visibleLast  int

	now func() time.Time
}

// New creates a cache. logger must not be nil; metrics may be nil.
func New(cfg Config, logger *zap.Logger, metrics *internaltelemetry.RenderMetrics) *Cache {
	if cfg.BudgetBytes <= 0 {
		cfg.BudgetBytes = DefaultBudgetBytes
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	c := &Cache{
		logger:       logger,
		metrics:      metrics,
		budgetBytes:  cfg.BudgetBytes,
		maxEntries:   cfg.MaxEntries,
		freeHead:     nilIdx,
		table:        make(map[cachekey.Key]int32),
		head:         nilIdx,
		tail:         nilIdx,
		visibleFirst: -1,
		visibleLast:  -1,
		now:          time.Now,
	}
	logger.Info("bitmap cache initialized",
		zap.Int64("budget_bytes", cfg.BudgetBytes),
		zap.Int("max_entries", cfg.MaxEntries))
	return c
}

// Get returns the cached bitmap for key, or nil on miss. A hit refreshes the
// entry's access metadata and moves it to the LRU head.
func (c *Cache) Get(key cachekey.Key) *pagesource.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.table[key]
	if !ok {
		c.misses++
		c.count(func(m *internaltelemetry.RenderMetrics) { m.CacheMissesCounter.Add(context.Background(), 1) })
		return nil
	}
	e := &c.entries[idx]
	e.lastAccess = c.now()
	e.accessCount++
	c.moveToHead(idx)
	c.hits++
	c.count(func(m *internaltelemetry.RenderMetrics) { m.CacheHitsCounter.Add(context.Background(), 1) })
	return e.bitmap
}

// Contains reports whether key is cached without touching access metadata.
func (c *Cache) Contains(key cachekey.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.table[key]
	return ok
}

// Put inserts or replaces the bitmap for key. Memory size is computed from
// the bitmap's own dimensions. Evictions happen synchronously before the
// insert, so resident memory never exceeds the budget when Put returns.
func (c *Cache) Put(key cachekey.Key, bitmap *pagesource.Bitmap, zoomFactor float64, rotation int) error {
	if !bitmap.Valid() {
		c.logger.Warn("rejecting invalid bitmap", zap.Stringer("key", key))
		return ErrInvalidBitmap
	}
	size := bitmap.SizeBytes()
	if size > c.budgetBytes {
		c.logger.Warn("bitmap larger than entire cache budget",
			zap.Stringer("key", key),
			zap.Int64("size_bytes", size),
			zap.Int64("budget_bytes", c.budgetBytes))
		return ErrBitmapTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.table[key]; ok {
		// Replacement keeps the entry's access history.
		e := &c.entries[idx]
		delta := size - e.sizeBytes
		c.residentBytes += delta
		c.count(func(m *internaltelemetry.RenderMetrics) { m.CacheResidentBytes.Add(context.Background(), delta) })
		e.bitmap = bitmap
		e.sizeBytes = size
		e.zoomFactor = zoomFactor
		e.rotation = rotation
		e.lastAccess = c.now()
		c.moveToHead(idx)
		c.evictUntilWithinBudget(0)
		return nil
	}

	c.evictUntilWithinBudget(size)

	idx := c.allocEntry()
	e := &c.entries[idx]
	*e = entry{
		key:        key,
		bitmap:     bitmap,
		zoomFactor: zoomFactor,
		rotation:   rotation,
		lastAccess: c.now(),
		sizeBytes:  size,
		prev:       nilIdx,
		next:       nilIdx,
		inUse:      true,
	}
	c.table[key] = idx
	c.pushHead(idx)
	c.residentBytes += size
	c.count(func(m *internaltelemetry.RenderMetrics) { m.CacheResidentBytes.Add(context.Background(), size) })
	return nil
}

// SetVisibleRange tells the eviction policy which pages are on screen.
// Closed interval; (-1, -1) means no visibility information.
func (c *Cache) SetVisibleRange(first, last int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visibleFirst = first
	c.visibleLast = last
}

// Remove drops one key if present.
func (c *Cache) Remove(key cachekey.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.table[key]; ok {
		c.freeEntry(idx)
	}
}

// Clear drops every entry. Used on document close and reload.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	freed := c.residentBytes
	c.table = make(map[cachekey.Key]int32)
	c.entries = nil
	c.freeHead = nilIdx
	c.head = nilIdx
	c.tail = nilIdx
	c.residentBytes = 0
	c.count(func(m *internaltelemetry.RenderMetrics) { m.CacheResidentBytes.Add(context.Background(), -freed) })
	c.logger.Info("bitmap cache cleared", zap.Int64("freed_bytes", freed))
}

// Len returns the number of cached bitmaps.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// ResidentBytes returns current resident bitmap memory.
func (c *Cache) ResidentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.residentBytes
}

// Stats snapshots cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Items:         len(c.table),
		ResidentBytes: c.residentBytes,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
	}
}

// --- eviction ---

// evictUntilWithinBudget evicts entries until incoming bytes fit under the
// budget and the entry count is below the cap. Must hold c.mu.
func (c *Cache) evictUntilWithinBudget(incoming int64) {
	for len(c.table) > 0 &&
		(c.residentBytes+incoming > c.budgetBytes || len(c.table) >= c.maxEntries) {
		c.evictLeastImportant()
	}
}

// evictLeastImportant scores a sample of entries from the LRU tail and
// removes the least important one. Must hold c.mu.
func (c *Cache) evictLeastImportant() {
	victim := nilIdx
	victimScore := math.Inf(1)
	now := c.now()

	idx := c.tail
	for n := 0; n < evictionSampleSize && idx != nilIdx; n++ {
		score := c.importance(&c.entries[idx], now)
		if score < victimScore {
			victimScore = score
			victim = idx
		}
		idx = c.entries[idx].prev
	}
	if victim == nilIdx {
		return
	}

	e := &c.entries[victim]
	c.logger.Debug("evicting bitmap",
		zap.Stringer("key", e.key),
		zap.Int64("size_bytes", e.sizeBytes),
		zap.Float64("importance", victimScore))
	c.freeEntry(victim)
	c.evictions++
	c.count(func(m *internaltelemetry.RenderMetrics) { m.CacheEvictionsCounter.Add(context.Background(), 1) })
}

// importance combines recency, access frequency and proximity to the visible
// page range. Higher keeps the entry longer. The weights are tuning
// parameters, not a contract; they are chosen so a page more than a handful
// of pages outside the window loses to anything inside it regardless of raw
// recency.
func (c *Cache) importance(e *entry, now time.Time) float64 {
	ageSec := now.Sub(e.lastAccess).Seconds()
	if ageSec < 0 {
		ageSec = 0
	}
	recency := 1.0 / (1.0 + ageSec)
	frequency := 0.25 * math.Log2(1.0+float64(e.accessCount))

	distance := 0.0
	if c.visibleFirst >= 0 && c.visibleLast >= c.visibleFirst {
		page := e.key.PageIndex()
		switch {
		case page < c.visibleFirst:
			distance = float64(c.visibleFirst - page)
		case page > c.visibleLast:
			distance = float64(page - c.visibleLast)
		}
		if distance > maxDistancePages {
			distance = maxDistancePages
		}
	}

	return recency + frequency - 0.5*distance
}

// --- arena and LRU plumbing; all must hold c.mu ---

func (c *Cache) allocEntry() int32 {
	if c.freeHead != nilIdx {
		idx := c.freeHead
		c.freeHead = c.entries[idx].next
		return idx
	}
	c.entries = append(c.entries, entry{prev: nilIdx, next: nilIdx})
	return int32(len(c.entries) - 1)
}

func (c *Cache) freeEntry(idx int32) {
	e := &c.entries[idx]
	c.unlink(idx)
	delete(c.table, e.key)
	c.residentBytes -= e.sizeBytes
	freed := e.sizeBytes
	*e = entry{next: c.freeHead, prev: nilIdx}
	c.freeHead = idx
	c.count(func(m *internaltelemetry.RenderMetrics) { m.CacheResidentBytes.Add(context.Background(), -freed) })
}

func (c *Cache) pushHead(idx int32) {
	e := &c.entries[idx]
	e.prev = nilIdx
	e.next = c.head
	if c.head != nilIdx {
		c.entries[c.head].prev = idx
	}
	c.head = idx
	if c.tail == nilIdx {
		c.tail = idx
	}
}

func (c *Cache) unlink(idx int32) {
	e := &c.entries[idx]
	if e.prev != nilIdx {
		c.entries[e.prev].next = e.next
	} else if c.head == idx {
		c.head = e.next
	}
	if e.next != nilIdx {
		c.entries[e.next].prev = e.prev
	} else if c.tail == idx {
		c.tail = e.prev
	}
	e.prev = nilIdx
	e.next = nilIdx
}

func (c *Cache) moveToHead(idx int32) {
	if c.head == idx {
		return
	}
	c.unlink(idx)
	c.pushHead(idx)
}

func (c *Cache) count(record func(*internaltelemetry.RenderMetrics)) {
	if c.metrics != nil {
		record(c.metrics)
	}
}
