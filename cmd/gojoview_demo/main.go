// Command gojoview_demo drives the render engine headlessly with a
// synthetic document and a scripted scroll session, then prints cache
// effectiveness numbers. It is the quickest way to watch the virtualization
// behavior without wiring a real PDF library.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/sushant-115/gojoview/config"
	"github.com/sushant-115/gojoview/core/render/pagesource"
	internaltelemetry "github.com/sushant-115/gojoview/internal/telemetry"
	"github.com/sushant-115/gojoview/pkg/logger"
	"github.com/sushant-115/gojoview/pkg/telemetry"
	"github.com/sushant-115/gojoview/viewer"
)

const (
	pageWidthPt  = 595.0
	pageHeightPt = 842.0
	pageCount    = 1000
	viewportPt   = 2 * pageHeightPt
	renderDelay  = 15 * time.Millisecond
)

type syntheticDoc struct{}

func (syntheticDoc) PageCount() int { return pageCount }
func (syntheticDoc) NativePageSize(int) (float64, float64) {
	return pageWidthPt, pageHeightPt
}

// syntheticRender fakes a rasterizer: it sleeps a little and returns a
// correctly sized blank bitmap.
func syntheticRender(ctx context.Context, pageIndex int, dpiX, dpiY float64, rotationDegrees int) (*pagesource.Bitmap, error) {
	select {
	case <-time.After(renderDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
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

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	seed := flag.Int64("seed", 42, "seed for the scripted scroll session")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Printf("config: %v\n", err)
			return
		}
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Printf("logger: %v\n", err)
		return
	}
	defer func() { _ = log.Sync() }()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("telemetry setup failed", zap.Error(err))
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	metrics, err := internaltelemetry.NewRenderMetrics(tel.Meter)
	if err != nil {
		log.Fatal("metrics setup failed", zap.Error(err))
	}

	session := viewer.New(cfg, syntheticDoc{}, pagesource.RenderFunc(syntheticRender), log, metrics)
	defer session.Close()

	log.Info("starting scripted scroll session",
		zap.Int("pages", pageCount),
		zap.Int64("seed", *seed))

	rng := rand.New(rand.NewSource(*seed))
	offset := 0.0
	start := time.Now()

	// Phase 1: steady downward scroll through the first 200 pages, the
	// pattern the prefetcher is tuned for.
	for i := 0; i < 400; i++ {
		offset += pageHeightPt / 2
		session.OnScrollOrResize(offset, viewportPt)
		time.Sleep(5 * time.Millisecond)
	}

	// Phase 2: a zoom change mid-document.
	session.OnZoomChanged(1.5)
	for i := 0; i < 40; i++ {
		session.OnScrollOrResize(offset, viewportPt)
		time.Sleep(10 * time.Millisecond)
	}

	// Phase 3: random jumps, the cache-hostile pattern.
	for i := 0; i < 50; i++ {
		offset = rng.Float64() * float64(pageCount-2) * pageHeightPt
		session.OnScrollOrResize(offset, viewportPt)
		time.Sleep(20 * time.Millisecond)
	}

	// Let stragglers finish, then report.
	time.Sleep(250 * time.Millisecond)
	session.OnScrollOrResize(offset, viewportPt)

	stats := session.CacheStats()
	r, _ := session.VisibleRange()
	log.Info("session complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("visible_first", r.First),
		zap.Int("visible_last", r.Last),
		zap.Int("realized_pages", session.RealizedCount()),
		zap.Int("cached_items", stats.Items),
		zap.Int64("resident_bytes", stats.ResidentBytes),
		zap.Uint64("hits", stats.Hits),
		zap.Uint64("misses", stats.Misses),
		zap.Uint64("evictions", stats.Evictions),
		zap.Float64("hit_rate", stats.HitRate()),
	)
}
