package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// RenderMetrics holds all the metric instruments for the render cache and
// pipeline. A nil *RenderMetrics is valid and records nothing, so components
// can be constructed without telemetry in tests.
type RenderMetrics struct {
	CacheHitsCounter       metric.Int64Counter
	CacheMissesCounter     metric.Int64Counter
	CacheEvictionsCounter  metric.Int64Counter
	CacheResidentBytes     metric.Int64UpDownCounter
	RendersStartedCounter  metric.Int64Counter
	RendersDoneCounter     metric.Int64Counter
	RendersFailedCounter   metric.Int64Counter
	RendersDroppedCounter  metric.Int64Counter
	RenderLatencyHistogram metric.Int64Histogram
	RealizedPagesUpDown    metric.Int64UpDownCounter
}

// NewRenderMetrics creates and registers all the metrics for the viewer core.
func NewRenderMetrics(meter metric.Meter) (*RenderMetrics, error) {
	cacheHits, err := meter.Int64Counter(
		"gojoview.cache.hits_total",
		metric.WithDescription("Total number of bitmap cache hits."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"gojoview.cache.misses_total",
		metric.WithDescription("Total number of bitmap cache misses."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	cacheEvictions, err := meter.Int64Counter(
		"gojoview.cache.evictions_total",
		metric.WithDescription("Total number of bitmap cache evictions."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	cacheResident, err := meter.Int64UpDownCounter(
		"gojoview.cache.resident_bytes",
		metric.WithDescription("Bytes of bitmap data resident in the cache."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	rendersStarted, err := meter.Int64Counter(
		"gojoview.render.started_total",
		metric.WithDescription("Total number of render requests dispatched to workers."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rendersDone, err := meter.Int64Counter(
		"gojoview.render.completed_total",
		metric.WithDescription("Total number of renders that produced a bitmap."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rendersFailed, err := meter.Int64Counter(
		"gojoview.render.failed_total",
		metric.WithDescription("Total number of renders that exhausted retries or failed permanently."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rendersDropped, err := meter.Int64Counter(
		"gojoview.render.superseded_total",
		metric.WithDescription("Total number of render results dropped for stale generations."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	renderLatency, err := meter.Int64Histogram(
		"gojoview.render.duration",
		metric.WithDescription("The latency of page renders."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	realizedPages, err := meter.Int64UpDownCounter(
		"gojoview.pages.realized",
		metric.WithDescription("Number of pages currently realized as widgets."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &RenderMetrics{
		CacheHitsCounter:       cacheHits,
		CacheMissesCounter:     cacheMisses,
		CacheEvictionsCounter:  cacheEvictions,
		CacheResidentBytes:     cacheResident,
		RendersStartedCounter:  rendersStarted,
		RendersDoneCounter:     rendersDone,
		RendersFailedCounter:   rendersFailed,
		RendersDroppedCounter:  rendersDropped,
		RenderLatencyHistogram: renderLatency,
		RealizedPagesUpDown:    realizedPages,
	}, nil
}
