// Package pipeline executes render requests off the interactive goroutine.
// It debounces rapid parameter changes per page, drops results whose
// generation token went stale, retries transient failures with backoff, and
// delivers finished bitmaps through a completion queue drained by the
// interactive goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/sushant-115/gojoview/core/render/dpi"
	"github.com/sushant-115/gojoview/core/render/pagesource"
	"github.com/sushant-115/gojoview/core/render/scheduler"
	internaltelemetry "github.com/sushant-115/gojoview/internal/telemetry"
)

const (
	DefaultWorkers          = 2
	DefaultDebounceWindow   = 75 * time.Millisecond
	DefaultMaxRetries       = 2
	DefaultRetryBackoff     = 50 * time.Millisecond
	DefaultRenderTimeout    = 5 * time.Second
	DefaultCompletionBuffer = 64

	jobQueueDepth = 256
)

// Config tunes the pipeline. Zero values take the defaults above.
type Config struct {
	Workers        int           `yaml:"workers"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RenderTimeout  time.Duration `yaml:"render_timeout"`
	// DispatchPerSecond throttles how fast workers may start renders.
	// 0 disables the limiter.
	DispatchPerSecond float64 `yaml:"dispatch_per_second"`
	CompletionBuffer  int     `yaml:"completion_buffer"`
}

// UnmarshalYAML accepts Go duration strings ("75ms", "5s") for the
// duration fields, which yaml.v3 does not decode natively.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Workers           int     `yaml:"workers"`
		DebounceWindow    string  `yaml:"debounce_window"`
		MaxRetries        int     `yaml:"max_retries"`
		RetryBackoff      string  `yaml:"retry_backoff"`
		RenderTimeout     string  `yaml:"render_timeout"`
		DispatchPerSecond float64 `yaml:"dispatch_per_second"`
		CompletionBuffer  int     `yaml:"completion_buffer"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Workers = raw.Workers
	c.MaxRetries = raw.MaxRetries
	c.DispatchPerSecond = raw.DispatchPerSecond
	c.CompletionBuffer = raw.CompletionBuffer
	for _, d := range []struct {
		text string
		dst  *time.Duration
	}{
		{raw.DebounceWindow, &c.DebounceWindow},
		{raw.RetryBackoff, &c.RetryBackoff},
		{raw.RenderTimeout, &c.RenderTimeout},
	} {
		if d.text == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.text)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.text, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = DefaultDebounceWindow
	} else if c.DebounceWindow < 0 {
		// Negative disables debouncing; jobs dispatch immediately.
		c.DebounceWindow = 0
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = DefaultRenderTimeout
	}
	if c.CompletionBuffer <= 0 {
		c.CompletionBuffer = DefaultCompletionBuffer
	}
}

// Completion is a finished render delivered back to the interactive
// goroutine. Either Bitmap or Err is set.
type Completion struct {
	PageIndex  int
	ZoomFactor float64
	Rotation   int
	Generation uint64
	Bitmap     *pagesource.Bitmap
	Err        error
	Duration   time.Duration
}

type job struct {
	id         string
	pageIndex  int
	zoomFactor float64
	rotation   int
	generation uint64
}

type pendingJob struct {
	job
	timer *time.Timer
}

// Pipeline runs the worker pool. Submit is safe to call from the interactive
// goroutine; everything else happens on workers.
type Pipeline struct {
	logger   *zap.Logger
	metrics  *internaltelemetry.RenderMetrics
	cfg      Config
	renderer pagesource.PageRenderer
	dpiCache *dpi.Cache
	limiter  *rate.Limiter

	mu      sync.Mutex
	latest  map[int]uint64 // newest submitted generation per page
	pending map[int]*pendingJob
	closed  bool

	jobs        chan job
	completions chan Completion

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and starts a pipeline. renderer and logger must not be nil;
// metrics may be nil.
func New(cfg Config, renderer pagesource.PageRenderer, dpiCache *dpi.Cache, logger *zap.Logger, metrics *internaltelemetry.RenderMetrics) *Pipeline {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		logger:      logger,
		metrics:     metrics,
		cfg:         cfg,
		renderer:    renderer,
		dpiCache:    dpiCache,
		latest:      make(map[int]uint64),
		pending:     make(map[int]*pendingJob),
		jobs:        make(chan job, jobQueueDepth),
		completions: make(chan Completion, cfg.CompletionBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}
	if cfg.DispatchPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchPerSecond), cfg.Workers)
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Info("render pipeline started",
		zap.Int("workers", cfg.Workers),
		zap.Duration("debounce_window", cfg.DebounceWindow),
		zap.Duration("render_timeout", cfg.RenderTimeout))
	return p
}

// Completions is the single-consumer queue of finished renders. The
// interactive goroutine drains it and applies results to cache and
// coordinator.
func (p *Pipeline) Completions() <-chan Completion { return p.completions }

// Submit accepts a render request. Requests for the same page arriving
// within the debounce window are coalesced: only the last one settles into
// an actual render call.
func (p *Pipeline) Submit(req *scheduler.Request) {
	j := job{
		id:         uuid.New().String(),
		pageIndex:  req.PageIndex,
		zoomFactor: req.ZoomFactor,
		rotation:   req.Rotation,
		generation: req.Generation,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.latest[j.pageIndex] = j.generation

	if p.cfg.DebounceWindow == 0 {
		p.enqueueLocked(j)
		return
	}

	if pend, ok := p.pending[j.pageIndex]; ok {
		// Coalesce: keep the timer running, replace the parameters.
		pend.job = j
		pend.timer.Reset(p.cfg.DebounceWindow)
		return
	}
	pend := &pendingJob{job: j}
	pend.timer = time.AfterFunc(p.cfg.DebounceWindow, func() {
		p.settle(j.pageIndex)
	})
	p.pending[j.pageIndex] = pend
}

// settle moves a debounced job into the worker queue once its window
// elapsed without another parameter change.
func (p *Pipeline) settle(pageIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pend, ok := p.pending[pageIndex]
	if !ok || p.closed {
		return
	}
	delete(p.pending, pageIndex)
	if p.latest[pageIndex] != pend.generation {
		return // superseded while waiting out the window
	}
	p.enqueueLocked(pend.job)
}

func (p *Pipeline) enqueueLocked(j job) {
	select {
	case p.jobs <- j:
	default:
		// Queue saturated; the page will be rescheduled when it is still
		// visible on the next reconcile pass.
		p.logger.Warn("render job queue full, dropping request",
			zap.String("request_id", j.id),
			zap.Int("page", j.pageIndex))
	}
}

// Close cancels all outstanding work and waits for the workers. Pending
// debounce timers are stopped; no completions are delivered after Close
// returns.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for page, pend := range p.pending {
		pend.timer.Stop()
		delete(p.pending, page)
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	close(p.completions)
	p.logger.Info("render pipeline stopped")
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			if p.stale(j) {
				p.countDropped()
				continue
			}
			if p.limiter != nil {
				if err := p.limiter.Wait(p.ctx); err != nil {
					return
				}
			}
			p.execute(log, j)
		}
	}
}

// stale reports whether a newer generation has been submitted for the
// job's page.
func (p *Pipeline) stale(j job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest[j.pageIndex] != j.generation
}

// execute runs the render with retry and timeout handling, then posts the
// completion unless the job went stale meanwhile.
func (p *Pipeline) execute(log *zap.Logger, j job) {
	res := p.dpiCache.ResolutionFor(j.zoomFactor)
	p.count(func(m *internaltelemetry.RenderMetrics) { m.RendersStartedCounter.Add(p.ctx, 1) })

	started := time.Now()
	bitmap, err := p.renderWithRetry(log, j, res)
	elapsed := time.Since(started)

	if p.stale(j) {
		// Superseded while rendering; discard silently.
		p.countDropped()
		log.Debug("dropping stale render result",
			zap.String("request_id", j.id),
			zap.Int("page", j.pageIndex))
		return
	}

	c := Completion{
		PageIndex:  j.pageIndex,
		ZoomFactor: j.zoomFactor,
		Rotation:   j.rotation,
		Generation: j.generation,
		Bitmap:     bitmap,
		Err:        err,
		Duration:   elapsed,
	}
	if err != nil {
		p.count(func(m *internaltelemetry.RenderMetrics) { m.RendersFailedCounter.Add(p.ctx, 1) })
		log.Warn("render failed",
			zap.String("request_id", j.id),
			zap.Int("page", j.pageIndex),
			zap.Error(err))
	} else {
		p.count(func(m *internaltelemetry.RenderMetrics) {
			m.RendersDoneCounter.Add(p.ctx, 1)
			m.RenderLatencyHistogram.Record(p.ctx, elapsed.Milliseconds())
		})
	}

	select {
	case p.completions <- c:
	case <-p.ctx.Done():
	}
}

// renderWithRetry calls the renderer with a per-attempt timeout. Transient
// failures and timeouts retry with increasing backoff; permanent failures
// and exhausted budgets return the final error.
func (p *Pipeline) renderWithRetry(log *zap.Logger, j job, res dpi.Resolution) (*pagesource.Bitmap, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * p.cfg.RetryBackoff
			select {
			case <-time.After(backoff):
			case <-p.ctx.Done():
				return nil, p.ctx.Err()
			}
			if p.stale(j) {
				return nil, fmt.Errorf("superseded during retry: %w", lastErr)
			}
			log.Debug("retrying render",
				zap.String("request_id", j.id),
				zap.Int("page", j.pageIndex),
				zap.Int("attempt", attempt))
		}

		attemptCtx, cancel := context.WithTimeout(p.ctx, p.cfg.RenderTimeout)
		bitmap, err := p.renderer.RenderPageToBitmap(attemptCtx, j.pageIndex, res.X, res.Y, j.rotation)
		cancel()

		if err == nil {
			if !bitmap.Valid() {
				// A nil bitmap with no error means the page cannot be
				// rendered at all; retrying will not change that.
				return nil, fmt.Errorf("renderer produced empty bitmap: %w", pagesource.ErrRenderPermanent)
			}
			return bitmap, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", pagesource.ErrRenderTimeout, p.cfg.RenderTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		if !pagesource.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (p *Pipeline) countDropped() {
	p.count(func(m *internaltelemetry.RenderMetrics) { m.RendersDroppedCounter.Add(p.ctx, 1) })
}

func (p *Pipeline) count(record func(*internaltelemetry.RenderMetrics)) {
	if p.metrics != nil {
		record(p.metrics)
	}
}
