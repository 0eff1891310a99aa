package pdfrender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alnah/go-pdfrender/internal/assets"
	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/diagnostics"
	"github.com/alnah/go-pdfrender/internal/doctype"
	"github.com/alnah/go-pdfrender/internal/logging"
	"github.com/alnah/go-pdfrender/internal/monitor"
	"github.com/alnah/go-pdfrender/internal/netx"
	"github.com/alnah/go-pdfrender/internal/optimizer"
	"github.com/alnah/go-pdfrender/internal/pipeline"
	"github.com/alnah/go-pdfrender/internal/types"
)

var tracer = otel.Tracer("github.com/alnah/go-pdfrender")

// Renderer is the entry point: one RenderPDF call is one operation that
// fetches the document, analyzes it, and walks the method chain with
// recovery until a method succeeds or recovery gives up.
// Create with New, and Close when done. It is safe for concurrent use.
type Renderer struct {
	cfg        *config.Manager
	logger     *slog.Logger
	now        func() time.Time
	net        *netx.Client
	canvases   *canvas.Manager
	optimizer  *optimizer.Optimizer
	monitor    *monitor.System
	docs       *doctype.Handler
	classifier *Classifier
	recovery   *Recovery
	chain      *MethodChain
	capturer   pageCapturer
	progress   *progressTracker

	mu         sync.Mutex
	operations map[string]context.CancelFunc
	closed     bool
}

// New wires a Renderer and its components. The headless browser used by
// the native method starts lazily on first use.
func New(opts ...Option) (*Renderer, error) {
	rcfg := rendererConfig{now: time.Now}
	for _, opt := range opts {
		opt(&rcfg)
	}
	logger := logging.OrDiscard(rcfg.logger)
	cfg := rcfg.cfg
	if cfg == nil {
		cfg = config.NewManager(nil, logger)
	}
	snap := cfg.Snapshot()

	netOpts := []netx.Option{netx.WithLogger(logger)}
	if rcfg.httpClient != nil {
		netOpts = append(netOpts, netx.WithHTTPClient(rcfg.httpClient))
	}
	if rcfg.refresh != nil {
		netOpts = append(netOpts, netx.WithRefresh(netx.RefreshFunc(rcfg.refresh)))
	}
	client := netx.New(snap, netOpts...)

	loader, err := assets.NewAssetResolver(rcfg.assetsDir)
	if err != nil {
		return nil, err
	}

	canvasOpts := []canvas.Option{canvas.WithClock(rcfg.now)}
	if rcfg.probeSet {
		canvasOpts = append(canvasOpts, canvas.WithHeapProbe(rcfg.heapProbe))
	}
	canvases := canvas.NewManager(cfg, logger, canvasOpts...)
	opt := optimizer.New(cfg, canvases, logger, optimizer.WithClock(rcfg.now))
	diag := diagnostics.NewCollector(cfg, logger, diagnostics.WithClock(rcfg.now), diagnostics.WithAssets(loader))
	mon := monitor.New(cfg, diag, logger, monitor.WithClock(rcfg.now))
	classifier := NewClassifier(cfg)
	classifier.now = rcfg.now
	recovery := NewRecovery(cfg, classifier, canvases, opt.Pool(), client, logger)
	recovery.now = rcfg.now

	capturer := rcfg.capturer
	if capturer == nil {
		capturer = newRodCapturer(snap.Browser)
	}
	native, err := newBrowserRenderer(cfg, loader, capturer, logger)
	if err != nil {
		return nil, err
	}
	runners := map[Method]methodRunner{
		MethodPDFJSCanvas:      &canvasRenderer{cfg: cfg, canvases: canvases, pool: opt.Pool(), logger: logger},
		MethodNativeBrowser:    native,
		MethodServerConversion: &serverRenderer{cfg: cfg, fetch: client},
		MethodImageBased:       &imageRenderer{cfg: cfg, fetch: client},
		MethodDownloadFallback: downloadRenderer{},
	}
	for m, r := range rcfg.runners {
		runners[m] = r
	}
	chain := newMethodChain(cfg, classifier, runners, logger)
	chain.now = rcfg.now
	progress := newProgressTracker(rcfg.now,
		func() time.Duration { return cfg.Snapshot().Progress.Retention() },
		func() time.Duration { return cfg.Snapshot().Progress.StuckThreshold() })

	return &Renderer{
		cfg:        cfg,
		logger:     logger,
		now:        rcfg.now,
		net:        client,
		canvases:   canvases,
		optimizer:  opt,
		monitor:    mon,
		docs:       doctype.NewHandler(client, cfg, logger),
		classifier: classifier,
		recovery:   recovery,
		chain:      chain,
		capturer:   capturer,
		progress:   progress,
		operations: make(map[string]context.CancelFunc),
	}, nil
}

// Config returns the configuration manager.
func (r *Renderer) Config() *config.Manager { return r.cfg }

// Monitor returns the monitoring system.
func (r *Renderer) Monitor() *monitor.System { return r.monitor }

// Chain returns the method chain and its statistics.
func (r *Renderer) Chain() *MethodChain { return r.chain }

// Recovery returns the recovery engine and its error log.
func (r *Renderer) Recovery() *Recovery { return r.recovery }

// Optimizer returns the performance optimizer.
func (r *Renderer) Optimizer() *optimizer.Optimizer { return r.optimizer }

// Canvases returns the canvas manager.
func (r *Renderer) Canvases() *canvas.Manager { return r.canvases }

// RenderPDF renders the document at url. It always returns a non-nil
// result and never panics: failures are reported through Success and Error.
// A nil opts uses defaults.
func (r *Renderer) RenderPDF(ctx context.Context, url string, opts *RenderOptions) *RenderResult {
	rc := newRenderContext(url, opts.clone(), r.now())
	return r.run(ctx, rc, opts.Validate())
}

// RetryRendering re-runs the operation rc belonged to under a new rendering
// id whose parent is rc's id. The cumulative attempt count carries over.
func (r *Renderer) RetryRendering(ctx context.Context, rc *RenderContext) *RenderResult {
	if rc == nil {
		id := uuid.NewString()
		return failedResult(id, MethodNone, r.classifier.newError(ErrorUnknown,
			"no render context to retry", StageInitializing, MethodNone, false, nil,
			map[string]any{"renderingId": id}))
	}
	next := rc.Retry(r.now())
	return r.run(ctx, next, next.Options.Validate())
}

// CancelRendering aborts the operation id and releases its canvases and
// diagnostics. Unknown ids are ignored.
func (r *Renderer) CancelRendering(id string) {
	r.mu.Lock()
	cancel, ok := r.operations[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	n := r.canvases.DestroyOwned(id)
	r.monitor.Cancel(id)
	r.progress.finish(id, false)
	r.logger.Info("rendering cancelled", "renderingId", id, "canvasesReleased", n)
}

// Progress returns the progress of operation id, or nil when id is unknown
// or finished longer ago than the retention period.
func (r *Renderer) Progress(id string) *ProgressState {
	return r.progress.get(id)
}

// Analyze classifies the document at url without rendering it and returns
// the profile a render would use.
func (r *Renderer) Analyze(ctx context.Context, url string) (Characteristics, Profile) {
	ch := r.docs.Analyze(ctx, url, nil)
	return ch, r.docs.OptimizedOptions(ch.Type)
}

// Close cancels in-flight operations, shuts the browser down and releases
// every canvas. Later renders fail with ErrRendererClosed.
func (r *Renderer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancels := make([]context.CancelFunc, 0, len(r.operations))
	for _, cancel := range r.operations {
		cancels = append(cancels, cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	var err error
	if r.capturer != nil {
		err = r.capturer.Close()
	}
	r.optimizer.Pool().Drain()
	r.canvases.Cleanup()
	return err
}

// register records the cancel func of an operation. It fails once closed.
func (r *Renderer) register(id string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.operations[id] = cancel
	return true
}

func (r *Renderer) unregister(id string) {
	r.mu.Lock()
	delete(r.operations, id)
	r.mu.Unlock()
}

// operation is the orchestrator's bookkeeping for one RenderPDF call.
type operation struct {
	rc       *RenderContext
	cfg      config.Config
	start    time.Time
	diagOn   bool
	interval atomic.Int64 // progress throttle, nanoseconds

	fetchTime  time.Duration
	throughput float64 // bytes per second of the document fetch
	requests   int
	failures   int
}

func (op *operation) failureRate() float64 {
	if op.requests == 0 {
		return 0
	}
	return float64(op.failures) / float64(op.requests)
}

// run executes rc as one operation. invalid is the result of validating
// the options; the operation fails fast on it.
func (r *Renderer) run(ctx context.Context, rc *RenderContext, invalid error) *RenderResult {
	if ctx == nil {
		ctx = context.Background()
	}
	id := rc.RenderingID
	op := &operation{
		rc:     rc,
		cfg:    r.cfg.Snapshot(),
		start:  r.now(),
		diagOn: rc.Options.DiagnosticsEnabled == nil || *rc.Options.DiagnosticsEnabled,
	}
	op.interval.Store(int64(op.cfg.Progress.UpdateInterval()))

	ctx, cancel := context.WithTimeout(ctx, operationTimeout(rc.Options.Timeout, op.cfg.Rendering))
	defer cancel()
	if !r.register(id, cancel) {
		return failedResult(id, MethodNone, r.classifier.newError(ErrorUnknown, ErrRendererClosed.Error(),
			StageInitializing, MethodNone, false, ErrRendererClosed, map[string]any{"renderingId": id}))
	}
	defer r.unregister(id)

	ctx, span := tracer.Start(ctx, "pdfrender.RenderPDF", trace.WithAttributes(
		attribute.String("pdfrender.rendering_id", id),
		attribute.String("pdfrender.parent_rendering_id", rc.ParentRenderingID),
		attribute.String("pdfrender.url", pipeline.RedactURL(rc.SourceURL)),
	))
	defer span.End()

	r.progress.start(id)
	rc.onProgress = r.progressFunc(id, op)
	if op.diagOn {
		r.monitor.StartOperation(id, pipeline.RedactURL(rc.SourceURL), rc.ParentRenderingID)
	} else {
		r.monitor.StartOperationWithoutDiagnostics(id, pipeline.RedactURL(rc.SourceURL))
	}
	r.logger.Info("rendering started", "renderingId", id, "url", pipeline.RedactURL(rc.SourceURL))

	res := r.execute(ctx, op, invalid)
	r.finish(op, res)

	span.SetAttributes(
		attribute.String("pdfrender.method", res.Method.String()),
		attribute.Int("pdfrender.attempts", res.Attempts),
		attribute.Int("pdfrender.pages", len(res.Pages)),
	)
	if !res.Success && res.Error != nil {
		span.RecordError(res.Error)
		span.SetStatus(codes.Error, res.Error.Message)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res
}

// execute runs the fetch, analysis and method phases. Panics become a
// failed result.
func (r *Renderer) execute(ctx context.Context, op *operation, invalid error) (res *RenderResult) {
	defer func() {
		if p := recover(); p != nil {
			rc := op.rc
			rec := r.recovery.DetectAndRecover(ctx, rc, newPanicError(p))
			r.monitor.RecordError(rc.RenderingID, rec.Error)
			res = failedResult(rc.RenderingID, rc.CurrentMethod, rec.Error)
		}
	}()

	if invalid == nil && op.rc.URL == "" {
		invalid = ErrEmptyURL
	}
	if invalid != nil {
		return r.fail(ctx, op, r.classifier.newError(ErrorUnknown, invalid.Error(),
			StageInitializing, MethodNone, false, invalid, nil))
	}

	if re := r.fetchDocument(ctx, op); re != nil {
		return failedResult(op.rc.RenderingID, MethodNone, re)
	}
	if re := r.analyze(ctx, op); re != nil {
		return failedResult(op.rc.RenderingID, MethodNone, re)
	}
	return r.renderWithFallback(ctx, op)
}

// fail runs a terminal error through recovery so it is classified, logged
// and attached to the context, and returns the failed result.
func (r *Renderer) fail(ctx context.Context, op *operation, v any) *RenderResult {
	rec := r.recovery.DetectAndRecover(ctx, op.rc, v)
	r.monitor.RecordError(op.rc.RenderingID, rec.Error)
	return failedResult(op.rc.RenderingID, op.rc.CurrentMethod, rec.Error)
}

// fetchDocument downloads the document, retrying through recovery. It
// returns the last error when recovery gives up or the operation's time
// budget runs out.
func (r *Renderer) fetchDocument(ctx context.Context, op *operation) *RenderError {
	id := op.rc.RenderingID
	r.monitor.UpdateStage(id, StageFetching, MethodNone)
	for {
		rc := op.rc
		rc.AttemptCount++
		rc.MethodAttempts[MethodNone]++
		rc.Progress.Stage = StageFetching
		rc.report(StageFetching, 0)

		start := r.now()
		op.requests++
		resp, err := r.net.Get(ctx, rc.URL, func(loaded, total int64) {
			r.progress.bytes(id, loaded, total)
			if total > 0 {
				rc.report(StageFetching, float64(loaded)/float64(total)*100)
			}
		})
		elapsed := r.now().Sub(start)
		op.fetchTime += elapsed
		if err == nil {
			rc.Document = resp.Body
			if s := elapsed.Seconds(); s > 0 {
				op.throughput = float64(len(resp.Body)) / s
			}
			rc.report(StageFetching, 100)
			r.monitor.Diagnostics().UpdatePerformanceMetrics(id, diagnostics.PerformanceMetrics{
				NetworkTime: op.fetchTime,
				BytesLoaded: int64(len(resp.Body)),
			})
			return nil
		}

		op.failures++
		rec := r.recovery.DetectAndRecover(ctx, rc, err)
		r.monitor.RecordError(id, rec.Error)
		if !rec.Success {
			return rec.Error
		}
		next := rec.NewContext
		policy := r.optimizer.RetryTiming(0, optimizer.ClassifyNetwork(op.throughput, op.failureRate()))
		if sleep(ctx, policy.Delay(next.MethodAttempts[MethodNone])) != nil {
			return rec.Error
		}
		op.rc = next
	}
}

// analyze classifies the fetched document, checks the password and merges
// the tuned profile into the options.
func (r *Renderer) analyze(ctx context.Context, op *operation) *RenderError {
	rc := op.rc
	id := rc.RenderingID
	rc.Progress.Stage = StageParsing
	r.monitor.UpdateStage(id, StageParsing, MethodNone)

	parseStart := r.now()
	ch := r.docs.Analyze(ctx, rc.URL, rc.Document)
	if t := rc.Options.TypeSpecific.DocumentType; t != nil {
		ch.Type = *t
	}
	rc.Characteristics = &ch
	diag := r.monitor.Diagnostics()
	diag.SetDocumentType(id, ch.Type)
	diag.UpdatePerformanceMetrics(id, diagnostics.PerformanceMetrics{
		ParseTime: r.now().Sub(parseStart),
		PageCount: ch.PageCount,
	})
	op.interval.Store(int64(r.optimizer.ProgressInterval(ch.Complexity)))

	if ch.IsEncrypted || ch.Type == types.DocPasswordProtected {
		err := doctype.HandlePasswordProtected(rc.Options.PDFPassword)
		if err == nil && ch.IsEncrypted {
			err = doctype.VerifyPassword(rc.Document, rc.Options.PDFPassword)
		}
		if err != nil {
			return r.fail(ctx, op, err).Error
		}
	}

	profile := r.docs.OptimizedOptions(ch.Type)
	ts := &rc.Options.TypeSpecific
	if ts.EnableStreaming == nil {
		streaming := profile.EnableStreaming
		ts.EnableStreaming = &streaming
	}
	if ts.MemoryManagement == "" {
		ts.MemoryManagement = profile.MemoryManagement
	}
	if ts.MaxConcurrentPages == 0 {
		ts.MaxConcurrentPages = profile.MaxConcurrentPages
	}
	rc.Timeout = min(profile.Timeout, op.cfg.Rendering.MaxTimeout())
	r.logger.Debug("document analyzed",
		"renderingId", id,
		"type", ch.Type,
		"size", ch.Size,
		"pages", ch.PageCount,
		"complexity", ch.Complexity,
		"timeout", rc.Timeout)
	return nil
}

// renderWithFallback walks the method chain. A method is retried with the
// recovery strategy until its attempt ceiling, then the chain falls back to
// the next enabled method when fallback is on.
func (r *Renderer) renderWithFallback(ctx context.Context, op *operation) *RenderResult {
	id := op.rc.RenderingID
	op.rc.CurrentMethod = r.selectMethod(op)
	fallback := op.rc.fallbackEnabled(op.cfg.Rendering.FallbackEnabled)

	for {
		rc := op.rc
		rc.AttemptCount++
		rc.MethodAttempts[rc.CurrentMethod]++
		rc.Progress.Stage = StageRendering
		r.monitor.UpdateStage(id, StageRendering, rc.CurrentMethod)

		res := r.attempt(ctx, rc)
		if res.Success {
			return res
		}

		rec := r.recovery.DetectAndRecover(ctx, rc, res.Error)
		r.monitor.RecordError(id, rec.Error)
		res.Error = rec.Error
		if ctx.Err() != nil {
			return res
		}

		switch {
		case rec.Success:
			next := rec.NewContext
			if next.CurrentMethod != rc.CurrentMethod {
				next.CurrentMethod = r.firstEnabled(next.CurrentMethod)
			} else {
				policy := r.optimizer.RetryTiming(docSize(rc), optimizer.ClassifyNetwork(op.throughput, op.failureRate()))
				if sleep(ctx, policy.Delay(next.MethodAttempts[next.CurrentMethod])) != nil {
					return res
				}
			}
			op.rc = next
		case rec.Strategy != StrategyFatal && rec.Strategy != StrategyMethodFallback &&
			fallback && rc.CurrentMethod.Next() != MethodNone:
			r.logger.Info("attempts exhausted, falling back",
				"renderingId", id,
				"method", rc.CurrentMethod,
				"attempts", rc.MethodAttempts[rc.CurrentMethod])
			if c := rc.Canvas(); c != nil {
				r.optimizer.Pool().Release(c)
			}
			next := rc.Next()
			next.setCanvas(nil)
			next.CurrentMethod = r.firstEnabled(rc.CurrentMethod.Next())
			op.rc = next
		default:
			return res
		}
	}
}

// attempt runs one method under the per-attempt timeout and records the
// outcome with the optimizer and the diagnostics collector.
func (r *Renderer) attempt(ctx context.Context, rc *RenderContext) *RenderResult {
	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Snapshot().Rendering.Timeout()
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	actx, span := tracer.Start(actx, "pdfrender.AttemptMethod", trace.WithAttributes(
		attribute.String("pdfrender.rendering_id", rc.RenderingID),
		attribute.String("pdfrender.attempt_id", rc.AttemptID),
		attribute.String("pdfrender.method", rc.CurrentMethod.String()),
		attribute.Int("pdfrender.attempt", rc.AttemptCount),
	))
	defer span.End()

	res := r.chain.AttemptMethod(actx, rc.CurrentMethod, rc)

	a := diagnostics.MethodAttempt{
		Method:   res.Method,
		Success:  res.Success,
		Duration: res.Duration,
		Pages:    len(res.Pages),
	}
	if res.Error != nil {
		a.Error = res.Error.Message
		span.RecordError(res.Error)
		span.SetStatus(codes.Error, res.Error.Message)
	}
	r.monitor.Diagnostics().RecordMethod(rc.RenderingID, a)
	if rc.Characteristics != nil {
		r.optimizer.RecordOutcome(*rc.Characteristics, res.Method, res.Success, res.Duration)
	}
	if res.Success {
		r.monitor.UpdateStage(rc.RenderingID, StageFinalizing, res.Method)
		r.monitor.Diagnostics().UpdatePerformanceMetrics(rc.RenderingID, diagnostics.PerformanceMetrics{
			RenderTime: res.Duration,
			PageCount:  len(res.Pages),
		})
	}
	return res
}

// selectMethod picks the first method: the caller's preference, a trusted
// learned choice, the chain's best recorded method for the document type,
// then the rule-based choice. Disabled methods are skipped.
func (r *Renderer) selectMethod(op *operation) Method {
	rc := op.rc
	if m := rc.Options.PreferredMethod; m.Valid() {
		return r.firstEnabled(m)
	}
	var ch Characteristics
	if rc.Characteristics != nil {
		ch = *rc.Characteristics
	}
	sel := r.optimizer.SelectMethod(ch, r.environment(op))
	m := sel.Method
	if !sel.Learned {
		if best, ok := r.chain.bestRecorded(ch.Type); ok {
			m = best
		}
	}
	r.logger.Debug("method selected",
		"renderingId", rc.RenderingID,
		"method", m,
		"learned", sel.Learned,
		"confidence", sel.Confidence,
		"reason", sel.Reason)
	return r.firstEnabled(m)
}

// environment describes the client side for method selection.
func (r *Renderer) environment(op *operation) optimizer.Environment {
	env := optimizer.Environment{
		Network: optimizer.ClassifyNetwork(op.throughput, op.failureRate()),
		Device:  optimizer.DeviceDesktop,
	}
	stats := r.canvases.MemoryStats()
	if free := stats.PressureThreshold - stats.TotalMemoryUsage; stats.PressureThreshold > 0 && free > 0 {
		env.AvailableMemory = free
	}
	return env
}

// firstEnabled returns m or the first enabled method after it. The
// download fallback is always enabled, so the walk ends.
func (r *Renderer) firstEnabled(m Method) Method {
	methods := r.cfg.Snapshot().Methods
	for m.Valid() && !enabled(m, methods) {
		m = m.Next()
	}
	if !m.Valid() {
		return MethodDownloadFallback
	}
	return m
}

// finish completes the operation's bookkeeping: diagnostics and monitoring,
// progress, and canvases owned by the operation.
func (r *Renderer) finish(op *operation, res *RenderResult) {
	rc := op.rc
	id := rc.RenderingID

	res.RenderingID = id
	res.Context = rc
	res.Attempts = rc.AttemptCount
	res.Duration = r.now().Sub(op.start)
	if res.Pages == nil {
		res.Pages = []Page{}
	}
	if res.Characteristics == nil && rc.Characteristics != nil {
		c := *rc.Characteristics
		res.Characteristics = &c
	}
	if !res.Success && res.Error == nil {
		res.Error = r.classifier.Classify(errors.New("rendering failed"), rc.Progress.Stage, rc.CurrentMethod)
	}

	if c := rc.Canvas(); c != nil {
		r.optimizer.Pool().Release(c)
		rc.setCanvas(nil)
	}
	stats := r.canvases.MemoryStats()
	r.monitor.Diagnostics().UpdatePerformanceMetrics(id, diagnostics.PerformanceMetrics{
		MemoryUsage: stats.TotalMemoryUsage,
		CanvasCount: stats.TotalCanvases,
	})
	res.Diagnostics = r.monitor.CompleteOperation(id, res.Success, res.Method)
	r.progress.finish(id, res.Success)
	if n := r.canvases.DestroyOwned(id); n > 0 {
		r.logger.Debug("released canvases", "renderingId", id, "count", n)
	}
	r.optimizer.Pool().Optimize()

	if res.Success {
		r.logger.Info("rendering completed",
			"renderingId", id,
			"method", res.Method,
			"pages", len(res.Pages),
			"attempts", res.Attempts,
			"duration", res.Duration)
		return
	}
	r.logger.Warn("rendering failed",
		"renderingId", id,
		"type", res.Error.Type,
		"message", res.Error.Message,
		"recoverable", res.Error.Recoverable,
		"attempts", res.Attempts,
		"duration", res.Duration)
}

// progressFunc maps per-stage progress onto the operation's overall
// percentage. Stage changes and completion are applied at once; other
// updates at most once per throttle interval.
func (r *Renderer) progressFunc(id string, op *operation) func(Stage, float64) {
	var (
		mu    sync.Mutex
		last  time.Time
		stage = StageInitializing
	)
	return func(s Stage, pct float64) {
		now := r.now()
		mu.Lock()
		emit := s != stage || pct >= 100 || now.Sub(last) >= time.Duration(op.interval.Load())
		if emit {
			stage, last = s, now
		}
		mu.Unlock()
		if emit {
			r.progress.update(id, s, overallPercent(s, pct))
		}
	}
}

// overallPercent maps a percentage within stage onto the whole operation.
func overallPercent(stage Stage, pct float64) float64 {
	pct = min(max(pct, 0), 100) / 100
	var lo, hi float64
	switch stage {
	case StageFetching:
		lo, hi = 0, 30
	case StageParsing:
		lo, hi = 30, 40
	case StageRendering:
		lo, hi = 40, 95
	case StageFinalizing:
		lo, hi = 95, 100
	case StageComplete:
		return 100
	default:
		return 0
	}
	return lo + (hi-lo)*pct
}

// operationTimeout bounds a whole operation: the caller's timeout when set,
// never beyond the configured ceiling.
func operationTimeout(requested time.Duration, rcfg config.RenderingConfig) time.Duration {
	ceiling := rcfg.MaxTimeout()
	if requested > 0 {
		return min(requested, ceiling)
	}
	return ceiling
}

// docSize returns the analyzed document size, 0 when unknown.
func docSize(rc *RenderContext) int64 {
	if rc.Characteristics != nil {
		return rc.Characteristics.Size
	}
	return int64(len(rc.Document))
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
