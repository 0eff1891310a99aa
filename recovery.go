package pdfrender

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/logging"
	"github.com/alnah/go-pdfrender/internal/optimizer"
	"github.com/alnah/go-pdfrender/internal/pipeline"
)

// Strategy names a recovery action.
type Strategy string

// Recovery strategies.
const (
	StrategyNetworkRetry     Strategy = "network-retry"
	StrategyTimeoutExtension Strategy = "timeout-extension"
	StrategyCanvasRecreation Strategy = "canvas-recreation"
	StrategyMemoryCleanup    Strategy = "memory-cleanup"
	StrategyURLRefresh       Strategy = "url-refresh"
	StrategyMethodFallback   Strategy = "method-fallback"
	StrategyFatal            Strategy = "fatal"
)

// RecoveryResult is the outcome of DetectAndRecover. On success NewContext
// is the context for the next attempt. When Success is false and Strategy is
// not StrategyFatal, the strategy applied but the attempt ceiling was
// reached or the action itself failed.
type RecoveryResult struct {
	Success    bool
	Strategy   Strategy
	NewContext *RenderContext
	Error      *RenderError
}

// MaxErrorLogEntries bounds the in-memory error log.
const MaxErrorLogEntries = 100

// LogEntry is one structured record of a DetectAndRecover call.
type LogEntry struct {
	RenderingID  string         `json:"renderingId"`
	AttemptID    string         `json:"attemptId,omitempty"`
	Type         ErrorType      `json:"type"`
	Stage        Stage          `json:"stage"`
	Method       Method         `json:"method"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	Context      map[string]any `json:"context"`
	Recoverable  bool           `json:"recoverable"`
	AttemptCount int            `json:"attemptCount"`
	URL          string         `json:"url"`
	TimeElapsed  time.Duration  `json:"timeElapsed"`
	StackTrace   string         `json:"stackTrace,omitempty"`
	Strategy     Strategy       `json:"strategy"`
}

// ErrorLog keeps the most recent log entries. It is safe for concurrent use.
type ErrorLog struct {
	mu      sync.Mutex
	entries []LogEntry
	limit   int
}

// NewErrorLog returns a log holding at most limit entries.
func NewErrorLog(limit int) *ErrorLog {
	if limit <= 0 {
		limit = MaxErrorLogEntries
	}
	return &ErrorLog{limit: limit}
}

func (l *ErrorLog) add(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.limit {
		l.entries = slices.Delete(l.entries, 0, len(l.entries)-l.limit+1)
	}
	l.entries = append(l.entries, e)
}

// Entries returns a copy of the log, oldest first.
func (l *ErrorLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// Len returns the number of entries.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// urlRefresher is the subset of netx.Client recovery needs.
type urlRefresher interface {
	CanRefresh() bool
	Refresh(ctx context.Context, original string) (string, error)
}

// Recovery selects and applies a recovery strategy for a failed attempt.
type Recovery struct {
	cfg        *config.Manager
	classifier *Classifier
	canvases   *canvas.Manager
	pool       *optimizer.CanvasPool
	refresher  urlRefresher
	logger     *slog.Logger
	log        *ErrorLog
	now        func() time.Time
}

// NewRecovery wires a recovery engine. canvases, pool and refresher may be
// nil; the strategies that need them then degrade to a plain retry or fail.
func NewRecovery(cfg *config.Manager, classifier *Classifier, canvases *canvas.Manager, pool *optimizer.CanvasPool, refresher urlRefresher, logger *slog.Logger) *Recovery {
	if cfg == nil {
		cfg = config.NewManager(nil, logger)
	}
	if classifier == nil {
		classifier = NewClassifier(cfg)
	}
	return &Recovery{
		cfg:        cfg,
		classifier: classifier,
		canvases:   canvases,
		pool:       pool,
		refresher:  refresher,
		logger:     logging.OrDiscard(logger),
		log:        NewErrorLog(MaxErrorLogEntries),
		now:        time.Now,
	}
}

// Log returns the in-memory error log.
func (r *Recovery) Log() *ErrorLog {
	return r.log
}

// DetectAndRecover classifies v, records it on rc and in the log, and
// derives the context for the next attempt. It accepts a nil rc and any
// value for v, and never panics.
func (r *Recovery) DetectAndRecover(ctx context.Context, rc *RenderContext, v any) (res RecoveryResult) {
	stage, method := StageInitializing, MethodNone
	if rc != nil {
		stage, method = rc.Progress.Stage, rc.CurrentMethod
	}
	re := r.classifier.Classify(v, stage, method)
	if rc != nil {
		re = re.WithContext(renderContextFields(rc))
	}

	defer func() {
		if p := recover(); p != nil {
			res = RecoveryResult{
				Strategy: StrategyFatal,
				Error:    re.WithContext(map[string]any{"recoveryPanic": fmt.Sprint(p)}),
			}
		}
		r.record(ctx, rc, re, res.Strategy)
	}()

	if rc != nil {
		rc.appendError(re)
	}
	if rc == nil || !re.Recoverable {
		return RecoveryResult{Strategy: StrategyFatal, Error: re}
	}

	strategy := strategyFor(re.Type)
	cfg := r.cfg.Snapshot()
	if strategy != StrategyMethodFallback && rc.MethodAttempts[rc.CurrentMethod] >= cfg.Retry.MaxAttempts {
		return RecoveryResult{
			Strategy: strategy,
			Error:    re.WithContext(map[string]any{"reason": ErrAttemptsExceeded.Error()}),
		}
	}

	next := rc.Next()
	switch strategy {
	case StrategyNetworkRetry:
	case StrategyTimeoutExtension:
		next.Timeout = extendTimeout(rc.Timeout, cfg.Rendering)
	case StrategyCanvasRecreation:
		if err := r.recreateCanvas(rc, next); err != nil {
			return RecoveryResult{Strategy: strategy, Error: r.classifier.Classify(err, stage, method)}
		}
	case StrategyMemoryCleanup:
		r.freeMemory(next)
	case StrategyURLRefresh:
		if r.refresher == nil || !r.refresher.CanRefresh() {
			return RecoveryResult{
				Strategy: StrategyFatal,
				Error:    re.WithContext(map[string]any{"reason": "no url refresh callback configured"}),
			}
		}
		fresh, err := r.refresher.Refresh(ctx, rc.SourceURL)
		if err != nil {
			return RecoveryResult{Strategy: strategy, Error: r.classifier.Classify(err, stage, method)}
		}
		next.URL = fresh
		next.Document = nil
	case StrategyMethodFallback:
		next.CurrentMethod = rc.CurrentMethod.Next()
		if next.CurrentMethod == MethodNone || !rc.fallbackEnabled(cfg.Rendering.FallbackEnabled) {
			return RecoveryResult{Strategy: strategy, Error: re}
		}
		next.setCanvas(nil)
	default:
		return RecoveryResult{Strategy: StrategyFatal, Error: re}
	}
	return RecoveryResult{Success: true, Strategy: strategy, NewContext: next, Error: re}
}

// strategyFor maps a recoverable error type to its strategy. Parsing errors
// reach here only when parsing retries are enabled.
func strategyFor(t ErrorType) Strategy {
	switch t {
	case ErrorNetwork:
		return StrategyNetworkRetry
	case ErrorTimeout:
		return StrategyTimeoutExtension
	case ErrorCanvas:
		return StrategyCanvasRecreation
	case ErrorMemory:
		return StrategyMemoryCleanup
	case ErrorAuthentication:
		return StrategyURLRefresh
	case ErrorParsing, ErrorUnknown:
		return StrategyMethodFallback
	default:
		return StrategyFatal
	}
}

// extendTimeout multiplies cur by the configured factor, capped at the
// timeout ceiling.
func extendTimeout(cur time.Duration, rcfg config.RenderingConfig) time.Duration {
	if cur <= 0 {
		cur = rcfg.Timeout()
	}
	next := time.Duration(float64(cur) * rcfg.TimeoutMultiplier)
	return min(next, rcfg.MaxTimeout())
}

// recreateCanvas replaces the failed canvas and parks the replacement in
// the pool so the next attempt reuses it.
func (r *Recovery) recreateCanvas(rc, next *RenderContext) error {
	next.setCanvas(nil)
	old := rc.Canvas()
	if old == nil || r.canvases == nil {
		if r.pool != nil {
			r.pool.Drain()
		}
		return nil
	}
	fresh, err := r.canvases.RecreateCanvas(old)
	if err != nil {
		return err
	}
	if r.pool != nil {
		r.pool.Release(fresh)
	} else {
		r.canvases.DestroyCanvas(fresh)
	}
	return nil
}

// freeMemory destroys idle canvases and empties the pool.
func (r *Recovery) freeMemory(next *RenderContext) {
	next.setCanvas(nil)
	if r.pool != nil {
		r.pool.Drain()
	}
	if r.canvases != nil {
		n := r.canvases.CleanupUnusedCanvases()
		r.logger.Debug("memory cleanup", "canvasesRemoved", n, "stats", r.canvases.MemoryStats())
	}
}

// renderContextFields is the rendering context merged into error context.
func renderContextFields(rc *RenderContext) map[string]any {
	f := map[string]any{
		"renderingId":  rc.RenderingID,
		"attemptId":    rc.AttemptID,
		"attemptCount": rc.AttemptCount,
		"url":          pipeline.RedactURL(rc.URL),
	}
	if rc.ParentRenderingID != "" {
		f["parentRenderingId"] = rc.ParentRenderingID
	}
	if rc.Characteristics != nil {
		f["documentType"] = rc.Characteristics.Type.String()
		f["documentSize"] = rc.Characteristics.Size
	}
	return f
}

// record writes one log entry to slog and the error log.
func (r *Recovery) record(ctx context.Context, rc *RenderContext, re *RenderError, strategy Strategy) {
	if re == nil {
		re = r.classifier.newError(ErrorUnknown, "Unknown error: <nil>", StageInitializing, MethodNone, false, nil, nil)
	}
	now := r.now()
	e := LogEntry{
		Type:        re.Type,
		Stage:       re.Stage,
		Method:      re.Method,
		Message:     re.Message,
		Timestamp:   re.Timestamp,
		Context:     maps.Clone(re.Context),
		Recoverable: re.Recoverable,
		StackTrace:  re.StackTrace,
		Strategy:    strategy,
	}
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	if rc != nil {
		e.RenderingID = rc.RenderingID
		e.AttemptID = rc.AttemptID
		e.AttemptCount = rc.AttemptCount
		e.URL = pipeline.RedactURL(rc.URL)
		e.TimeElapsed = rc.elapsed(now)
	}
	r.log.add(e)

	if ctx == nil {
		ctx = context.Background()
	}
	level := slog.LevelWarn
	if !e.Recoverable || strategy == StrategyFatal {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("renderingId", e.RenderingID),
		slog.String("type", e.Type.String()),
		slog.String("stage", e.Stage.String()),
		slog.String("method", e.Method.String()),
		slog.String("message", e.Message),
		slog.Time("timestamp", e.Timestamp),
		slog.Any("context", e.Context),
		slog.Bool("recoverable", e.Recoverable),
		slog.Int("attemptCount", e.AttemptCount),
		slog.String("url", e.URL),
		slog.Duration("timeElapsed", e.TimeElapsed),
		slog.String("strategy", string(strategy)),
	}
	if e.StackTrace != "" {
		attrs = append(attrs, slog.String("stackTrace", e.StackTrace))
	}
	r.logger.LogAttrs(ctx, level, "render error", attrs...)
}
