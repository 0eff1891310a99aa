package pdfrender

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/logging"
	"github.com/alnah/go-pdfrender/internal/types"
)

// NextMethod returns the method after m in the fallback chain, or
// MethodNone at the end of the chain and for invalid input.
func NextMethod(m Method) Method {
	return m.Next()
}

// methodRunner renders a document with one method.
type methodRunner interface {
	Render(ctx context.Context, rc *RenderContext) ([]Page, error)
}

// stagedError records the stage an attempt failed in.
type stagedError struct {
	stage Stage
	err   error
}

func (e *stagedError) Error() string { return e.err.Error() }
func (e *stagedError) Unwrap() error { return e.err }

// atStage tags err with stage. A nil err stays nil.
func atStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &stagedError{stage: stage, err: err}
}

// MethodStats is the record for one (method, document type) pair.
type MethodStats struct {
	Method          Method        `json:"method"`
	DocumentType    DocumentType  `json:"documentType"`
	Successes       int           `json:"successes"`
	Attempts        int           `json:"attempts"`
	TotalRenderTime time.Duration `json:"totalRenderTime"`
	AvgRenderTime   time.Duration `json:"avgRenderTime"`
	LastUsed        time.Time     `json:"lastUsed"`
}

// SuccessRate returns successes over attempts, 0 without attempts.
func (s MethodStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

type statsKey struct {
	method  Method
	docType DocumentType
}

// MethodChain dispatches attempts to the method backends and learns which
// method works best per document type. It is safe for concurrent use.
type MethodChain struct {
	cfg        *config.Manager
	classifier *Classifier
	logger     *slog.Logger
	now        func() time.Time
	runners    map[Method]methodRunner

	mu    sync.Mutex
	stats map[statsKey]*MethodStats
}

// newMethodChain returns a chain dispatching to runners.
func newMethodChain(cfg *config.Manager, classifier *Classifier, runners map[Method]methodRunner, logger *slog.Logger) *MethodChain {
	return &MethodChain{
		cfg:        cfg,
		classifier: classifier,
		logger:     logging.OrDiscard(logger),
		now:        time.Now,
		runners:    runners,
		stats:      make(map[statsKey]*MethodStats),
	}
}

// RecordMethodSuccess counts a successful attempt and recomputes the
// average render time from the totals.
func (mc *MethodChain) RecordMethodSuccess(m Method, dt DocumentType, renderTime time.Duration) {
	mc.record(m, dt, true, renderTime)
}

// RecordMethodFailure counts a failed attempt.
func (mc *MethodChain) RecordMethodFailure(m Method, dt DocumentType) {
	mc.record(m, dt, false, 0)
}

func (mc *MethodChain) record(m Method, dt DocumentType, success bool, d time.Duration) {
	if !m.Valid() {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	k := statsKey{m, dt}
	s, ok := mc.stats[k]
	if !ok {
		s = &MethodStats{Method: m, DocumentType: dt}
		mc.stats[k] = s
	}
	s.Attempts++
	if success {
		s.Successes++
		s.TotalRenderTime += d
	}
	if s.Successes > 0 {
		s.AvgRenderTime = s.TotalRenderTime / time.Duration(s.Successes)
	}
	s.LastUsed = mc.now()
}

// PreferredMethod returns the recorded method with the highest success rate
// for dt, ties going to the lower average render time. Without history it
// returns the static default for dt.
func (mc *MethodChain) PreferredMethod(dt DocumentType) Method {
	if m, ok := mc.bestRecorded(dt); ok {
		return m
	}
	return defaultMethod(dt)
}

// bestRecorded returns the best recorded method for dt, if any.
func (mc *MethodChain) bestRecorded(dt DocumentType) (Method, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var best *MethodStats
	for k, s := range mc.stats {
		if k.docType != dt || s.Attempts == 0 {
			continue
		}
		if best == nil || betterStats(s, best) {
			best = s
		}
	}
	if best == nil {
		return MethodNone, false
	}
	return best.Method, true
}

// betterStats orders a before b: higher success rate, then faster, then
// earlier in the chain.
func betterStats(a, b *MethodStats) bool {
	if ra, rb := a.SuccessRate(), b.SuccessRate(); ra != rb {
		return ra > rb
	}
	if a.AvgRenderTime != b.AvgRenderTime {
		return a.AvgRenderTime < b.AvgRenderTime
	}
	return a.Method < b.Method
}

// defaultMethod is the preferred method for a document type without history.
func defaultMethod(dt DocumentType) Method {
	if dt == types.DocLarge {
		return MethodServerConversion
	}
	return MethodPDFJSCanvas
}

// Stats returns every record, ordered by document type then method.
func (mc *MethodChain) Stats() []MethodStats {
	mc.mu.Lock()
	out := make([]MethodStats, 0, len(mc.stats))
	for _, s := range mc.stats {
		out = append(out, *s)
	}
	mc.mu.Unlock()
	slices.SortFunc(out, func(a, b MethodStats) int {
		return cmp.Or(cmp.Compare(a.DocumentType, b.DocumentType), cmp.Compare(a.Method, b.Method))
	})
	return out
}

// enabled reports whether m may run under cfg. The download fallback is
// always enabled.
func enabled(m Method, cfg config.MethodsConfig) bool {
	switch m {
	case MethodPDFJSCanvas:
		return cfg.PDFJSCanvas
	case MethodNativeBrowser:
		return cfg.NativeBrowser
	case MethodServerConversion:
		return cfg.ServerConversion
	case MethodImageBased:
		return cfg.ImageBased
	case MethodDownloadFallback:
		return true
	}
	return false
}

// AttemptMethod runs method against rc and always returns a result: a
// panic, an unknown method or a disabled method become a failed result.
// The outcome is recorded in the method statistics.
func (mc *MethodChain) AttemptMethod(ctx context.Context, method Method, rc *RenderContext) (res *RenderResult) {
	start := mc.now()
	id := ""
	if rc != nil {
		id = rc.RenderingID
	}

	if !method.Valid() {
		err := fmt.Errorf("%w: %s", ErrUnknownMethod, method)
		return failedResult(id, method,
			mc.classifier.newError(ErrorUnknown, err.Error(), StageInitializing, method, false, err, nil))
	}
	if rc == nil {
		return failedResult(id, method, mc.classifier.Classify("no render context", StageInitializing, method))
	}

	stage := StageRendering
	defer func() {
		if r := recover(); r != nil {
			res = failedResult(id, method, mc.classifier.Classify(newPanicError(r), stage, method))
		}
		res.Attempts = rc.AttemptCount
		res.Duration = mc.now().Sub(start)
		if res.Characteristics == nil && rc.Characteristics != nil {
			c := *rc.Characteristics
			res.Characteristics = &c
		}
		dt := types.DocStandard
		if rc.Characteristics != nil {
			dt = rc.Characteristics.Type
		}
		if res.Success {
			mc.RecordMethodSuccess(method, dt, res.Duration)
		} else {
			mc.RecordMethodFailure(method, dt)
		}
	}()

	runner, ok := mc.runners[method]
	if !ok || !enabled(method, mc.cfg.Snapshot().Methods) {
		return failedResult(id, method,
			mc.classifier.Classify(fmt.Errorf("%w: %s", ErrMethodDisabled, method), StageInitializing, method))
	}

	mc.logger.Debug("attempting method", "renderingId", id, "method", method, "attempt", rc.AttemptCount)
	pages, err := runner.Render(ctx, rc)
	if err == nil && len(pages) == 0 {
		err = ErrNoPages
	}
	if err != nil {
		var se *stagedError
		if errors.As(err, &se) {
			stage = se.stage
		}
		return failedResult(id, method, mc.classifier.Classify(err, stage, method))
	}
	return &RenderResult{
		RenderingID: id,
		Success:     true,
		Pages:       pages,
		Method:      method,
	}
}
