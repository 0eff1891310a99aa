package pdfrender

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alnah/go-pdfrender/internal/canvas"
)

// RenderContext is the state of one attempt chain. It is owned by a single
// render operation. Recovery never mutates a failed context: it derives a
// fresh one with Next.
type RenderContext struct {
	RenderingID       string
	ParentRenderingID string // set on contexts created by RetryRendering
	AttemptID         string
	URL               string // current URL, possibly refreshed
	SourceURL         string // URL as first requested
	Options           RenderOptions
	StartTime         time.Time
	CurrentMethod     Method
	AttemptCount      int            // cumulative across the operation
	MethodAttempts    map[Method]int // attempts per method
	Timeout           time.Duration  // per-attempt timeout
	Characteristics   *Characteristics
	Document          []byte
	Progress          ProgressState

	onProgress func(stage Stage, percentage float64)

	mu           sync.Mutex
	canvas       *canvas.Canvas
	errorHistory []*RenderError
}

// newRenderContext starts a context for url with fresh identities.
func newRenderContext(url string, opts RenderOptions, now time.Time) *RenderContext {
	return &RenderContext{
		RenderingID:    uuid.NewString(),
		AttemptID:      uuid.NewString(),
		URL:            url,
		SourceURL:      url,
		Options:        opts,
		StartTime:      now,
		MethodAttempts: make(map[Method]int),
		Progress:       ProgressState{Stage: StageInitializing, LastUpdate: now},
	}
}

// Next derives the context for the following attempt: a new AttemptID,
// copied options, an empty error history and the cumulative attempt count.
// The document, characteristics and canvas carry over.
func (rc *RenderContext) Next() *RenderContext {
	rc.mu.Lock()
	cv := rc.canvas
	rc.mu.Unlock()

	n := &RenderContext{
		RenderingID:       rc.RenderingID,
		ParentRenderingID: rc.ParentRenderingID,
		AttemptID:         uuid.NewString(),
		URL:               rc.URL,
		SourceURL:         rc.SourceURL,
		Options:           rc.Options.clone(),
		StartTime:         rc.StartTime,
		CurrentMethod:     rc.CurrentMethod,
		AttemptCount:      rc.AttemptCount,
		MethodAttempts:    maps.Clone(rc.MethodAttempts),
		Timeout:           rc.Timeout,
		Characteristics:   clonePtr(rc.Characteristics),
		Document:          rc.Document,
		Progress:          rc.Progress,
		onProgress:        rc.onProgress,
		canvas:            cv,
	}
	if n.MethodAttempts == nil {
		n.MethodAttempts = make(map[Method]int)
	}
	return n
}

// Retry derives a context for RetryRendering: a new RenderingID whose
// parent is rc, reset progress and history, and the cumulative attempt
// count carried forward.
func (rc *RenderContext) Retry(now time.Time) *RenderContext {
	n := newRenderContext(rc.SourceURL, rc.Options.clone(), now)
	n.ParentRenderingID = rc.RenderingID
	n.AttemptCount = rc.AttemptCount
	return n
}

// ErrorHistory returns a copy of the errors recorded on rc.
func (rc *RenderContext) ErrorHistory() []*RenderError {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return slices.Clone(rc.errorHistory)
}

// LastError returns the most recent recorded error, or nil.
func (rc *RenderContext) LastError() *RenderError {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.errorHistory) == 0 {
		return nil
	}
	return rc.errorHistory[len(rc.errorHistory)-1]
}

func (rc *RenderContext) appendError(e *RenderError) {
	if e == nil {
		return
	}
	rc.mu.Lock()
	rc.errorHistory = append(rc.errorHistory, e)
	rc.mu.Unlock()
}

// report forwards attempt progress to the operation's tracker.
func (rc *RenderContext) report(stage Stage, percentage float64) {
	if rc.onProgress != nil {
		rc.onProgress(stage, percentage)
	}
}

// Canvas returns the canvas the last attempt was drawing on, if any.
func (rc *RenderContext) Canvas() *canvas.Canvas {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.canvas
}

func (rc *RenderContext) setCanvas(c *canvas.Canvas) {
	rc.mu.Lock()
	rc.canvas = c
	rc.mu.Unlock()
}

// fallbackEnabled resolves the per-render flag against the configured default.
func (rc *RenderContext) fallbackEnabled(def bool) bool {
	if rc.Options.FallbackEnabled != nil {
		return *rc.Options.FallbackEnabled
	}
	return def
}

// elapsed returns the time since the operation started.
func (rc *RenderContext) elapsed(now time.Time) time.Duration {
	if rc.StartTime.IsZero() {
		return 0
	}
	return now.Sub(rc.StartTime)
}
