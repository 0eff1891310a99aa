// Package diagnostics keeps a per-operation timeline of stage transitions,
// method attempts, errors and performance metrics.
//
// A record is created by Start, mutated while the operation runs and evicted
// by Complete, which returns the final snapshot. When diagnostics are
// disabled every method returns immediately without allocating.
package diagnostics

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alnah/go-pdfrender/internal/assets"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/logging"
	"github.com/alnah/go-pdfrender/internal/types"
)

// Sentinel errors for diagnostics lookups.
var (
	ErrDisabled = errors.New("diagnostics disabled")
	ErrNotFound = errors.New("diagnostics not found")
)

// BrowserInfo describes the environment an operation ran in.
type BrowserInfo struct {
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform"`
	Language  string `json:"language"`
	Runtime   string `json:"runtime"`
	NumCPU    int    `json:"numCpu"`
}

// StageEntry records one stage transition.
type StageEntry struct {
	Stage   types.Stage   `json:"stage"`
	Method  types.Method  `json:"method,omitempty"`
	At      time.Time     `json:"at"`
	Elapsed time.Duration `json:"elapsed"`
}

// MethodAttempt records the outcome of one rendering method attempt.
type MethodAttempt struct {
	Method   types.Method  `json:"method"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Pages    int           `json:"pages,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// PerformanceMetrics holds timings and resource usage for an operation.
type PerformanceMetrics struct {
	NetworkTime time.Duration `json:"networkTime"`
	ParseTime   time.Duration `json:"parseTime"`
	RenderTime  time.Duration `json:"renderTime"`
	MemoryUsage int64         `json:"memoryUsage"`
	BytesLoaded int64         `json:"bytesLoaded"`
	PageCount   int           `json:"pageCount"`
	CanvasCount int           `json:"canvasCount"`
}

// merge copies every non-zero field of m into p.
func (p *PerformanceMetrics) merge(m PerformanceMetrics) {
	if m.NetworkTime > 0 {
		p.NetworkTime = m.NetworkTime
	}
	if m.ParseTime > 0 {
		p.ParseTime = m.ParseTime
	}
	if m.RenderTime > 0 {
		p.RenderTime = m.RenderTime
	}
	if m.MemoryUsage > 0 {
		p.MemoryUsage = m.MemoryUsage
	}
	if m.BytesLoaded > 0 {
		p.BytesLoaded = m.BytesLoaded
	}
	if m.PageCount > 0 {
		p.PageCount = m.PageCount
	}
	if m.CanvasCount > 0 {
		p.CanvasCount = m.CanvasCount
	}
}

// Data is the diagnostics record of one rendering operation.
type Data struct {
	RenderingID       string               `json:"renderingId"`
	ParentRenderingID string               `json:"parentRenderingId,omitempty"`
	URL               string               `json:"url"`
	StartTime         time.Time            `json:"startTime"`
	EndTime           time.Time            `json:"endTime,omitzero"`
	TotalTime         time.Duration        `json:"totalTime"`
	Stage             types.Stage          `json:"stage"`
	Method            types.Method         `json:"method,omitempty"`
	DocumentType      types.DocumentType   `json:"documentType"`
	Stages            []StageEntry         `json:"stages"`
	Methods           []MethodAttempt      `json:"methods"`
	Errors            []*types.RenderError `json:"errors"`
	Performance       PerformanceMetrics   `json:"performance"`
	Browser           BrowserInfo          `json:"browser"`
	Success           bool                 `json:"success"`
}

// clone returns a deep copy of d.
func (d *Data) clone() *Data {
	c := *d
	c.Stages = append([]StageEntry(nil), d.Stages...)
	c.Methods = append([]MethodAttempt(nil), d.Methods...)
	c.Errors = make([]*types.RenderError, len(d.Errors))
	for i, e := range d.Errors {
		c.Errors[i] = e.Clone()
	}
	return &c
}

// MemoryProbe samples current memory usage in bytes.
type MemoryProbe func() (int64, bool)

// RuntimeMemoryProbe reports the Go heap in use.
func RuntimeMemoryProbe() (int64, bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc), true
}

// Option configures a Collector.
type Option func(*Collector)

// WithMemoryProbe replaces the memory sampler used by Complete.
// A nil probe disables sampling.
func WithMemoryProbe(p MemoryProbe) Option {
	return func(c *Collector) { c.probe = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithAssets sets the loader the HTML reports take their stylesheet from.
func WithAssets(l assets.AssetLoader) Option {
	return func(c *Collector) { c.loader = l }
}

// Collector tracks diagnostics for in-flight operations.
type Collector struct {
	enabled   atomic.Bool
	threshold atomic.Int64

	mu      sync.Mutex
	active  map[string]*Data
	browser BrowserInfo
	probe   MemoryProbe
	now     func() time.Time
	loader  assets.AssetLoader
	logger  *slog.Logger
}

// NewCollector returns a Collector following cfg. Enabling or disabling
// diagnostics through cfg takes effect for operations started afterwards.
func NewCollector(cfg *config.Manager, logger *slog.Logger, opts ...Option) *Collector {
	snap := cfg.Snapshot()
	c := &Collector{
		active:  make(map[string]*Data),
		browser: hostInfo(snap.Network.UserAgent),
		probe:   RuntimeMemoryProbe,
		now:     time.Now,
		loader:  assets.NewEmbeddedLoader(),
		logger:  logging.OrDiscard(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.apply(snap)
	cfg.OnChange(c.apply)
	return c
}

func (c *Collector) apply(cfg config.Config) {
	c.enabled.Store(cfg.Diagnostics.Enabled)
	c.threshold.Store(cfg.Memory.PressureThresholdBytes)
}

// Enabled reports whether diagnostics are collected.
func (c *Collector) Enabled() bool {
	return c != nil && c.enabled.Load()
}

func hostInfo(userAgent string) BrowserInfo {
	lang := os.Getenv("LANG")
	if i := strings.IndexAny(lang, ".@"); i >= 0 {
		lang = lang[:i]
	}
	return BrowserInfo{
		UserAgent: userAgent,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Language:  strings.ReplaceAll(lang, "_", "-"),
		Runtime:   runtime.Version(),
		NumCPU:    runtime.NumCPU(),
	}
}

// Start seeds a record for id. Starting an id that is already active
// replaces its record.
func (c *Collector) Start(id, url, parentID string) {
	if !c.Enabled() || id == "" {
		return
	}
	now := c.now()
	d := &Data{
		RenderingID:       id,
		ParentRenderingID: parentID,
		URL:               url,
		StartTime:         now,
		Stage:             types.StageInitializing,
		Stages:            []StageEntry{{Stage: types.StageInitializing, At: now}},
		Browser:           c.browser,
	}

	c.mu.Lock()
	c.active[id] = d
	c.mu.Unlock()
}

// update runs fn on the active record for id, if any.
func (c *Collector) update(id string, fn func(*Data)) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.active[id]; ok {
		fn(d)
	}
}

// UpdateStage appends a stage transition.
func (c *Collector) UpdateStage(id string, stage types.Stage, method types.Method) {
	c.update(id, func(d *Data) {
		now := c.now()
		d.Stage = stage
		if method.Valid() {
			d.Method = method
		}
		d.Stages = append(d.Stages, StageEntry{
			Stage:   stage,
			Method:  method,
			At:      now,
			Elapsed: now.Sub(d.StartTime),
		})
	})
}

// AddError records a classified error.
func (c *Collector) AddError(id string, err *types.RenderError) {
	if err == nil {
		return
	}
	c.update(id, func(d *Data) {
		d.Errors = append(d.Errors, err.Clone())
	})
}

// RecordMethod records one method attempt.
func (c *Collector) RecordMethod(id string, a MethodAttempt) {
	c.update(id, func(d *Data) {
		d.Methods = append(d.Methods, a)
		if a.Method.Valid() {
			d.Method = a.Method
		}
	})
}

// SetDocumentType records the document classification.
func (c *Collector) SetDocumentType(id string, t types.DocumentType) {
	c.update(id, func(d *Data) {
		d.DocumentType = t
	})
}

// UpdatePerformanceMetrics merges the non-zero fields of m.
func (c *Collector) UpdatePerformanceMetrics(id string, m PerformanceMetrics) {
	c.update(id, func(d *Data) {
		d.Performance.merge(m)
	})
}

// Complete finalizes the record for id, evicts it and returns the final
// snapshot. It returns nil when disabled or when id is not active.
func (c *Collector) Complete(id string, success bool) *Data {
	if !c.Enabled() {
		return nil
	}

	c.mu.Lock()
	d, ok := c.active[id]
	if ok {
		delete(c.active, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	d.EndTime = c.now()
	d.TotalTime = d.EndTime.Sub(d.StartTime)
	d.Success = success
	if d.Performance.MemoryUsage == 0 {
		if mem, ok := c.sampleMemory(); ok {
			d.Performance.MemoryUsage = mem
		}
	}
	c.logger.Debug("diagnostics completed",
		"renderingId", id,
		"success", success,
		"totalTime", d.TotalTime,
		"errors", len(d.Errors))
	return d
}

// Discard drops the record for id without completing it.
func (c *Collector) Discard(id string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

func (c *Collector) sampleMemory() (mem int64, ok bool) {
	if c.probe == nil {
		return 0, false
	}
	defer func() {
		if r := recover(); r != nil {
			mem, ok = 0, false
		}
	}()
	return c.probe()
}

// Get returns a copy of the active record for id, or nil.
func (c *Collector) Get(id string) *Data {
	if !c.Enabled() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.active[id]
	if !ok {
		return nil
	}
	return d.clone()
}

// ActiveCount returns the number of operations being tracked.
func (c *Collector) ActiveCount() int {
	if !c.Enabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Export returns the active record for id as indented JSON.
func (c *Collector) Export(id string) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	d := c.Get(id)
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return json.MarshalIndent(d, "", "  ")
}

// Bottleneck thresholds.
const (
	NetworkBottleneck         = 10 * time.Second
	ParseBottleneck           = 5 * time.Second
	RenderBottleneck          = 15 * time.Second
	MaxErrorsBeforeBottleneck = 2
)

// IdentifyBottlenecks returns one label per threshold d exceeds.
func (c *Collector) IdentifyBottlenecks(d *Data) []string {
	if c == nil || d == nil {
		return nil
	}
	return Bottlenecks(d, c.threshold.Load())
}

// Bottlenecks labels the thresholds d exceeds. A memoryThreshold of zero
// disables the memory check.
func Bottlenecks(d *Data, memoryThreshold int64) []string {
	var out []string
	p := d.Performance
	if p.NetworkTime > NetworkBottleneck {
		out = append(out, fmt.Sprintf("network: %s > %s", p.NetworkTime.Round(time.Millisecond), NetworkBottleneck))
	}
	if p.ParseTime > ParseBottleneck {
		out = append(out, fmt.Sprintf("parsing: %s > %s", p.ParseTime.Round(time.Millisecond), ParseBottleneck))
	}
	if p.RenderTime > RenderBottleneck {
		out = append(out, fmt.Sprintf("rendering: %s > %s", p.RenderTime.Round(time.Millisecond), RenderBottleneck))
	}
	if memoryThreshold > 0 && p.MemoryUsage > memoryThreshold {
		out = append(out, fmt.Sprintf("memory: %dMB > %dMB", p.MemoryUsage>>20, memoryThreshold>>20))
	}
	if len(d.Errors) > MaxErrorsBeforeBottleneck {
		out = append(out, fmt.Sprintf("errors: %d recorded", len(d.Errors)))
	}
	return out
}
