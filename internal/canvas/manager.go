package canvas

import (
	"cmp"
	"context"
	"image"
	"image/color"
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/logging"
)

// heapPressureRatio is the share of the runtime memory limit above which
// the heap probe reports pressure.
const heapPressureRatio = 0.9

// HeapProbe reports current heap usage and its limit. ok is false when no
// limit is known, in which case the probe contributes nothing.
type HeapProbe func() (used, limit uint64, ok bool)

// RuntimeHeapProbe compares the Go heap with the soft memory limit set by
// GOMEMLIMIT or debug.SetMemoryLimit.
func RuntimeHeapProbe() (used, limit uint64, ok bool) {
	l := debug.SetMemoryLimit(-1)
	if l <= 0 || l == math.MaxInt64 {
		return 0, 0, false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc, uint64(l), true
}

// Stats summarizes the registry.
type Stats struct {
	TotalCanvases     int   `json:"totalCanvases"`
	InUse             int   `json:"inUse"`
	TotalMemoryUsage  int64 `json:"totalMemoryUsage"`
	PressureThreshold int64 `json:"pressureThreshold"`
	MaxCanvases       int   `json:"maxCanvases"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithHeapProbe replaces the runtime heap probe. A nil probe disables it.
func WithHeapProbe(p HeapProbe) Option {
	return func(m *Manager) { m.probe = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns every canvas it creates. It is safe for concurrent use.
type Manager struct {
	cfg    *config.Manager
	logger *slog.Logger
	probe  HeapProbe
	now    func() time.Time
	nextID atomic.Uint64

	mu       sync.Mutex
	canvases map[uint64]*Canvas
	total    int64
}

// NewManager creates a canvas manager reading limits from cfg.
func NewManager(cfg *config.Manager, logger *slog.Logger, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.NewManager(nil, logger)
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logging.OrDiscard(logger),
		probe:    RuntimeHeapProbe,
		now:      time.Now,
		canvases: make(map[uint64]*Canvas),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateCanvas allocates and registers a white w×h canvas. It fails with
// ErrContextUnavailable or ErrCanvasTooLarge when no 2D context could be
// obtained for that size.
func (m *Manager) CreateCanvas(w, h int) (*Canvas, error) {
	if err := validSize(w, h); err != nil {
		m.logger.Debug("canvas creation rejected", "width", w, "height", h, "error", err)
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := &Canvas{
		id:     m.nextID.Add(1),
		size:   surfaceBytes(w, h),
		width:  w,
		height: h,
		img:    img,
	}
	c.fill(color.White)

	m.mu.Lock()
	c.lastUsed = m.now()
	m.canvases[c.id] = c
	m.total += c.size
	m.mu.Unlock()

	m.logger.Log(context.Background(), logging.LevelVerbose, "canvas created", "id", c.id, "width", w, "height", h)
	return c, nil
}

// GetContext returns a drawing context for c, or nil when none can be
// obtained (destroyed, unregistered or oversized canvas).
func (m *Manager) GetContext(c *Canvas) *Context {
	if c == nil {
		return nil
	}
	m.mu.Lock()
	_, ok := m.canvases[c.id]
	if ok {
		c.lastUsed = m.now()
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if validSize(c.Width(), c.Height()) != nil {
		return nil
	}
	return newContext(c)
}

// ClearCanvas resets c to white. It reports whether anything was cleared.
func (m *Manager) ClearCanvas(c *Canvas) bool {
	if c == nil {
		return false
	}
	return c.fill(color.White)
}

// DestroyCanvas zeroes c and removes it from the registry. It reports
// whether c was registered; destroying twice is a no-op.
func (m *Manager) DestroyCanvas(c *Canvas) bool {
	if c == nil {
		return false
	}
	m.mu.Lock()
	ok := m.removeLocked(c)
	m.mu.Unlock()
	return ok
}

// removeLocked unregisters c and wipes it; m.mu must be held.
func (m *Manager) removeLocked(c *Canvas) bool {
	if _, ok := m.canvases[c.id]; !ok {
		c.wipe()
		return false
	}
	m.total -= c.size
	delete(m.canvases, c.id)
	c.inUse = false
	c.owner = ""
	c.wipe()
	return true
}

// RecreateCanvas destroys old and returns a fresh canvas of the same size,
// or of the configured default size when old reports zero dimensions.
// The replacement inherits the in-use flag and owner.
func (m *Manager) RecreateCanvas(old *Canvas) (*Canvas, error) {
	w, h := 0, 0
	inUse, owner := false, ""
	if old != nil {
		w, h = old.Width(), old.Height()
		m.mu.Lock()
		inUse, owner = old.inUse, old.owner
		m.mu.Unlock()
	}
	if w == 0 || h == 0 {
		mem := m.cfg.Snapshot().Memory
		w, h = mem.DefaultWidth, mem.DefaultHeight
	}
	m.DestroyCanvas(old)

	c, err := m.CreateCanvas(w, h)
	if err != nil {
		return nil, err
	}
	if inUse {
		m.MarkInUse(c, owner)
	}
	m.logger.Debug("canvas recreated", "id", c.id, "width", w, "height", h)
	return c, nil
}

// ValidateAndRecreateCanvas probes c with a context acquisition and a
// save/restore round trip. It returns c when the probe passes and a
// recreated canvas of the same size otherwise.
func (m *Manager) ValidateAndRecreateCanvas(c *Canvas) (*Canvas, error) {
	if ctx := m.GetContext(c); ctx != nil {
		ctx.Save()
		if ctx.Restore() {
			return c, nil
		}
	}
	m.logger.Debug("canvas failed validation, recreating")
	return m.RecreateCanvas(c)
}

// MarkInUse flags c as owned by a render operation. Cleanup skips it.
func (m *Manager) MarkInUse(c *Canvas, owner string) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.canvases[c.id]; ok {
		c.inUse = true
		c.owner = owner
		c.lastUsed = m.now()
	}
}

// Release clears the in-use flag of c.
func (m *Manager) Release(c *Canvas) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c.inUse = false
	c.owner = ""
	c.lastUsed = m.now()
}

// DestroyOwned destroys every canvas marked in use by owner and returns
// how many were removed.
func (m *Manager) DestroyOwned(owner string) int {
	if owner == "" {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.canvases {
		if c.inUse && c.owner == owner && m.removeLocked(c) {
			n++
		}
	}
	return n
}

// CheckMemoryPressure reports whether tracked memory exceeds the configured
// threshold, the canvas count exceeds the configured maximum, or the heap
// probe reports usage near the runtime memory limit.
func (m *Manager) CheckMemoryPressure() bool {
	mem := m.cfg.Snapshot().Memory

	m.mu.Lock()
	total, count := m.total, len(m.canvases)
	m.mu.Unlock()

	if total > mem.PressureThresholdBytes || count > mem.MaxCanvases {
		return true
	}
	return m.heapPressure()
}

func (m *Manager) heapPressure() (pressure bool) {
	if m.probe == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			pressure = false
		}
	}()
	used, limit, ok := m.probe()
	if !ok || limit == 0 {
		return false
	}
	return float64(used) > float64(limit)*heapPressureRatio
}

// CleanupUnusedCanvases destroys canvases idle longer than the configured
// idle timeout. When none qualify it destroys the oldest share of the
// registry (configured fraction, rounded, at least one) so sustained
// pressure always makes progress. In-use canvases are never destroyed.
// It returns the number destroyed.
func (m *Manager) CleanupUnusedCanvases() int {
	mem := m.cfg.Snapshot().Memory
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	idle := make([]*Canvas, 0, len(m.canvases))
	for _, c := range m.canvases {
		if !c.inUse {
			idle = append(idle, c)
		}
	}
	if len(idle) == 0 {
		return 0
	}

	removed := 0
	for _, c := range idle {
		if now.Sub(c.lastUsed) > mem.IdleTimeout() && m.removeLocked(c) {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("idle canvases removed", "count", removed)
		return removed
	}

	n := max(1, int(math.Round(float64(len(m.canvases))*mem.CleanupFraction)))
	slices.SortFunc(idle, func(a, b *Canvas) int {
		return cmp.Or(a.lastUsed.Compare(b.lastUsed), cmp.Compare(a.id, b.id))
	})
	for _, c := range idle[:min(n, len(idle))] {
		if m.removeLocked(c) {
			removed++
		}
	}
	m.logger.Debug("oldest canvases removed", "count", removed)
	return removed
}

// Cleanup destroys every canvas, in use or not. Calling it on an empty
// manager is a no-op.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.canvases {
		m.removeLocked(c)
	}
	m.total = 0
}

// MemoryStats returns the current registry totals.
func (m *Manager) MemoryStats() Stats {
	mem := m.cfg.Snapshot().Memory
	m.mu.Lock()
	defer m.mu.Unlock()
	inUse := 0
	for _, c := range m.canvases {
		if c.inUse {
			inUse++
		}
	}
	return Stats{
		TotalCanvases:     len(m.canvases),
		InUse:             inUse,
		TotalMemoryUsage:  m.total,
		PressureThreshold: mem.PressureThresholdBytes,
		MaxCanvases:       mem.MaxCanvases,
	}
}
