package optimizer

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/logging"
)

// Pool sizing bounds.
const (
	DefaultPoolTarget = 5
	MinPoolTarget     = 2
	MaxPoolTarget     = 20
	poolGrowStep      = 2
	poolShrinkStep    = 1
	highUtilization   = 0.8
	lowUtilization    = 0.3
	sizeTolerance     = 1.2
)

// PoolStats summarizes a CanvasPool.
type PoolStats struct {
	Idle   int `json:"idle"`
	InUse  int `json:"inUse"`
	Target int `json:"target"`
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

type pooled struct {
	c     *canvas.Canvas
	since time.Time
}

// CanvasPool reuses released canvases for requests of a similar size.
// Canvases stay registered with the canvas manager while pooled, so memory
// accounting covers them.
type CanvasPool struct {
	canvases *canvas.Manager
	cfg      *config.Manager
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	idle   []pooled
	inUse  int
	peak   int
	target int
	hits   int
	misses int
}

// NewCanvasPool returns a pool allocating through canvases.
func NewCanvasPool(canvases *canvas.Manager, cfg *config.Manager, logger *slog.Logger, now func() time.Time) *CanvasPool {
	if now == nil {
		now = time.Now
	}
	return &CanvasPool{
		canvases: canvases,
		cfg:      cfg,
		logger:   logging.OrDiscard(logger),
		now:      now,
		target:   DefaultPoolTarget,
	}
}

// fits reports whether a pooled w×h surface can serve a reqW×reqH request.
func fits(w, h, reqW, reqH int) bool {
	return w >= reqW && h >= reqH &&
		float64(w) <= float64(reqW)*sizeTolerance &&
		float64(h) <= float64(reqH)*sizeTolerance
}

// Acquire returns an idle canvas within [w, 1.2w]×[h, 1.2h] or allocates a
// new one. The canvas is marked in use by owner.
func (p *CanvasPool) Acquire(w, h int, owner string) (*canvas.Canvas, error) {
	p.mu.Lock()
	best := -1
	for i := 0; i < len(p.idle); i++ {
		c := p.idle[i].c
		cw, ch := c.Width(), c.Height()
		if cw == 0 {
			// Destroyed behind our back by memory cleanup.
			p.idle = slices.Delete(p.idle, i, i+1)
			i--
			continue
		}
		if !fits(cw, ch, w, h) {
			continue
		}
		if best < 0 || cw*ch < p.idle[best].c.Width()*p.idle[best].c.Height() {
			best = i
		}
	}
	var reused *canvas.Canvas
	if best >= 0 {
		reused = p.idle[best].c
		p.idle = slices.Delete(p.idle, best, best+1)
		p.hits++
	} else {
		p.misses++
	}
	p.inUse++
	p.peak = max(p.peak, p.inUse)
	p.mu.Unlock()

	if reused != nil {
		p.canvases.MarkInUse(reused, owner)
		if reused.Width() > 0 {
			return reused, nil
		}
	}

	c, err := p.canvases.CreateCanvas(w, h)
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		return nil, err
	}
	p.canvases.MarkInUse(c, owner)
	return c, nil
}

// Release clears c and returns it to the pool, or destroys it when the pool
// already holds its target number of idle canvases.
func (p *CanvasPool) Release(c *canvas.Canvas) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if p.inUse > 0 {
		p.inUse--
	}
	p.mu.Unlock()

	if c.Width() == 0 {
		return
	}
	p.canvases.ClearCanvas(c)
	p.canvases.Release(c)

	p.mu.Lock()
	keep := len(p.idle) < p.target
	if keep {
		p.idle = append(p.idle, pooled{c: c, since: p.now()})
	}
	p.mu.Unlock()

	if !keep {
		p.canvases.DestroyCanvas(c)
	}
}

// Optimize evicts canvases idle longer than the configured idle timeout and
// adapts the target size to the peak utilization since the last call.
func (p *CanvasPool) Optimize() PoolStats {
	idleTimeout := p.cfg.Snapshot().Memory.IdleTimeout()
	now := p.now()

	p.mu.Lock()
	var evicted []*canvas.Canvas
	kept := p.idle[:0]
	for _, e := range p.idle {
		if now.Sub(e.since) > idleTimeout || e.c.Width() == 0 {
			evicted = append(evicted, e.c)
			continue
		}
		kept = append(kept, e)
	}
	p.idle = kept

	utilization := float64(p.peak) / float64(p.target)
	prev := p.target
	switch {
	case utilization > highUtilization:
		p.target = min(p.target+poolGrowStep, MaxPoolTarget)
	case utilization < lowUtilization:
		p.target = max(p.target-poolShrinkStep, MinPoolTarget)
	}
	p.peak = p.inUse
	stats := p.statsLocked()
	p.mu.Unlock()

	for _, c := range evicted {
		p.canvases.DestroyCanvas(c)
	}
	if prev != stats.Target || len(evicted) > 0 {
		p.logger.Debug("canvas pool optimized",
			"evicted", len(evicted),
			"utilization", utilization,
			"target", stats.Target)
	}
	return stats
}

// Drain destroys every idle canvas.
func (p *CanvasPool) Drain() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, e := range idle {
		p.canvases.DestroyCanvas(e.c)
	}
}

// Stats returns the current pool state.
func (p *CanvasPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *CanvasPool) statsLocked() PoolStats {
	return PoolStats{
		Idle:   len(p.idle),
		InUse:  p.inUse,
		Target: p.target,
		Hits:   p.hits,
		Misses: p.misses,
	}
}
