// Package optimizer tunes rendering from observed history: canvas pool
// size, retry timing, progress update frequency and method selection.
//
// Every cache it keeps is bounded.
package optimizer

import (
	"log/slog"
	"time"

	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/logging"
)

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// Optimizer bundles the adaptive tuners. It is safe for concurrent use.
type Optimizer struct {
	cfg    *config.Manager
	logger *slog.Logger
	now    func() time.Time

	pool    *CanvasPool
	retries retryCache
	learned learnedCache
}

// New returns an Optimizer whose canvas pool allocates through canvases.
// Configuration changes invalidate cached retry policies.
func New(cfg *config.Manager, canvases *canvas.Manager, logger *slog.Logger, opts ...Option) *Optimizer {
	o := &Optimizer{
		cfg:    cfg,
		logger: logging.OrDiscard(logger),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.pool = NewCanvasPool(canvases, cfg, o.logger, o.now)
	cfg.OnChange(func(config.Config) { o.retries.reset() })
	return o
}

// Pool returns the canvas pool.
func (o *Optimizer) Pool() *CanvasPool {
	return o.pool
}
