package pdfrender

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/config"
)

// Option configures a Renderer.
type Option func(*rendererConfig)

// RefreshFunc returns a fresh URL for an expired or unauthorized one.
// It is typically backed by the service that issues signed URLs.
type RefreshFunc func(ctx context.Context, originalURL string) (string, error)

// HeapProbe reports heap usage and its limit; ok is false when no limit
// is known.
type HeapProbe func() (used, limit uint64, ok bool)

type rendererConfig struct {
	cfg        *config.Manager
	logger     *slog.Logger
	httpClient *http.Client
	refresh    RefreshFunc
	now        func() time.Time
	heapProbe  canvas.HeapProbe
	probeSet   bool
	assetsDir  string
	capturer   pageCapturer
	runners    map[Method]methodRunner
}

// WithConfigManager sets the configuration shared with other components.
// Without it the Renderer uses a private manager holding the defaults.
func WithConfigManager(m *config.Manager) Option {
	return func(c *rendererConfig) {
		c.cfg = m
	}
}

// WithLogger sets the structured logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *rendererConfig) {
		c.logger = l
	}
}

// WithHTTPClient sets the HTTP client used for fetching documents and
// calling the conversion endpoints.
func WithHTTPClient(h *http.Client) Option {
	return func(c *rendererConfig) {
		c.httpClient = h
	}
}

// WithURLRefresh sets the callback used to recover from expired or
// unauthorized document URLs. Without it authentication failures are fatal.
func WithURLRefresh(fn RefreshFunc) Option {
	return func(c *rendererConfig) {
		c.refresh = fn
	}
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(c *rendererConfig) {
		c.now = now
	}
}

// WithHeapProbe replaces the runtime heap probe used for memory pressure
// detection. A nil probe disables it.
func WithHeapProbe(p HeapProbe) Option {
	return func(c *rendererConfig) {
		c.probeSet = true
		if p == nil {
			c.heapProbe = nil
			return
		}
		c.heapProbe = canvas.HeapProbe(p)
	}
}

// WithAssetsDir sets a directory whose templates/ and styles/ override the
// built-in viewer page and report stylesheet. Missing files fall back to
// the built-in ones.
func WithAssetsDir(dir string) Option {
	return func(c *rendererConfig) {
		c.assetsDir = dir
	}
}

// withCapturer replaces the browser used by the native method (for testing).
func withCapturer(pc pageCapturer) Option {
	return func(c *rendererConfig) {
		c.capturer = pc
	}
}

// withRunner replaces the backend of one method (for testing).
func withRunner(m Method, r methodRunner) Option {
	return func(c *rendererConfig) {
		if c.runners == nil {
			c.runners = make(map[Method]methodRunner)
		}
		c.runners[m] = r
	}
}
