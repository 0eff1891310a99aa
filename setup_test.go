package pdfrender

// Notes:
// - Root tests never launch a browser: the native method is disabled in
//   testConfig, and tests that exercise it inject a mockCapturer
// - httptest servers stand in for document hosts and conversion endpoints
// - Retry delays are zero unless a test sets them, so retry loops run fast

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/pdftest"
)

// ---------------------------------------------------------------------------
// Clock
// ---------------------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// testConfig returns a manager with fast retries and the native method off.
func testConfig(mutate func(*config.Config)) *config.Manager {
	cfg := config.DefaultConfig()
	cfg.Methods.NativeBrowser = false
	cfg.Retry.BaseDelayMs = 0
	cfg.Retry.MaxDelayMs = 0
	cfg.Network.FetchRetries = 0
	cfg.Network.RequestsPerSecond = 1000
	cfg.Network.Burst = 100
	if mutate != nil {
		mutate(cfg)
	}
	return config.NewManager(cfg, nil)
}

// newTestRenderer builds a Renderer that cannot reach a real browser and
// closes it with the test.
func newTestRenderer(t *testing.T, cfg *config.Manager, opts ...Option) (*Renderer, *mockCapturer) {
	t.Helper()
	capturer := &mockCapturer{}
	base := []Option{WithConfigManager(cfg), withCapturer(capturer), WithHeapProbe(nil)}
	r, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, capturer
}

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// mockRunner returns errs in order, then err forever, then pages.
type mockRunner struct {
	mu        sync.Mutex
	calls     int
	errs      []error
	err       error
	pages     []Page
	panicWith any
	block     chan *RenderContext // when set, Render reports rc and waits for ctx
}

func (m *mockRunner) Render(ctx context.Context, rc *RenderContext) ([]Page, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()

	if m.panicWith != nil {
		panic(m.panicWith)
	}
	if m.block != nil {
		m.block <- rc
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= len(m.errs) && m.errs[n-1] != nil {
		return nil, m.errs[n-1]
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.pages != nil {
		return m.pages, nil
	}
	return []Page{{Number: 1, Format: FormatPNG}}, nil
}

func (m *mockRunner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockCapturer returns a small PNG for every capture.
type mockCapturer struct {
	mu     sync.Mutex
	urls   []string
	err    error
	closed bool
}

func (m *mockCapturer) Capture(ctx context.Context, fileURL string, timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, fileURL)
	if m.err != nil {
		return nil, m.err
	}
	return testPNG(4, 4), nil
}

func (m *mockCapturer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockCapturer) Captured() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...)
}

func (m *mockCapturer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

// testPNG encodes a w x h white image.
func testPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// serveDocument starts a server answering every request with body.
func serveDocument(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// servePDF serves a well-formed document with one page per text.
func servePDF(t *testing.T, pages ...string) *httptest.Server {
	t.Helper()
	return serveDocument(t, pdftest.Build(pages...))
}

func ptr[T any](v T) *T { return &v }
