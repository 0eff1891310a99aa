package pdfrender

// Notes:
// - pdfjs-canvas: renders documents built by pdftest, so parsing is real
// - server-conversion and image-based: httptest servers play the endpoints
// - native-browser: mockCapturer stands in for the headless browser

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/alnah/go-pdfrender/internal/assets"
	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/netx"
	"github.com/alnah/go-pdfrender/internal/optimizer"
	"github.com/alnah/go-pdfrender/internal/pdftest"
)

func newTestCanvasRenderer(cfg *config.Manager) (*canvasRenderer, *canvas.Manager) {
	canvases := canvas.NewManager(cfg, nil, canvas.WithHeapProbe(nil))
	pool := optimizer.New(cfg, canvases, nil).Pool()
	return &canvasRenderer{cfg: cfg, canvases: canvases, pool: pool, logger: slog.New(slog.DiscardHandler)}, canvases
}

// ---------------------------------------------------------------------------
// TestCanvasRenderer - Client-Side Rasterization
// ---------------------------------------------------------------------------

func TestCanvasRenderer_Render(t *testing.T) {
	t.Parallel()

	cfg := testConfig(nil)
	r, canvases := newTestCanvasRenderer(cfg)
	rc := testContext(MethodPDFJSCanvas)
	rc.Document = pdftest.Build("one", "two")
	rc.Options.Watermark = &Watermark{Text: "DRAFT"}

	pages, err := r.Render(context.Background(), rc)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("len(pages) = %d, want 2", len(pages))
	}

	s := rasterScale(cfg.Snapshot().Rendering)
	wantW, wantH := int(612*s+0.5), int(792*s+0.5)
	for i, p := range pages {
		if p.Number != i+1 {
			t.Errorf("pages[%d].Number = %d", i, p.Number)
		}
		if p.Width != wantW || p.Height != wantH {
			t.Errorf("pages[%d] = %dx%d, want %dx%d", i, p.Width, p.Height, wantW, wantH)
		}
		format, w, h, err := decodeImageConfig(p.Data)
		if err != nil || format != FormatPNG || w != wantW || h != wantH {
			t.Errorf("pages[%d] data = %s %dx%d (%v)", i, format, w, h, err)
		}
	}
	if !strings.Contains(pages[0].Text, "one") || !strings.Contains(pages[1].Text, "two") {
		t.Errorf("page text = %q, %q", pages[0].Text, pages[1].Text)
	}
	if got := canvases.MemoryStats().InUse; got != 0 {
		t.Errorf("canvases in use = %d, want 0", got)
	}
}

func TestCanvasRenderer_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     []byte
		wantErr error
	}{
		{"not loaded", nil, ErrNoPages},
		{"missing header", []byte("hello world"), ErrCorruptDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, _ := newTestCanvasRenderer(testConfig(nil))
			rc := testContext(MethodPDFJSCanvas)
			rc.Document = tt.doc

			_, err := r.Render(context.Background(), rc)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Render() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCanvasRenderer_MemoryPressure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(func(c *config.Config) { c.Memory.MaxCanvases = 1 })
	r, canvases := newTestCanvasRenderer(cfg)
	for range 2 {
		busy, err := canvases.CreateCanvas(10, 10)
		if err != nil {
			t.Fatalf("CreateCanvas() error = %v", err)
		}
		canvases.MarkInUse(busy, "someone-else")
	}

	rc := testContext(MethodPDFJSCanvas)
	rc.Document = pdftest.Build("page")
	_, err := r.Render(context.Background(), rc)
	if !errors.Is(err, ErrMemoryPressure) {
		t.Errorf("Render() error = %v, want %v", err, ErrMemoryPressure)
	}
}

func TestCanvasRenderer_CanceledContext(t *testing.T) {
	t.Parallel()

	r, _ := newTestCanvasRenderer(testConfig(nil))
	rc := testContext(MethodPDFJSCanvas)
	rc.Document = pdftest.Build("a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Render(ctx, rc); !errors.Is(err, context.Canceled) {
		t.Errorf("Render() error = %v, want context.Canceled", err)
	}
}

// ---------------------------------------------------------------------------
// TestServerRenderer - Conversion Endpoint
// ---------------------------------------------------------------------------

func TestServerRenderer_Render(t *testing.T) {
	t.Parallel()

	var got conversionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(pageManifest{Pages: []remotePage{
			{Number: 2, Data: testPNG(8, 6)},
			{Number: 1, Data: testPNG(8, 6)},
		}})
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(func(c *config.Config) { c.Endpoints.Conversion = srv.URL + "/convert" })
	r := &serverRenderer{cfg: cfg, fetch: netx.New(cfg.Snapshot())}
	rc := testContext(MethodServerConversion)
	rc.Options.PDFPassword = "hunter2"

	pages, err := r.Render(context.Background(), rc)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.URL != rc.URL || got.Password != "hunter2" {
		t.Errorf("request = %+v, want document url and password", got)
	}
	if len(pages) != 2 || pages[0].Number != 1 || pages[1].Number != 2 {
		t.Fatalf("pages = %+v, want pages 1 and 2 in order", pages)
	}
	if pages[0].Width != 8 || pages[0].Height != 6 || pages[0].Format != FormatPNG {
		t.Errorf("page = %s %dx%d, want png 8x6", pages[0].Format, pages[0].Width, pages[0].Height)
	}
}

func TestServerRenderer_Errors(t *testing.T) {
	t.Parallel()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pages":[]}`))
	}))
	t.Cleanup(empty.Close)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pages":[{"number":1,"data":"bm90IGFuIGltYWdl"}]}`))
	}))
	t.Cleanup(broken.Close)

	tests := []struct {
		name     string
		endpoint string
		wantErr  error
	}{
		{"no endpoint", "", ErrEndpointMissing},
		{"empty manifest", empty.URL, ErrNoPages},
		{"invalid page data", broken.URL, ErrInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(func(c *config.Config) { c.Endpoints.Conversion = tt.endpoint })
			r := &serverRenderer{cfg: cfg, fetch: netx.New(cfg.Snapshot())}
			_, err := r.Render(context.Background(), testContext(MethodServerConversion))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Render() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestImageRenderer - Pre-Rendered Pages
// ---------------------------------------------------------------------------

func TestImageRenderer_Render(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		docParam string
	)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		docParam = r.URL.Query().Get("url")
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(pageManifest{Pages: []remotePage{
			{Number: 1, URL: srv.URL + "/p1.png"},
			{Number: 2, URL: srv.URL + "/p2.png"},
		}})
	})
	mux.HandleFunc("/p1.png", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(testPNG(3, 5)) })
	mux.HandleFunc("/p2.png", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(testPNG(3, 5)) })

	cfg := testConfig(func(c *config.Config) { c.Endpoints.Images = srv.URL + "/manifest" })
	r := &imageRenderer{cfg: cfg, fetch: netx.New(cfg.Snapshot())}
	rc := testContext(MethodImageBased)

	pages, err := r.Render(context.Background(), rc)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	mu.Lock()
	if docParam != rc.URL {
		t.Errorf("manifest url param = %q, want %q", docParam, rc.URL)
	}
	mu.Unlock()
	if len(pages) != 2 {
		t.Fatalf("len(pages) = %d, want 2", len(pages))
	}
	for i, p := range pages {
		if p.Number != i+1 || p.Width != 3 || p.Height != 5 || len(p.Data) == 0 {
			t.Errorf("pages[%d] = %+v", i, p)
		}
	}
}

func TestImageRenderer_InvalidImage(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pageManifest{Pages: []remotePage{{Number: 1, URL: srv.URL + "/bad"}}})
	})
	mux.HandleFunc("/bad", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("nope")) })

	cfg := testConfig(func(c *config.Config) { c.Endpoints.Images = srv.URL + "/manifest" })
	r := &imageRenderer{cfg: cfg, fetch: netx.New(cfg.Snapshot())}

	_, err := r.Render(context.Background(), testContext(MethodImageBased))
	if !errors.Is(err, ErrInvalidImage) {
		t.Errorf("Render() error = %v, want %v", err, ErrInvalidImage)
	}
}

// ---------------------------------------------------------------------------
// TestDownloadRenderer - Last Resort
// ---------------------------------------------------------------------------

func TestDownloadRenderer(t *testing.T) {
	t.Parallel()

	rc := testContext(MethodDownloadFallback)
	pages, err := downloadRenderer{}.Render(context.Background(), rc)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(pages) != 1 || pages[0].URL != rc.URL || pages[0].Format != FormatDownload {
		t.Errorf("pages = %+v, want one download page", pages)
	}
}

// ---------------------------------------------------------------------------
// TestBrowserRenderer - Native Viewer
// ---------------------------------------------------------------------------

func TestBrowserRenderer_Render(t *testing.T) {
	t.Parallel()

	capturer := &mockCapturer{}
	r, err := newBrowserRenderer(testConfig(nil), assets.NewEmbeddedLoader(), capturer, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newBrowserRenderer() error = %v", err)
	}
	rc := testContext(MethodNativeBrowser)
	rc.Document = pdftest.Build("a", "b")
	rc.Characteristics = &Characteristics{PageCount: 2}

	pages, err := r.Render(context.Background(), rc)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("len(pages) = %d, want 2", len(pages))
	}
	urls := capturer.Captured()
	if len(urls) != 2 {
		t.Fatalf("captures = %d, want 2", len(urls))
	}
	for _, u := range urls {
		if !strings.HasPrefix(u, "file://") {
			t.Errorf("captured %q, want a file url", u)
		}
	}
}

func TestBrowserRenderer_CaptureError(t *testing.T) {
	t.Parallel()

	capturer := &mockCapturer{err: ErrBrowserConnect}
	r, err := newBrowserRenderer(testConfig(nil), assets.NewEmbeddedLoader(), capturer, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newBrowserRenderer() error = %v", err)
	}
	_, err = r.Render(context.Background(), testContext(MethodNativeBrowser))
	if !errors.Is(err, ErrBrowserConnect) {
		t.Errorf("Render() error = %v, want %v", err, ErrBrowserConnect)
	}
}

// ---------------------------------------------------------------------------
// TestRodCapturer - Browser Launch
// ---------------------------------------------------------------------------

func TestRodCapturer_LaunchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var launches atomic.Int32
	r := newRodCapturer(config.BrowserConfig{})
	r.launch = func() (*rod.Browser, func(), error) {
		launches.Add(1)
		<-release
		return nil, nil, ErrBrowserConnect
	}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := r.browserFor(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("browserFor() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("browserFor() returned after %v, want about the context deadline", elapsed)
	}

	// A second caller is not held behind the hung launch.
	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	done := make(chan error, 1)
	go func() {
		_, err := r.browserFor(canceled)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("browserFor() error = %v, want canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller blocked by the pending launch")
	}
	if n := launches.Load(); n != 1 {
		t.Errorf("launches = %d, want 1 shared launch", n)
	}
}

func TestRodCapturer_FailedLaunchIsRetried(t *testing.T) {
	t.Parallel()

	var launches atomic.Int32
	r := newRodCapturer(config.BrowserConfig{})
	r.launch = func() (*rod.Browser, func(), error) {
		launches.Add(1)
		return nil, nil, ErrBrowserConnect
	}

	for range 2 {
		if _, err := r.browserFor(context.Background()); !errors.Is(err, ErrBrowserConnect) {
			t.Errorf("browserFor() error = %v, want %v", err, ErrBrowserConnect)
		}
	}
	if n := launches.Load(); n != 2 {
		t.Errorf("launches = %d, want 2", n)
	}
}

func TestRodCapturer_SharedLaunch(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var launches atomic.Int32
	want := rod.New()
	r := newRodCapturer(config.BrowserConfig{})
	r.launch = func() (*rod.Browser, func(), error) {
		launches.Add(1)
		<-release
		return want, nil, nil
	}

	const callers = 4
	var wg sync.WaitGroup
	got := make([]*rod.Browser, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], _ = r.browserFor(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := launches.Load(); n != 1 {
		t.Errorf("launches = %d, want 1", n)
	}
	for i, b := range got {
		if b != want {
			t.Errorf("caller %d got %p, want the launched browser", i, b)
		}
	}
}

func TestRodCapturer_CloseDuringLaunch(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	r := newRodCapturer(config.BrowserConfig{})
	r.launch = func() (*rod.Browser, func(), error) {
		<-release
		return nil, nil, ErrBrowserConnect
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.browserFor(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrBrowserConnect) {
		t.Errorf("browserFor() error = %v, want %v", err, ErrBrowserConnect)
	}
	if _, err := r.browserFor(context.Background()); !errors.Is(err, ErrBrowserConnect) {
		t.Errorf("browserFor() after Close error = %v, want %v", err, ErrBrowserConnect)
	}
}
