package pdfrender

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/alnah/go-pdfrender/internal/assets"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/fileutil"
	"github.com/alnah/go-pdfrender/internal/process"
)

// Viewer viewport in CSS pixels (US Letter at 96 dpi).
const (
	viewerWidth  = 816
	viewerHeight = 1056

	// maxBrowserPages caps screenshots per document.
	maxBrowserPages = 50
)

// viewerData fills the viewer template.
type viewerData struct {
	Title  string
	Width  int
	Height int
	Source string
	Page   int
}

// pageCapturer abstracts browser capture of a viewer page to enable
// testing without a browser.
type pageCapturer interface {
	Capture(ctx context.Context, fileURL string, timeout time.Duration) ([]byte, error)
	Close() error
}

var (
	_ methodRunner = (*browserRenderer)(nil)
	_ pageCapturer = (*rodCapturer)(nil)
)

// browserRenderer displays the document in the browser's built-in PDF
// viewer and screenshots each page.
type browserRenderer struct {
	cfg      *config.Manager
	capturer pageCapturer
	viewer   *template.Template
	logger   *slog.Logger
}

// newBrowserRenderer parses the viewer template found by loader.
func newBrowserRenderer(cfg *config.Manager, loader assets.AssetLoader, capturer pageCapturer, logger *slog.Logger) (*browserRenderer, error) {
	src, err := loader.LoadTemplate(assets.ViewerTemplateName)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(assets.ViewerTemplateName).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing viewer template: %w", err)
	}
	return &browserRenderer{cfg: cfg, capturer: capturer, viewer: tmpl, logger: logger}, nil
}

func (r *browserRenderer) Render(ctx context.Context, rc *RenderContext) ([]Page, error) {
	source := rc.URL
	if len(rc.Document) > 0 {
		path, cleanup, err := fileutil.WriteTempFile(string(rc.Document), "pdf")
		if err != nil {
			return nil, atStage(StageFetching, err)
		}
		defer cleanup()
		source = fileURL(path)
	}

	n := 1
	if rc.Characteristics != nil && rc.Characteristics.PageCount > 0 {
		n = min(rc.Characteristics.PageCount, maxBrowserPages)
	}
	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Snapshot().Rendering.Timeout()
	}

	pages := make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := r.capturePage(ctx, source, i, timeout)
		if err != nil {
			return nil, atStage(StageRendering, err)
		}
		p := Page{Number: i, Width: viewerWidth, Height: viewerHeight, Format: FormatPNG, Data: data}
		pages = append(pages, p)
		rc.report(StageRendering, float64(i)/float64(n)*100)
		if rc.Options.OnPage != nil && streamingEnabled(rc) {
			rc.Options.OnPage(p)
		}
	}
	return pages, nil
}

// capturePage writes the viewer for one page and screenshots it.
func (r *browserRenderer) capturePage(ctx context.Context, source string, page int, timeout time.Duration) ([]byte, error) {
	var buf bytes.Buffer
	err := r.viewer.Execute(&buf, viewerData{
		Title:  "Document",
		Width:  viewerWidth,
		Height: viewerHeight,
		Source: source,
		Page:   page,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering viewer template: %w", err)
	}
	path, cleanup, err := fileutil.WriteTempFile(buf.String(), "html")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return r.capturer.Capture(ctx, fileURL(path), timeout)
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// rodCapturer implements pageCapturer using go-rod.
// Rod automatically downloads Chromium on first run if not found.
type rodCapturer struct {
	bin       string
	noSandbox bool

	// launch starts and connects a browser; kill releases its process.
	launch func() (browser *rod.Browser, kill func(), err error)

	mu        sync.Mutex
	browser   *rod.Browser
	kill      func()
	launching *browserLaunch
	closed    bool
}

// browserLaunch is one in-flight launch shared by every waiting capture.
type browserLaunch struct {
	done chan struct{}
	err  error
}

// newRodCapturer reads the browser settings from cfg.
func newRodCapturer(cfg config.BrowserConfig) *rodCapturer {
	r := &rodCapturer{bin: cfg.Bin, noSandbox: cfg.NoSandbox}
	r.launch = r.launchChrome
	return r
}

// launchChrome starts Chrome and connects to it.
func (r *rodCapturer) launchChrome() (*rod.Browser, func(), error) {
	l := launcher.New()
	if r.bin != "" {
		l = l.Bin(r.bin)
	}
	// NoSandbox required for CI and containerized environments
	if r.noSandbox {
		l = l.NoSandbox(true)
	}
	kill := func() {
		process.KillProcessGroup(l.PID())
		l.Kill()
	}
	u, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		kill()
		return nil, nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	return browser, kill, nil
}

// browserFor returns the shared browser, launching it on first use.
// The launch runs without the lock; callers wait for it until ctx ends.
// A failed launch is retried by the next caller.
func (r *rodCapturer) browserFor(ctx context.Context) (*rod.Browser, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: capturer closed", ErrBrowserConnect)
	}
	if r.browser != nil {
		b := r.browser
		r.mu.Unlock()
		return b, nil
	}
	bl := r.launching
	if bl == nil {
		bl = &browserLaunch{done: make(chan struct{})}
		r.launching = bl
		go r.runLaunch(bl)
	}
	r.mu.Unlock()

	select {
	case <-bl.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if bl.err != nil {
		return nil, bl.err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil, fmt.Errorf("%w: capturer closed", ErrBrowserConnect)
	}
	return r.browser, nil
}

func (r *rodCapturer) runLaunch(bl *browserLaunch) {
	browser, kill, err := r.launch()

	r.mu.Lock()
	r.launching = nil
	switch {
	case err != nil:
		bl.err = err
	case r.closed:
		bl.err = fmt.Errorf("%w: capturer closed", ErrBrowserConnect)
	default:
		r.browser, r.kill = browser, kill
	}
	closed := r.closed
	r.mu.Unlock()

	if err == nil && closed {
		_ = browser.Close()
		if kill != nil {
			kill()
		}
	}
	close(bl.done)
}

// Capture opens fileURL and returns a PNG screenshot of the viewport.
func (r *rodCapturer) Capture(ctx context.Context, fileURL string, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := r.browserFor(ctx)
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: fileURL})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewerWidth,
		Height:            viewerHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageLoad, err)
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageLoad, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenshot, err)
	}
	return data, nil
}

// Close releases browser resources and kills the browser process group.
// A launch still in flight is torn down when it completes.
func (r *rodCapturer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	if r.kill != nil {
		r.kill()
	}
	r.browser = nil
	r.kill = nil
	return err
}
